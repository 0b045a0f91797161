// Package capability describes what the host runtime can do. The set is
// resolved once at startup and injected into the components that need it,
// so nothing consults process-wide state and tests can hand in fakes.
package capability

import "strings"

type Set struct {
	ViewDistanceControl       bool
	SimulationDistanceControl bool
	RegionizedScheduling      bool
}

// Resolve interprets the configured regionized mode ("auto"/"true"/
// "false") against what the host actually reports.
func Resolve(mode string, hostRegionized bool) Set {
	s := Set{
		ViewDistanceControl:       true,
		SimulationDistanceControl: true,
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "true":
		s.RegionizedScheduling = true
	case "false":
		s.RegionizedScheduling = false
	default: // auto
		s.RegionizedScheduling = hostRegionized
	}
	return s
}

func (s Set) String() string {
	var parts []string
	if s.ViewDistanceControl {
		parts = append(parts, "view-distance")
	}
	if s.SimulationDistanceControl {
		parts = append(parts, "simulation-distance")
	}
	if s.RegionizedScheduling {
		parts = append(parts, "regionized")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}
