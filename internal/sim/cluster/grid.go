package cluster

import "math"

// Position is a point in a named world. Vertical coordinate is irrelevant
// to density aggregation and is not carried.
type Position struct {
	World string
	X     float64
	Z     float64
}

// CellKey identifies one density grid cell. It is immutable and safe to use
// as a map key; all mutable per-cell data lives in CellState.
type CellKey struct {
	X     int
	Z     int
	World string
}

// CellState is the per-cell record built up during a clustering pass.
type CellState struct {
	Count     int
	Hot       bool
	ClusterID int
}

const unassigned = -1

// Grid maps continuous positions onto a fixed-size square cell grid and
// clusters dense cells into hot regions.
type Grid struct {
	size         int
	hotThreshold int
}

func NewGrid(size, hotThreshold int) *Grid {
	if size <= 0 {
		size = 64
	}
	if hotThreshold < 1 {
		hotThreshold = 1
	}
	return &Grid{size: size, hotThreshold: hotThreshold}
}

func (g *Grid) Size() int { return g.size }

func (g *Grid) HotThreshold() int { return g.hotThreshold }

// CellOf maps a position to its cell. Floor division, so negative
// coordinates land in the correct cell rather than truncating toward zero.
func (g *Grid) CellOf(p Position) CellKey {
	return CellKey{
		X:     int(math.Floor(p.X / float64(g.size))),
		Z:     int(math.Floor(p.Z / float64(g.size))),
		World: p.World,
	}
}

// BuildDensityMap counts agents per cell. Positions without a world are
// skipped; they have no cell to land in.
func (g *Grid) BuildDensityMap(agents []Position) map[CellKey]int {
	density := make(map[CellKey]int, len(agents))
	for _, p := range agents {
		if p.World == "" {
			continue
		}
		density[g.CellOf(p)]++
	}
	return density
}

// GridDistance is the Euclidean distance between two positions measured in
// cell coordinates. Positions in different worlds are not comparable; the
// second return is false in that case.
func (g *Grid) GridDistance(a, b Position) (float64, bool) {
	if a.World == "" || a.World != b.World {
		return 0, false
	}
	ca := g.CellOf(a)
	cb := g.CellOf(b)
	dx := float64(ca.X - cb.X)
	dz := float64(ca.Z - cb.Z)
	return math.Sqrt(dx*dx + dz*dz), true
}
