package budget

import (
	"time"

	"github.com/suegt/dynregionperf/internal/sim/cluster"
)

// predictionHorizon is how far ahead of an agent's current heading chunks
// are pre-loaded.
const predictionHorizon = 2 * time.Second

// movementState tracks one agent's last observed position and derived
// velocity for predictive loading.
type movementState struct {
	last     cluster.Position
	lastSeen time.Time

	velX, velZ   float64 // blocks per second
	predX, predZ float64
}

func newMovementState(p cluster.Position, now time.Time) *movementState {
	return &movementState{
		last:     p,
		lastSeen: now,
		predX:    p.X,
		predZ:    p.Z,
	}
}

// observe updates velocity and the predicted position. A zero elapsed time
// (duplicate same-tick observation) keeps the prior velocity instead of
// dividing by zero.
func (m *movementState) observe(p cluster.Position, now time.Time) {
	dt := now.Sub(m.lastSeen).Seconds()
	if dt > 0 {
		m.velX = (p.X - m.last.X) / dt
		m.velZ = (p.Z - m.last.Z) / dt
		m.predX = p.X + m.velX*predictionHorizon.Seconds()
		m.predZ = p.Z + m.velZ*predictionHorizon.Seconds()
	}
	m.last = p
	m.lastSeen = now
}

func (m *movementState) predicted() cluster.Position {
	return cluster.Position{World: m.last.World, X: m.predX, Z: m.predZ}
}
