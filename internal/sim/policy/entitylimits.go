package policy

import (
	"math"
	"sort"
	"sync"

	"github.com/suegt/dynregionperf/internal/sim/budget"
	"github.com/suegt/dynregionperf/internal/sim/cluster"
	"github.com/suegt/dynregionperf/internal/sim/tuning"
)

// EntityKind buckets entities for capping purposes.
type EntityKind int

const (
	KindOther EntityKind = iota
	KindMob
	KindAnimal
	KindProjectile
)

// Entity is the host's view of one simulated entity.
type Entity struct {
	ID   string
	Kind EntityKind
	Pos  cluster.Position
}

// Limits for one region key. Hot regions are uncapped; cold world keys
// carry the configured caps.
type Limits struct {
	MaxMobs         int
	MaxAnimals      int
	MaxProjectiles  int
	RandomTickScale float64
}

const uncapped = math.MaxInt

// Limiter derives per-region entity caps and picks cull candidates for
// cold areas. It decides; the host removes. Table lookups only, no
// algorithmic depth.
type Limiter struct {
	grid     *cluster.Grid
	coldCaps tuning.ColdCaps
	scale    tuning.RandomTickScale

	mu     sync.Mutex
	limits map[string]Limits
}

func NewLimiter(grid *cluster.Grid, coldCaps tuning.ColdCaps, scale tuning.RandomTickScale) *Limiter {
	return &Limiter{
		grid:     grid,
		coldCaps: coldCaps,
		scale:    scale,
		limits:   map[string]Limits{},
	}
}

// UpdateLimits rebuilds the limit table for this pass and drops keys no
// longer backed by a region or world.
func (l *Limiter) UpdateLimits(regions []*cluster.HotRegion, worlds []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	live := map[string]bool{}
	for _, r := range regions {
		key := "hot:" + r.Key()
		live[key] = true
		l.limits[key] = Limits{
			MaxMobs:         uncapped,
			MaxAnimals:      uncapped,
			MaxProjectiles:  uncapped,
			RandomTickScale: l.scale.Hot,
		}
	}
	for _, w := range worlds {
		key := "cold:" + w
		live[key] = true
		l.limits[key] = Limits{
			MaxMobs:         l.coldCaps.Mobs,
			MaxAnimals:      l.coldCaps.Animals,
			MaxProjectiles:  l.coldCaps.Projectiles,
			RandomTickScale: l.scale.Cold,
		}
	}

	for key := range l.limits {
		if !live[key] {
			delete(l.limits, key)
		}
	}
}

// LimitsFor returns the limit entry for a key, if tracked.
func (l *Limiter) LimitsFor(key string) (Limits, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limits[key]
	return lim, ok
}

// RandomTickScale for a position: hot scale inside a region box, cold
// scale outside.
func (l *Limiter) RandomTickScale(pos cluster.Position, regions []*cluster.HotRegion) float64 {
	if l.grid.InRegions(pos, regions) {
		return l.scale.Hot
	}
	return l.scale.Cold
}

// CullList selects the cold entities of one world that exceed the cold
// caps, farthest from any agent first. Hot-region entities are never
// candidates. The host performs the actual removal.
func (l *Limiter) CullList(world string, entities []Entity, agents []budget.Agent, regions []*cluster.HotRegion) []Entity {
	lim, ok := l.LimitsFor("cold:" + world)
	if !ok {
		return nil
	}

	byKind := map[EntityKind][]Entity{}
	for _, e := range entities {
		if e.Pos.World != world || e.Kind == KindOther {
			continue
		}
		if l.grid.InRegions(e.Pos, regions) {
			continue
		}
		byKind[e.Kind] = append(byKind[e.Kind], e)
	}

	var out []Entity
	out = append(out, overCap(byKind[KindMob], lim.MaxMobs, agents)...)
	out = append(out, overCap(byKind[KindAnimal], lim.MaxAnimals, agents)...)
	out = append(out, overCap(byKind[KindProjectile], lim.MaxProjectiles, agents)...)
	return out
}

func overCap(cold []Entity, limit int, agents []budget.Agent) []Entity {
	if len(cold) <= limit {
		return nil
	}
	sort.Slice(cold, func(i, j int) bool {
		return nearestAgentDistance(cold[i].Pos, agents) > nearestAgentDistance(cold[j].Pos, agents)
	})
	return cold[:len(cold)-limit]
}

func nearestAgentDistance(pos cluster.Position, agents []budget.Agent) float64 {
	nearest := math.MaxFloat64
	for _, a := range agents {
		if a.Pos.World != pos.World {
			continue
		}
		d := math.Hypot(pos.X-a.Pos.X, pos.Z-a.Pos.Z)
		if d < nearest {
			nearest = d
		}
	}
	if nearest == math.MaxFloat64 {
		return 0
	}
	return nearest
}
