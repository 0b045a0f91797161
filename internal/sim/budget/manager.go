package budget

import (
	"sync"
	"time"

	"github.com/suegt/dynregionperf/internal/sim/cluster"
)

// Agent is a tracked mobile entity: an id plus its current position.
type Agent struct {
	ID  string
	Pos cluster.Position
}

const (
	// loadRadius / predictedRadius: chunks pre-loaded around an agent's
	// current and predicted positions, in chunks.
	loadRadius      = 2
	predictedRadius = 1

	// priorityBlocks: chunks within this block distance of an agent are
	// queued ahead of farther ones. 4 chunks.
	priorityBlocks = 4 * chunkBlocks

	// coldBlocks: chunks with no agent inside this block distance are
	// eligible for aggressive unload. 8 chunks.
	coldBlocks = 8 * chunkBlocks
)

// regionState is the per-logical-region-key bookkeeping: a token counter,
// its replenish timestamp, and the chunk sets the manager is driving.
type regionState struct {
	tokens        int
	lastReplenish time.Time

	loaded        map[ChunkKey]struct{}
	pendingLoad   []ChunkKey
	inPendingLoad map[ChunkKey]struct{}
	pendingUnload map[ChunkKey]struct{}
}

func newRegionState(now time.Time) *regionState {
	return &regionState{
		lastReplenish: now,
		loaded:        map[ChunkKey]struct{}{},
		inPendingLoad: map[ChunkKey]struct{}{},
		pendingUnload: map[ChunkKey]struct{}{},
	}
}

// Manager turns hot regions into a rate-limited stream of chunk
// load/unload decisions. All per-region state is owned here; consumers may
// only read derived statistics.
type Manager struct {
	ratePerRegionPerSec int
	ticksPerSecond      int
	grid                *cluster.Grid
	ops                 ChunkOps

	now func() time.Time

	mu        sync.Mutex
	regions   map[string]*regionState
	movements map[string]*movementState
	rateAdj   int
}

func NewManager(ratePerRegionPerSec, ticksPerSecond int, grid *cluster.Grid, ops ChunkOps) *Manager {
	if ratePerRegionPerSec < 1 {
		ratePerRegionPerSec = 1
	}
	if ticksPerSecond < 1 {
		ticksPerSecond = 20
	}
	return &Manager{
		ratePerRegionPerSec: ratePerRegionPerSec,
		ticksPerSecond:      ticksPerSecond,
		grid:                grid,
		ops:                 ops,
		now:                 time.Now,
		regions:             map[string]*regionState{},
		movements:           map[string]*movementState{},
	}
}

// SetRateAdjustment applies the controller's chunk-budget delta. The
// effective per-region rate never drops below one chunk per second.
func (m *Manager) SetRateAdjustment(delta int) {
	m.mu.Lock()
	m.rateAdj = delta
	m.mu.Unlock()
}

func (m *Manager) effectiveRate() int {
	r := m.ratePerRegionPerSec + m.rateAdj
	if r < 1 {
		r = 1
	}
	return r
}

// UpdateBudgets replenishes token counters for every reported region and
// purges state for keys no longer reported. Replenishment has one-second
// granularity: sub-second cycles accumulate nothing, avoiding
// fractional-token drift.
func (m *Manager) UpdateBudgets(regions []*cluster.HotRegion) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	live := make(map[string]bool, len(regions))
	for _, r := range regions {
		key := r.Key()
		live[key] = true

		st, ok := m.regions[key]
		if !ok {
			m.regions[key] = newRegionState(now)
			continue
		}
		elapsed := now.Sub(st.lastReplenish)
		if elapsed >= time.Second {
			st.tokens += int(elapsed.Seconds()) * m.effectiveRate()
			st.lastReplenish = now
		}
	}

	for key := range m.regions {
		if !live[key] {
			delete(m.regions, key)
		}
	}
}

// ProcessRegionChunks runs one decision cycle for a region. The order is
// load-bearing for stability under bursty load: mark unloads, drain
// unloads (each returns a token), drain loads under both the token budget
// and the per-cycle ceiling, then queue newly required chunks with nearby
// ones first.
func (m *Manager) ProcessRegionChunks(region *cluster.HotRegion, agents []Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.regions[region.Key()]
	if !ok {
		return
	}

	required := m.requiredChunks(region, agents)

	// 1. Loaded chunks no longer required go to pending-unload, unless a
	// load for the same chunk is still queued (avoids load/unload thrash
	// within one cycle).
	for ck := range st.loaded {
		if _, need := required[ck]; need {
			continue
		}
		if _, queued := st.inPendingLoad[ck]; queued {
			continue
		}
		st.pendingUnload[ck] = struct{}{}
	}

	// 2. Unloads first: each success returns a token. Capped so the
	// counter never runs past the per-second rate.
	rate := m.effectiveRate()
	for ck := range st.pendingUnload {
		if st.tokens >= rate {
			break
		}
		if !m.ops.Unload(ck) {
			continue // stays pending, retried next cycle
		}
		delete(st.loaded, ck)
		delete(st.pendingUnload, ck)
		st.tokens++
	}

	// 3. Loads, under the token budget and a hard per-cycle ceiling. The
	// ceiling keeps a burst of loads from landing inside one simulation
	// tick; it is stricter than the budget on purpose.
	ceiling := rate / m.ticksPerSecond
	if ceiling < 1 {
		ceiling = 1
	}
	loads := 0
	remaining := st.pendingLoad[:0]
	for i, ck := range st.pendingLoad {
		if st.tokens <= 0 || loads >= ceiling {
			remaining = append(remaining, st.pendingLoad[i:]...)
			break
		}
		if !m.ops.Load(ck) {
			remaining = append(remaining, ck) // retry next cycle
			continue
		}
		st.loaded[ck] = struct{}{}
		delete(st.inPendingLoad, ck)
		st.tokens--
		loads++
	}
	st.pendingLoad = remaining

	// 4. Queue newly required chunks, near ones ahead of far ones.
	// Priority affects insertion order only.
	var near, far []ChunkKey
	for ck := range required {
		if _, have := st.loaded[ck]; have {
			continue
		}
		if _, queued := st.inPendingLoad[ck]; queued {
			continue
		}
		if chunkNearAgent(ck, agents, priorityBlocks) {
			near = append(near, ck)
		} else {
			far = append(far, ck)
		}
	}
	for _, ck := range near {
		st.pendingLoad = append(st.pendingLoad, ck)
		st.inPendingLoad[ck] = struct{}{}
	}
	for _, ck := range far {
		st.pendingLoad = append(st.pendingLoad, ck)
		st.inPendingLoad[ck] = struct{}{}
	}
}

// requiredChunks covers a radius around each in-world agent plus a smaller
// radius around its predicted position. Caller holds m.mu.
func (m *Manager) requiredChunks(region *cluster.HotRegion, agents []Agent) map[ChunkKey]struct{} {
	required := map[ChunkKey]struct{}{}
	for _, a := range agents {
		if a.Pos.World != region.World {
			continue
		}
		addChunksAround(required, a.Pos, loadRadius)
		if mv, ok := m.movements[a.ID]; ok {
			addChunksAround(required, mv.predicted(), predictedRadius)
		}
	}
	return required
}

func addChunksAround(set map[ChunkKey]struct{}, p cluster.Position, radius int) {
	center := chunkAt(p.World, p.X, p.Z)
	for x := center.X - radius; x <= center.X+radius; x++ {
		for z := center.Z - radius; z <= center.Z+radius; z++ {
			set[ChunkKey{World: p.World, X: x, Z: z}] = struct{}{}
		}
	}
}

func chunkNearAgent(ck ChunkKey, agents []Agent, maxBlocks float64) bool {
	for _, a := range agents {
		if a.Pos.World != ck.World {
			continue
		}
		if blockDistanceToChunk(a.Pos.X, a.Pos.Z, ck) < maxBlocks {
			return true
		}
	}
	return false
}

// AggressiveUnloadColdRegions immediately unloads every loaded chunk with
// no agent within 8 chunks, bypassing all rate caps. Emergency relief
// valve driven by the controller's aggressive-unload flag.
func (m *Manager) AggressiveUnloadColdRegions(agents []Agent) {
	worlds := map[string]bool{}
	for _, a := range agents {
		if a.Pos.World != "" {
			worlds[a.Pos.World] = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for world := range worlds {
		for _, ck := range m.ops.Loaded(world) {
			if chunkNearAgent(ck, agents, coldBlocks) {
				continue
			}
			if !m.ops.Unload(ck) {
				continue
			}
			for _, st := range m.regions {
				delete(st.loaded, ck)
				delete(st.pendingUnload, ck)
			}
		}
	}
}

// UpdateAgentMovement records a position observation for an agent,
// creating its movement state on first sight.
func (m *Manager) UpdateAgentMovement(id string, pos cluster.Position) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	mv, ok := m.movements[id]
	if !ok {
		m.movements[id] = newMovementState(pos, now)
		return
	}
	mv.observe(pos, now)
}

// RemoveAgentMovement drops tracking for an agent that left.
func (m *Manager) RemoveAgentMovement(id string) {
	m.mu.Lock()
	delete(m.movements, id)
	m.mu.Unlock()
}

// PredictedPosition returns the extrapolated position for an agent, if
// tracked.
func (m *Manager) PredictedPosition(id string) (cluster.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv, ok := m.movements[id]
	if !ok {
		return cluster.Position{}, false
	}
	return mv.predicted(), true
}

// BudgetFor reports the current token counter for a region, zero if the
// key is unknown.
func (m *Manager) BudgetFor(region *cluster.HotRegion) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.regions[region.Key()]; ok {
		return st.tokens
	}
	return 0
}

// LoadedCount reports chunks this manager holds loaded for one region.
func (m *Manager) LoadedCount(region *cluster.HotRegion) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.regions[region.Key()]; ok {
		return len(st.loaded)
	}
	return 0
}

// TotalLoadedCount sums loaded chunks across all tracked regions.
func (m *Manager) TotalLoadedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, st := range m.regions {
		total += len(st.loaded)
	}
	return total
}

// TrackedRegionCount reports how many logical region keys currently hold
// state.
func (m *Manager) TrackedRegionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regions)
}
