package cluster

import "sort"

// Cluster marks dense cells hot and connects adjacent hot cells into
// regions via flood fill over the 8-neighborhood, restricted to cells of
// the same world. Cluster ids are assigned in scan order starting at zero
// and are only meaningful within this pass.
func (g *Grid) Cluster(density map[CellKey]int) []*HotRegion {
	states := make(map[CellKey]*CellState, len(density))
	hot := make([]CellKey, 0, len(density))
	for k, count := range density {
		st := &CellState{Count: count, ClusterID: unassigned}
		st.Hot = count >= g.hotThreshold
		states[k] = st
		if st.Hot {
			hot = append(hot, k)
		}
	}
	if len(hot) == 0 {
		return nil
	}

	// Deterministic scan order so cluster ids are stable for equal input.
	sort.Slice(hot, func(i, j int) bool {
		a, b := hot[i], hot[j]
		if a.World != b.World {
			return a.World < b.World
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Z < b.Z
	})

	var regions []*HotRegion
	nextID := 0
	var queue []CellKey
	for _, start := range hot {
		if states[start].ClusterID != unassigned {
			continue
		}
		states[start].ClusterID = nextID
		queue = append(queue[:0], start)
		var members []CellKey

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			members = append(members, cur)

			for dx := -1; dx <= 1; dx++ {
				for dz := -1; dz <= 1; dz++ {
					if dx == 0 && dz == 0 {
						continue
					}
					nk := CellKey{X: cur.X + dx, Z: cur.Z + dz, World: cur.World}
					ns, ok := states[nk]
					if !ok || !ns.Hot || ns.ClusterID != unassigned {
						continue
					}
					ns.ClusterID = nextID
					queue = append(queue, nk)
				}
			}
		}

		regions = append(regions, newHotRegion(nextID, start.World, members, density))
		nextID++
	}
	return regions
}

// InRegions reports whether a position falls inside any region of its
// world. This is a bounding-box test, not exact cell membership: a cell
// inside the box of a concave cluster counts as inside even when it is not
// a member cell. Deliberate coarse-graining; downstream policy tuning
// assumes the box semantics, so do not tighten this to exact shape.
func (g *Grid) InRegions(p Position, regions []*HotRegion) bool {
	return g.RegionAt(p, regions) != nil
}

// RegionAt returns the first region whose bounding box contains the
// position's cell, or nil. Same box semantics as InRegions.
func (g *Grid) RegionAt(p Position, regions []*HotRegion) *HotRegion {
	cell := g.CellOf(p)
	for _, r := range regions {
		if r.ContainsCell(cell) {
			return r
		}
	}
	return nil
}
