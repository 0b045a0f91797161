package cluster

import "fmt"

// HotRegion is one connected component of hot cells from a single
// clustering pass. ClusterID is pass-local: the next pass rebuilds every
// region from scratch and reassigns ids from zero.
type HotRegion struct {
	ClusterID   int
	World       string
	Cells       map[CellKey]struct{}
	TotalAgents int

	MinX, MaxX int
	MinZ, MaxZ int
}

func newHotRegion(id int, world string, cells []CellKey, density map[CellKey]int) *HotRegion {
	r := &HotRegion{
		ClusterID: id,
		World:     world,
		Cells:     make(map[CellKey]struct{}, len(cells)),
	}
	first := true
	for _, k := range cells {
		r.Cells[k] = struct{}{}
		r.TotalAgents += density[k]
		if first {
			r.MinX, r.MaxX = k.X, k.X
			r.MinZ, r.MaxZ = k.Z, k.Z
			first = false
			continue
		}
		if k.X < r.MinX {
			r.MinX = k.X
		}
		if k.X > r.MaxX {
			r.MaxX = k.X
		}
		if k.Z < r.MinZ {
			r.MinZ = k.Z
		}
		if k.Z > r.MaxZ {
			r.MaxZ = k.Z
		}
	}
	return r
}

// Area of the bounding box in cells. Always >= 1 for a non-empty region.
func (r *HotRegion) Area() int {
	return (r.MaxX - r.MinX + 1) * (r.MaxZ - r.MinZ + 1)
}

func (r *HotRegion) Density() float64 {
	return float64(r.TotalAgents) / float64(r.Area())
}

// Key is the logical region key used by budget and policy bookkeeping.
// It may bind to a different (or no) region after the next pass; owners of
// per-key state garbage-collect keys that stop being reported.
func (r *HotRegion) Key() string {
	return fmt.Sprintf("%s:%d", r.World, r.ClusterID)
}

// ContainsCell tests the bounding box, not exact cell membership.
func (r *HotRegion) ContainsCell(k CellKey) bool {
	return k.World == r.World &&
		k.X >= r.MinX && k.X <= r.MaxX &&
		k.Z >= r.MinZ && k.Z <= r.MaxZ
}

func (r *HotRegion) String() string {
	return fmt.Sprintf("HotRegion{id=%d world=%s agents=%d area=%d bounds=(%d,%d)-(%d,%d)}",
		r.ClusterID, r.World, r.TotalAgents, r.Area(), r.MinX, r.MinZ, r.MaxX, r.MaxZ)
}
