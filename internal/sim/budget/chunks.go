package budget

import "math"

// chunkBlocks is the edge length of one resource tile in blocks.
const chunkBlocks = 16

// ChunkKey identifies one fixed-size resource tile in a world.
type ChunkKey struct {
	World string
	X     int
	Z     int
}

// ChunkOps is the host's chunk loader. The manager only decides when and
// where; actual I/O stays with the host. Either operation may report
// failure (busy, already in the target state); the manager retries the
// chunk next cycle.
type ChunkOps interface {
	Load(ChunkKey) bool
	Unload(ChunkKey) bool
	// Loaded lists every chunk currently loaded in a world, used by the
	// aggressive-unload escape valve which sweeps beyond region-tracked
	// chunks.
	Loaded(world string) []ChunkKey
}

func chunkAt(world string, x, z float64) ChunkKey {
	return ChunkKey{
		World: world,
		X:     int(math.Floor(x / chunkBlocks)),
		Z:     int(math.Floor(z / chunkBlocks)),
	}
}

// blockDistanceToChunk is the distance from a point to a chunk's origin
// corner, in blocks. Mirrors the host-side proximity checks which measure
// against the chunk origin rather than its center.
func blockDistanceToChunk(x, z float64, ck ChunkKey) float64 {
	ox := float64(ck.X * chunkBlocks)
	oz := float64(ck.Z * chunkBlocks)
	dx := x - ox
	dz := z - oz
	return math.Sqrt(dx*dx + dz*dz)
}
