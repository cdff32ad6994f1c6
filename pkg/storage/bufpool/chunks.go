package bufpool

// ChunkRange is one contiguous byte range of a planned transfer.
type ChunkRange struct {
	Index int
	Start int64
	Size  int64
}

// End returns the exclusive end offset of the range.
func (c ChunkRange) End() int64 {
	return c.Start + c.Size
}

// PlannerConfig tunes chunk planning.
type PlannerConfig struct {
	// MinParallelSize is the file size below which a single chunk is used.
	MinParallelSize int64
	// MaxChunks caps how many ranges a plan may contain.
	MaxChunks int
	// TargetChunkSize is the preferred bytes per chunk.
	TargetChunkSize int64
}

// PlanChunks partitions [0, fileSize) into contiguous non-empty ranges.
// Files below the parallel threshold get a single range. Otherwise the
// count is ceil(size/target) capped at MaxChunks, sizes split evenly with
// the last chunk absorbing the remainder. The ranges always sum to
// fileSize.
func PlanChunks(fileSize int64, cfg PlannerConfig) []ChunkRange {
	if fileSize < cfg.MinParallelSize || cfg.MaxChunks <= 1 || cfg.TargetChunkSize <= 0 {
		return []ChunkRange{{Index: 0, Start: 0, Size: fileSize}}
	}

	count := int((fileSize + cfg.TargetChunkSize - 1) / cfg.TargetChunkSize)
	if count > cfg.MaxChunks {
		count = cfg.MaxChunks
	}
	if count <= 1 {
		return []ChunkRange{{Index: 0, Start: 0, Size: fileSize}}
	}

	chunkSize := (fileSize + int64(count) - 1) / int64(count)
	// Capping can leave the even split covering fileSize in fewer ranges;
	// recompute so no trailing range comes out empty.
	count = int((fileSize + chunkSize - 1) / chunkSize)
	chunks := make([]ChunkRange, 0, count)
	var start int64
	for i := 0; i < count; i++ {
		size := chunkSize
		if i == count-1 {
			size = fileSize - start
		}
		chunks = append(chunks, ChunkRange{Index: i, Start: start, Size: size})
		start += size
	}
	return chunks
}
