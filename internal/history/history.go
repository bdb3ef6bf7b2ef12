// Package history keeps the long-running per-container usage state consumed by
// right-sizing recommenders.
package history

import "time"

// State accumulates usage samples of one container until it is checkpointed
type State interface {
	AddCPUSample(cores float64, timestamp time.Time)
	AddMemorySample(bytes int64, timestamp time.Time)
	Checkpoint() Checkpoint
}

// HistogramCheckpoint is a serializable snapshot of a usage histogram.
// Bucket weights are normalized so the heaviest bucket is MaxCheckpointWeight.
type HistogramCheckpoint struct {
	ReferenceTimestamp time.Time      `json:"referenceTimestamp,omitempty"`
	BucketWeights      map[int]uint32 `json:"bucketWeights"`
	TotalWeight        float64        `json:"totalWeight"`
}

// Checkpoint is the snapshot of a container's State
type Checkpoint struct {
	CPUHistogram      HistogramCheckpoint `json:"cpuHistogram"`
	MemoryPeakBytes   int64               `json:"memoryPeakBytes"`
	MemoryPeakTime    time.Time           `json:"memoryPeakTime"`
	FirstSampleStart  time.Time           `json:"firstSampleStart"`
	LastSampleStart   time.Time           `json:"lastSampleStart"`
	TotalSamplesCount int                 `json:"totalSamplesCount"`
}

// Factory creates an empty State. The collector calls it once per container.
type Factory func() State
