package history

import (
	"math"
	"time"
)

const (
	// MaxCheckpointWeight is the weight of the heaviest bucket in a checkpoint
	MaxCheckpointWeight uint32 = 10000

	minCPUBucketSize = 0.01
	cpuBucketRatio   = 1.05
	maxCPUCores      = 1000.0
	minSampleWeight  = 0.1
)

// histogram has exponentially growing buckets: bucket i starts at
// firstBucketSize * (ratio^i - 1) / (ratio - 1).
type histogram struct {
	firstBucketSize float64
	ratio           float64
	numBuckets      int
	weights         []float64
	totalWeight     float64
}

func newCPUHistogram() *histogram {
	n := int(math.Ceil(math.Log(maxCPUCores*(cpuBucketRatio-1)/minCPUBucketSize+1)/math.Log(cpuBucketRatio))) + 1
	return &histogram{
		firstBucketSize: minCPUBucketSize,
		ratio:           cpuBucketRatio,
		numBuckets:      n,
		weights:         make([]float64, n),
	}
}

func (h *histogram) bucket(value float64) int {
	if value < h.firstBucketSize {
		return 0
	}
	b := int(math.Log(value*(h.ratio-1)/h.firstBucketSize+1) / math.Log(h.ratio))
	if b >= h.numBuckets {
		return h.numBuckets - 1
	}
	return b
}

func (h *histogram) add(value, weight float64) {
	if weight < minSampleWeight {
		weight = minSampleWeight
	}
	h.weights[h.bucket(value)] += weight
	h.totalWeight += weight
}

func (h *histogram) checkpoint(reference time.Time) HistogramCheckpoint {
	cp := HistogramCheckpoint{
		ReferenceTimestamp: reference,
		BucketWeights:      make(map[int]uint32),
		TotalWeight:        h.totalWeight,
	}

	var maxWeight float64
	for _, w := range h.weights {
		maxWeight = math.Max(maxWeight, w)
	}
	if maxWeight == 0 {
		return cp
	}

	ratio := float64(MaxCheckpointWeight) / maxWeight
	for i, w := range h.weights {
		if scaled := uint32(math.Round(w * ratio)); scaled > 0 {
			cp.BucketWeights[i] = scaled
		}
	}
	return cp
}
