package history

import "time"

// ContainerState is the default State: a CPU usage histogram plus the memory peak
type ContainerState struct {
	cpu *histogram

	memoryPeak     int64
	memoryPeakTime time.Time

	firstSampleStart time.Time
	lastSampleStart  time.Time
	totalSamples     int
}

// NewContainerState returns an empty ContainerState
func NewContainerState() State {
	return &ContainerState{cpu: newCPUHistogram()}
}

// AddCPUSample records a CPU usage sample in cores. First/last sample times and
// the sample count follow CPU samples only.
func (s *ContainerState) AddCPUSample(cores float64, timestamp time.Time) {
	if cores < 0 {
		return
	}
	s.cpu.add(cores, minSampleWeight)

	if s.firstSampleStart.IsZero() || timestamp.Before(s.firstSampleStart) {
		s.firstSampleStart = timestamp
	}
	if timestamp.After(s.lastSampleStart) {
		s.lastSampleStart = timestamp
	}
	s.totalSamples++
}

// AddMemorySample records a memory usage sample in bytes
func (s *ContainerState) AddMemorySample(bytes int64, timestamp time.Time) {
	if bytes > s.memoryPeak {
		s.memoryPeak = bytes
		s.memoryPeakTime = timestamp
	}
}

// Checkpoint returns a snapshot of the accumulated state
func (s *ContainerState) Checkpoint() Checkpoint {
	return Checkpoint{
		CPUHistogram:      s.cpu.checkpoint(s.firstSampleStart),
		MemoryPeakBytes:   s.memoryPeak,
		MemoryPeakTime:    s.memoryPeakTime,
		FirstSampleStart:  s.firstSampleStart,
		LastSampleStart:   s.lastSampleStart,
		TotalSamplesCount: s.totalSamples,
	}
}
