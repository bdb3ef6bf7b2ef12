package publisher

import (
	"time"

	"github.com/aaronlmathis/kusage/internal/history"
)

// Kind names the type of an outbound event
type Kind string

const (
	KindNodeSummary      Kind = "node_summary"
	KindPodSummary       Kind = "pod_summary"
	KindVolumeSummary    Kind = "volume_summary"
	KindContainerHistory Kind = "container_usage_history"
)

// ClusterIdentity identifies the cluster an event was collected from
type ClusterIdentity struct {
	CloudProviderID string `json:"cloudProviderId,omitempty"`
	ClusterID       string `json:"clusterId,omitempty"`
	KubeSystemUID   string `json:"kubeSystemUid"`
}

// RoutingKey returns the value used to partition events by cluster downstream
func (c ClusterIdentity) RoutingKey() string {
	if c.KubeSystemUID != "" {
		return c.KubeSystemUID
	}
	return c.ClusterID
}

// Event is implemented by every outbound event type
type Event interface {
	Kind() Kind
}

// NodeSummary reduces one node's usage over a window. CPU is in nanocores, memory in bytes.
type NodeSummary struct {
	ClusterIdentity
	NodeName       string        `json:"nodeName"`
	WindowStart    time.Time     `json:"windowStart"`
	WindowDuration time.Duration `json:"windowDuration"`
	CPUAvg         int64         `json:"cpuAvgNanoCores"`
	CPUMax         int64         `json:"cpuMaxNanoCores"`
	MemoryAvg      int64         `json:"memoryAvgBytes"`
	MemoryMax      int64         `json:"memoryMaxBytes"`
}

// Kind implements Event
func (NodeSummary) Kind() Kind { return KindNodeSummary }

// PodSummary reduces one pod's summed container usage over a window
type PodSummary struct {
	ClusterIdentity
	Namespace      string        `json:"namespace"`
	PodName        string        `json:"podName"`
	WindowStart    time.Time     `json:"windowStart"`
	WindowDuration time.Duration `json:"windowDuration"`
	CPUAvg         int64         `json:"cpuAvgNanoCores"`
	CPUMax         int64         `json:"cpuMaxNanoCores"`
	MemoryAvg      int64         `json:"memoryAvgBytes"`
	MemoryMax      int64         `json:"memoryMaxBytes"`
}

// Kind implements Event
func (PodSummary) Kind() Kind { return KindPodSummary }

// VolumeSummary reduces one claim's capacity and usage as seen through one pod.
// Name is namespace/claim.
type VolumeSummary struct {
	ClusterIdentity
	Name           string        `json:"name"`
	Namespace      string        `json:"namespace"`
	PodUID         string        `json:"podUid"`
	WindowStart    time.Time     `json:"windowStart"`
	WindowDuration time.Duration `json:"windowDuration"`
	CapacityAvg    int64         `json:"capacityAvgBytes"`
	UsedAvg        int64         `json:"usedAvgBytes"`
}

// Kind implements Event
func (VolumeSummary) Kind() Kind { return KindVolumeSummary }

// ContainerHistory carries a container's usage-history checkpoint
type ContainerHistory struct {
	ClusterIdentity
	Namespace     string                      `json:"namespace"`
	PodName       string                      `json:"podName"`
	ContainerName string                      `json:"containerName"`
	MemoryPeak    int64                       `json:"memoryPeakBytes"`
	MemoryPeakAt  time.Time                   `json:"memoryPeakTime"`
	CPUHistogram  history.HistogramCheckpoint `json:"cpuHistogram"`
	FirstSample   time.Time                   `json:"firstSampleStart"`
	LastSample    time.Time                   `json:"lastSampleStart"`
	TotalSamples  int                         `json:"totalSamplesCount"`
}

// Kind implements Event
func (ContainerHistory) Kind() Kind { return KindContainerHistory }
