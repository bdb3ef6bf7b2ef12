package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

const summaryRequestTimeout = 30 * time.Second

// PodReference identifies the pod a set of stats belongs to
type PodReference struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	UID       string `json:"uid"`
}

// PVCReference identifies the persistent volume claim backing a volume
type PVCReference struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

// VolumeStats is the kubelet's view of one mounted volume.
// Time is the raw timestamp string as reported by the kubelet.
type VolumeStats struct {
	Name           string        `json:"name"`
	PVCRef         *PVCReference `json:"pvcRef,omitempty"`
	Time           string        `json:"time"`
	CapacityBytes  *uint64       `json:"capacityBytes,omitempty"`
	UsedBytes      *uint64       `json:"usedBytes,omitempty"`
	AvailableBytes *uint64       `json:"availableBytes,omitempty"`
}

// PodVolumeStats holds the volume stats of one pod
type PodVolumeStats struct {
	PodRef      PodReference  `json:"podRef"`
	VolumeStats []VolumeStats `json:"volume,omitempty"`
}

// SummaryStatsResponse is the subset of the kubelet summary needed for volume usage
type SummaryStatsResponse struct {
	Node struct {
		NodeName string `json:"nodeName"`
	} `json:"node"`
	Pods []PodVolumeStats `json:"pods"`
}

// SummaryStatsAdapter reads the kubelet Summary API through the API server node proxy
type SummaryStatsAdapter struct {
	logger     *zap.Logger
	kubeClient kubernetes.Interface
	restConfig *rest.Config
	httpClient *http.Client
}

// NewSummaryStatsAdapter creates a new summary stats adapter
func NewSummaryStatsAdapter(logger *zap.Logger, kubeClient kubernetes.Interface, restConfig *rest.Config, insecureTLS bool) (*SummaryStatsAdapter, error) {
	// Clone the rest config to avoid modifying the original
	configCopy := rest.CopyConfig(restConfig)

	if insecureTLS {
		configCopy.TLSClientConfig.Insecure = true
		configCopy.TLSClientConfig.CAFile = ""
		configCopy.TLSClientConfig.CAData = nil
		logger.Warn("Summary API configured with insecure TLS - certificate verification disabled")
	}

	// The rest config's transport handles both kubeconfig and service account authentication
	transport, err := rest.TransportFor(configCopy)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	return &SummaryStatsAdapter{
		logger:     logger,
		kubeClient: kubeClient,
		restConfig: configCopy,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   summaryRequestTimeout,
		},
	}, nil
}

// HasSummaryAPI returns true if the Kubelet Summary API is reachable on at least one node
func (ssa *SummaryStatsAdapter) HasSummaryAPI(ctx context.Context) bool {
	nodes, err := ssa.kubeClient.CoreV1().Nodes().List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil || len(nodes.Items) == 0 {
		ssa.logger.Warn("Cannot test Summary API - no nodes available", zap.Error(err))
		return false
	}

	nodeName := nodes.Items[0].Name
	if _, err := ssa.getNodeSummaryStats(ctx, nodeName); err != nil {
		ssa.logger.Info("Summary API not available", zap.String("testedNode", nodeName), zap.Error(err))
		return false
	}

	ssa.logger.Info("Summary API confirmed available")
	return true
}

// ListVolumeStats returns per-pod volume stats of a single node.
// Pods without volumes are omitted.
func (ssa *SummaryStatsAdapter) ListVolumeStats(ctx context.Context, nodeName string) ([]PodVolumeStats, error) {
	summaryStats, err := ssa.getNodeSummaryStats(ctx, nodeName)
	if err != nil {
		return nil, err
	}

	stats := make([]PodVolumeStats, 0, len(summaryStats.Pods))
	var volumeCount int
	for _, pod := range summaryStats.Pods {
		if len(pod.VolumeStats) == 0 {
			continue
		}
		stats = append(stats, pod)
		volumeCount += len(pod.VolumeStats)
	}

	ssa.logger.Debug("Collected volume stats for node",
		zap.String("node", nodeName),
		zap.Int("podCount", len(stats)),
		zap.Int("volumeCount", volumeCount),
	)

	return stats, nil
}

// ParseTimestamp converts a kubelet timestamp into a time.Time.
// Unparseable or empty input yields the zero time, which aggregation ignores.
func ParseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// getNodeSummaryStats fetches summary statistics from a specific node's kubelet
func (ssa *SummaryStatsAdapter) getNodeSummaryStats(ctx context.Context, nodeName string) (*SummaryStatsResponse, error) {
	url := fmt.Sprintf("%s/api/v1/nodes/%s/proxy/stats/summary", ssa.restConfig.Host, nodeName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := ssa.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request to node %s: %w", nodeName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		ssa.logger.Debug("Summary API request failed",
			zap.String("node", nodeName),
			zap.Int("status", resp.StatusCode),
			zap.String("response", string(body)),
			zap.String("url", url))
		return nil, fmt.Errorf("node %s returned status %d", nodeName, resp.StatusCode)
	}

	var summaryStats SummaryStatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&summaryStats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary stats for node %s: %w", nodeName, err)
	}

	return &summaryStats, nil
}
