package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	metricsv1beta1api "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	metricsv1beta1 "k8s.io/metrics/pkg/client/clientset/versioned/typed/metrics/v1beta1"
)

const metricsGroupName = "metrics.k8s.io"

// ErrMetricsAPIUnavailable is returned by the list calls while metrics.k8s.io
// cannot be reached. Availability is checked again on the next call.
var ErrMetricsAPIUnavailable = errors.New("metrics API (metrics.k8s.io) not available")

// APIMetricsAdapter lists node and pod usage from the Metrics API (metrics.k8s.io)
type APIMetricsAdapter struct {
	logger        *zap.Logger
	kubeClient    kubernetes.Interface
	metricsClient metricsv1beta1.MetricsV1beta1Interface

	mu            sync.Mutex
	hasMetricsAPI bool
}

// NewAPIMetricsAdapter creates a new API metrics adapter
func NewAPIMetricsAdapter(logger *zap.Logger, kubeClient kubernetes.Interface, metricsClient metricsv1beta1.MetricsV1beta1Interface) *APIMetricsAdapter {
	return &APIMetricsAdapter{
		logger:        logger,
		kubeClient:    kubeClient,
		metricsClient: metricsClient,
	}
}

// HasMetricsAPI returns true if the Metrics API is available. Only a positive
// answer is cached; a negative one is re-checked on every call.
func (ama *APIMetricsAdapter) HasMetricsAPI(ctx context.Context) bool {
	ama.mu.Lock()
	defer ama.mu.Unlock()

	if ama.hasMetricsAPI {
		return true
	}
	if ama.metricsClient == nil {
		ama.logger.Debug("Metrics API client not configured")
		return false
	}

	apiGroupList, err := ama.kubeClient.Discovery().ServerGroups()
	if err != nil {
		ama.logger.Warn("Failed to discover API groups", zap.Error(err))
	} else {
		for _, group := range apiGroupList.Groups {
			if group.Name == metricsGroupName {
				ama.hasMetricsAPI = true
				ama.logger.Info("Metrics API (metrics.k8s.io) detected as available")
				return true
			}
		}
	}

	// Discovery can lag behind an aggregated API; a test call settles it
	if _, err := ama.metricsClient.NodeMetricses().List(ctx, metav1.ListOptions{Limit: 1}); err != nil {
		ama.logger.Info("Metrics API not available, will check again next poll", zap.Error(err))
		return false
	}

	ama.logger.Info("Metrics API confirmed available via test call")
	ama.hasMetricsAPI = true
	return true
}

// ListNodeMetrics returns the latest usage sample of every node.
// Returns ErrMetricsAPIUnavailable if the Metrics API is not available.
func (ama *APIMetricsAdapter) ListNodeMetrics(ctx context.Context) ([]metricsv1beta1api.NodeMetrics, error) {
	if !ama.HasMetricsAPI(ctx) {
		return nil, ErrMetricsAPIUnavailable
	}

	nodeMetrics, err := ama.metricsClient.NodeMetricses().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list node metrics: %w", err)
	}

	ama.logger.Debug("Listed node metrics", zap.Int("nodeCount", len(nodeMetrics.Items)))
	return nodeMetrics.Items, nil
}

// ListPodMetrics returns the latest usage sample of every pod in all namespaces.
// Returns ErrMetricsAPIUnavailable if the Metrics API is not available.
func (ama *APIMetricsAdapter) ListPodMetrics(ctx context.Context) ([]metricsv1beta1api.PodMetrics, error) {
	if !ama.HasMetricsAPI(ctx) {
		return nil, ErrMetricsAPIUnavailable
	}

	podMetrics, err := ama.metricsClient.PodMetricses(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list pod metrics: %w", err)
	}

	ama.logger.Debug("Listed pod metrics", zap.Int("podCount", len(podMetrics.Items)))
	return podMetrics.Items, nil
}
