package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	ktesting "k8s.io/client-go/testing"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	fakeMetrics "k8s.io/metrics/pkg/client/clientset/versioned/fake"
)

func TestAPIMetricsAdapter_HasMetricsAPI(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name      string
		hasClient bool
		expected  bool
	}{
		{
			name:      "metrics API available",
			hasClient: true,
			expected:  true,
		},
		{
			name:      "metrics API not available",
			hasClient: false,
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kubeClient := fake.NewSimpleClientset()

			var adapter *APIMetricsAdapter
			if tt.hasClient {
				metricsClient := fakeMetrics.NewSimpleClientset()
				adapter = NewAPIMetricsAdapter(logger, kubeClient, metricsClient.MetricsV1beta1())
			} else {
				adapter = NewAPIMetricsAdapter(logger, kubeClient, nil)
			}

			result := adapter.HasMetricsAPI(context.Background())
			assert.Equal(t, tt.expected, result)

			// A second call gives the same answer
			result2 := adapter.HasMetricsAPI(context.Background())
			assert.Equal(t, tt.expected, result2)
		})
	}
}

func TestAPIMetricsAdapter_ListNodeMetrics_NoMetricsAPI(t *testing.T) {
	logger := zaptest.NewLogger(t)
	kubeClient := fake.NewSimpleClientset()

	adapter := NewAPIMetricsAdapter(logger, kubeClient, nil)

	result, err := adapter.ListNodeMetrics(context.Background())

	require.ErrorIs(t, err, ErrMetricsAPIUnavailable)
	assert.Empty(t, result)

	_, err = adapter.ListPodMetrics(context.Background())
	assert.ErrorIs(t, err, ErrMetricsAPIUnavailable)
}

func TestAPIMetricsAdapter_RecoversAfterFailedCheck(t *testing.T) {
	logger := zaptest.NewLogger(t)
	kubeClient := fake.NewSimpleClientset()

	nodeMetrics := &metricsv1beta1.NodeMetricsList{
		Items: []metricsv1beta1.NodeMetrics{
			{ObjectMeta: metav1.ObjectMeta{Name: "node-1"}},
		},
	}

	var calls int
	metricsClient := fakeMetrics.NewSimpleClientset()
	metricsClient.PrependReactor("list", "nodes", func(action ktesting.Action) (bool, runtime.Object, error) {
		calls++
		if calls == 1 {
			return true, nil, errors.New("metrics-server restarting")
		}
		return true, nodeMetrics, nil
	})
	adapter := NewAPIMetricsAdapter(logger, kubeClient, metricsClient.MetricsV1beta1())

	result, err := adapter.ListNodeMetrics(context.Background())
	require.ErrorIs(t, err, ErrMetricsAPIUnavailable)
	assert.Empty(t, result)

	for poll := 0; poll < 3; poll++ {
		result, err = adapter.ListNodeMetrics(context.Background())
		require.NoError(t, err)
		require.Len(t, result, 1)
		assert.Equal(t, "node-1", result[0].Name)
	}
	assert.True(t, adapter.HasMetricsAPI(context.Background()))
}

func TestAPIMetricsAdapter_ListNodeMetrics_WithMetricsAPI(t *testing.T) {
	logger := zaptest.NewLogger(t)
	kubeClient := fake.NewSimpleClientset()
	ts := metav1.NewTime(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	nodeMetrics := &metricsv1beta1.NodeMetricsList{
		Items: []metricsv1beta1.NodeMetrics{
			{
				ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
				Timestamp:  ts,
				Window:     metav1.Duration{Duration: 30 * time.Second},
				Usage: corev1.ResourceList{
					corev1.ResourceCPU:    resource.MustParse("250m"),
					corev1.ResourceMemory: *resource.NewQuantity(2*1024*1024*1024, resource.BinarySI), // 2Gi
				},
			},
			{
				ObjectMeta: metav1.ObjectMeta{Name: "node-2"},
				Timestamp:  ts,
				Usage: corev1.ResourceList{
					corev1.ResourceCPU:    resource.MustParse("1"),
					corev1.ResourceMemory: *resource.NewQuantity(4*1024*1024*1024, resource.BinarySI), // 4Gi
				},
			},
		},
	}

	metricsClient := fakeMetrics.NewSimpleClientset()
	metricsClient.PrependReactor("list", "nodes", func(action ktesting.Action) (bool, runtime.Object, error) {
		return true, nodeMetrics, nil
	})
	adapter := NewAPIMetricsAdapter(logger, kubeClient, metricsClient.MetricsV1beta1())

	result, err := adapter.ListNodeMetrics(context.Background())

	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "node-1", result[0].Name)
	assert.Equal(t, int64(250_000_000), result[0].Usage.Cpu().ScaledValue(resource.Nano))
	assert.Equal(t, int64(2*1024*1024*1024), result[0].Usage.Memory().Value())
	assert.Equal(t, 30*time.Second, result[0].Window.Duration)
	assert.Equal(t, "node-2", result[1].Name)
}

func TestAPIMetricsAdapter_ListPodMetrics_WithMetricsAPI(t *testing.T) {
	logger := zaptest.NewLogger(t)
	kubeClient := fake.NewSimpleClientset()

	podMetrics := &metricsv1beta1.PodMetricsList{
		Items: []metricsv1beta1.PodMetrics{
			{
				ObjectMeta: metav1.ObjectMeta{Name: "web-0", Namespace: "default"},
				Containers: []metricsv1beta1.ContainerMetrics{
					{
						Name: "nginx",
						Usage: corev1.ResourceList{
							corev1.ResourceCPU:    resource.MustParse("100m"),
							corev1.ResourceMemory: resource.MustParse("64Mi"),
						},
					},
				},
			},
		},
	}

	metricsClient := fakeMetrics.NewSimpleClientset()
	metricsClient.PrependReactor("list", "pods", func(action ktesting.Action) (bool, runtime.Object, error) {
		return true, podMetrics, nil
	})
	adapter := NewAPIMetricsAdapter(logger, kubeClient, metricsClient.MetricsV1beta1())

	result, err := adapter.ListPodMetrics(context.Background())

	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "default", result[0].Namespace)
	require.Len(t, result[0].Containers, 1)
	assert.Equal(t, "nginx", result[0].Containers[0].Name)
}

func TestAPIMetricsAdapter_ListPodMetrics_Error(t *testing.T) {
	logger := zaptest.NewLogger(t)
	kubeClient := fake.NewSimpleClientset()

	metricsClient := fakeMetrics.NewSimpleClientset()
	metricsClient.PrependReactor("list", "pods", func(action ktesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("service unavailable")
	})
	adapter := NewAPIMetricsAdapter(logger, kubeClient, metricsClient.MetricsV1beta1())
	adapter.hasMetricsAPI = true

	result, err := adapter.ListPodMetrics(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list pod metrics")
	assert.Nil(t, result)
}
