package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/api/resource"
	metricsv1beta1api "k8s.io/metrics/pkg/apis/metrics/v1beta1"

	"github.com/aaronlmathis/kusage/internal/history"
	kubemetrics "github.com/aaronlmathis/kusage/internal/kube/metrics"
	"github.com/aaronlmathis/kusage/internal/metrics"
	"github.com/aaronlmathis/kusage/internal/publisher"
	"github.com/aaronlmathis/kusage/internal/timeseries"
)

// Entity and cache labels used for Prometheus metrics
const (
	entityNode      = "node"
	entityPod       = "pod"
	entityVolume    = "volume"
	entityContainer = "container"
)

// MetricsSource lists the raw usage samples the aggregator reduces
type MetricsSource interface {
	ListNodeMetrics(ctx context.Context) ([]metricsv1beta1api.NodeMetrics, error)
	ListPodMetrics(ctx context.Context) ([]metricsv1beta1api.PodMetrics, error)
	ListVolumeStats(ctx context.Context, nodeName string) ([]kubemetrics.PodVolumeStats, error)
}

// KubeSource serves node and pod usage from the Metrics API and volume usage
// from the kubelet Summary API
type KubeSource struct {
	*kubemetrics.APIMetricsAdapter
	*kubemetrics.SummaryStatsAdapter
}

type capabilityReporter interface {
	HasMetricsAPI(ctx context.Context) bool
	HasSummaryAPI(ctx context.Context) bool
}

// Config holds configuration for the aggregator
type Config struct {
	// AggregationWindow is how long samples accumulate before one event per entity is published
	AggregationWindow time.Duration
	PollInterval      time.Duration
	Enabled           bool
}

// DefaultConfig returns the default aggregator configuration
func DefaultConfig() Config {
	return Config{
		AggregationWindow: 20 * time.Minute,
		PollInterval:      1 * time.Minute,
		Enabled:           true,
	}
}

// Status is a point-in-time view of the aggregator used by health checks
type Status struct {
	Enabled            bool      `json:"enabled"`
	LastCollect        time.Time `json:"lastCollect"`
	LastPublish        time.Time `json:"lastPublish"`
	NextPublish        time.Time `json:"nextPublish"`
	Nodes              int       `json:"nodes"`
	Pods               int       `json:"pods"`
	Volumes            int       `json:"volumes"`
	Containers         int       `json:"containers"`
	VolumeNodesPending int       `json:"volumeNodesPending"`
}

// Aggregator polls cluster usage, reduces it into per-entity windows and
// publishes one summary event per entity once every aggregation window.
// Cycles are serialized by cycleMu. mu guards the caches and is released
// before a drained window is handed to the publisher.
type Aggregator struct {
	logger    *zap.Logger
	source    MetricsSource
	publisher publisher.Publisher
	newState  history.Factory
	cluster   publisher.ClusterIdentity
	config    Config

	cycleMu sync.Mutex

	mu             sync.Mutex
	nodes          map[timeseries.Key]*timeseries.Window
	pods           map[timeseries.Key]*timeseries.Window
	volumes        map[timeseries.Key]*timeseries.Window
	containers     map[timeseries.Key]history.State
	processedNodes map[string]bool
	lastPublish    time.Time
	lastCollect    time.Time

	// Shutdown management
	stopCh chan struct{}
	done   chan struct{}
}

// NewAggregator creates a new aggregator. The first window closes one
// AggregationWindow after construction. A nil newState uses history.NewContainerState.
func NewAggregator(
	logger *zap.Logger,
	source MetricsSource,
	pub publisher.Publisher,
	newState history.Factory,
	cluster publisher.ClusterIdentity,
	config Config,
) *Aggregator {
	if newState == nil {
		newState = history.NewContainerState
	}
	return &Aggregator{
		logger:         logger,
		source:         source,
		publisher:      pub,
		newState:       newState,
		cluster:        cluster,
		config:         config,
		nodes:          make(map[timeseries.Key]*timeseries.Window),
		pods:           make(map[timeseries.Key]*timeseries.Window),
		volumes:        make(map[timeseries.Key]*timeseries.Window),
		containers:     make(map[timeseries.Key]history.State),
		processedNodes: make(map[string]bool),
		lastPublish:    time.Now(),
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start begins the collection loop
func (a *Aggregator) Start(ctx context.Context) error {
	if !a.config.Enabled {
		a.logger.Info("Usage aggregation is disabled")
		return nil
	}
	if a.config.PollInterval <= 0 || a.config.AggregationWindow <= 0 {
		return fmt.Errorf("invalid aggregator intervals: poll %s, window %s", a.config.PollInterval, a.config.AggregationWindow)
	}

	a.logger.Info("Starting usage aggregator",
		zap.Duration("pollInterval", a.config.PollInterval),
		zap.Duration("aggregationWindow", a.config.AggregationWindow),
		zap.String("cluster", a.cluster.RoutingKey()),
	)

	if caps, ok := a.source.(capabilityReporter); ok {
		a.logger.Info("Metrics capabilities detected",
			zap.Bool("metricsAPI", caps.HasMetricsAPI(ctx)),
			zap.Bool("summaryAPI", caps.HasSummaryAPI(ctx)),
		)
	}

	go a.run(ctx)
	return nil
}

// Stop gracefully shuts down the aggregator
func (a *Aggregator) Stop() {
	close(a.stopCh)

	// Only wait for done channel if aggregation is enabled
	if a.config.Enabled {
		<-a.done
	}
}

// run executes the main collection loop
func (a *Aggregator) run(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Aggregator stopped due to context cancellation")
			return
		case <-a.stopCh:
			a.logger.Info("Aggregator stopped gracefully")
			return
		case <-ticker.C:
			a.CollectAndPublishMetrics(ctx, time.Now())
		}
	}
}

// CollectAndPublishMetrics runs one poll cycle: node, pod and volume passes,
// then a publish if the current window has elapsed at now.
// Failures are logged and never abort the cycle.
func (a *Aggregator) CollectAndPublishMetrics(ctx context.Context, now time.Time) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	a.mu.Lock()
	a.collectNodes(ctx)
	a.collectPods(ctx)
	a.collectVolumes(ctx)
	a.lastCollect = now

	var closed *closedWindow
	if !now.Before(a.lastPublish.Add(a.config.AggregationWindow)) {
		closed = a.drain(now)
		clear(a.processedNodes)
		metrics.SetVolumeNodesPending(0)
	}
	a.mu.Unlock()

	if closed != nil {
		a.publish(ctx, closed)
	}
}

// PublishPending publishes every cached entity and starts a new window at now,
// whether or not the current window has elapsed. Used to flush on shutdown.
func (a *Aggregator) PublishPending(ctx context.Context, now time.Time) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	a.mu.Lock()
	closed := a.drain(now)
	a.mu.Unlock()

	a.publish(ctx, closed)
}

// Status returns a snapshot of the aggregator state
func (a *Aggregator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Status{
		Enabled:            a.config.Enabled,
		LastCollect:        a.lastCollect,
		LastPublish:        a.lastPublish,
		NextPublish:        a.lastPublish.Add(a.config.AggregationWindow),
		Nodes:              len(a.nodes),
		Pods:               len(a.pods),
		Volumes:            len(a.volumes),
		Containers:         len(a.containers),
		VolumeNodesPending: a.pendingVolumeNodes(),
	}
}

func (a *Aggregator) collectNodes(ctx context.Context) {
	start := time.Now()
	nodeMetrics, err := a.source.ListNodeMetrics(ctx)
	metrics.RecordCollectorScrape("node_metrics", time.Since(start), err != nil)
	if err != nil {
		a.logger.Warn("Failed to list node metrics", zap.Error(err))
		return
	}

	for _, nm := range nodeMetrics {
		cpu := nm.Usage.Cpu().ScaledValue(resource.Nano)
		memory := nm.Usage.Memory().Value()
		accepted := updateWindow(a.nodes, timeseries.NodeKey(nm.Name), nm.Window.Duration, cpu, memory, nm.Timestamp.Time)
		metrics.RecordSample(entityNode, accepted)

		if _, seen := a.processedNodes[nm.Name]; !seen {
			a.processedNodes[nm.Name] = false
		}
	}
	metrics.SetCacheEntries(entityNode, len(a.nodes))
}

func (a *Aggregator) collectPods(ctx context.Context) {
	start := time.Now()
	podMetrics, err := a.source.ListPodMetrics(ctx)
	metrics.RecordCollectorScrape("pod_metrics", time.Since(start), err != nil)
	if err != nil {
		a.logger.Warn("Failed to list pod metrics", zap.Error(err))
		return
	}

	for _, pm := range podMetrics {
		if len(pm.Containers) == 0 {
			continue
		}
		ts := pm.Timestamp.Time

		var podCPU, podMemory int64
		for _, c := range pm.Containers {
			cpu := c.Usage.Cpu().ScaledValue(resource.Nano)
			memory := c.Usage.Memory().Value()
			podCPU += cpu
			podMemory += memory

			if ts.IsZero() {
				continue
			}
			state := a.containerState(timeseries.ContainerKey(pm.Namespace, pm.Name, c.Name))
			state.AddCPUSample(float64(cpu)/1e9, ts)
			state.AddMemorySample(memory, ts)
		}

		accepted := updateWindow(a.pods, timeseries.PodKey(pm.Namespace, pm.Name), pm.Window.Duration, podCPU, podMemory, ts)
		metrics.RecordSample(entityPod, accepted)
	}
	metrics.SetCacheEntries(entityPod, len(a.pods))
	metrics.SetCacheEntries(entityContainer, len(a.containers))
}

// collectVolumes fetches volume stats only from nodes not yet processed in
// this window. A failed node stays pending and is retried on the next cycle.
func (a *Aggregator) collectVolumes(ctx context.Context) {
	for nodeName, processed := range a.processedNodes {
		if processed {
			continue
		}

		start := time.Now()
		pods, err := a.source.ListVolumeStats(ctx, nodeName)
		metrics.RecordCollectorScrape("volume_stats", time.Since(start), err != nil)
		if err != nil {
			a.logger.Warn("Failed to list volume stats, will retry next cycle",
				zap.String("node", nodeName), zap.Error(err))
			continue
		}

		for _, pod := range pods {
			for _, vol := range pod.VolumeStats {
				if vol.PVCRef == nil {
					continue
				}
				key := timeseries.VolumeKey(vol.PVCRef.Namespace, vol.PVCRef.Name, pod.PodRef.UID)
				accepted := updateWindow(a.volumes, key, 0,
					bytesValue(vol.CapacityBytes), bytesValue(vol.UsedBytes), kubemetrics.ParseTimestamp(vol.Time))
				metrics.RecordSample(entityVolume, accepted)
			}
		}
		a.processedNodes[nodeName] = true
	}
	metrics.SetCacheEntries(entityVolume, len(a.volumes))
	metrics.SetVolumeNodesPending(a.pendingVolumeNodes())
}

// closedWindow holds the events drained from the caches at the end of a window.
type closedWindow struct {
	end                              time.Time
	events                           []publisher.Event
	nodes, pods, volumes, containers int
}

// drain builds one event per cached entity, clears every cache and starts a
// new window at now. Callers hold mu.
func (a *Aggregator) drain(now time.Time) *closedWindow {
	closed := &closedWindow{
		end:        now,
		events:     make([]publisher.Event, 0, len(a.nodes)+len(a.pods)+len(a.volumes)+len(a.containers)),
		nodes:      len(a.nodes),
		pods:       len(a.pods),
		volumes:    len(a.volumes),
		containers: len(a.containers),
	}

	for key, w := range a.nodes {
		closed.events = append(closed.events, publisher.NodeSummary{
			ClusterIdentity: a.cluster,
			NodeName:        key.Name,
			WindowStart:     w.Start(),
			WindowDuration:  w.Duration(),
			CPUAvg:          w.Primary.Average(),
			CPUMax:          w.Primary.Max(),
			MemoryAvg:       w.Secondary.Average(),
			MemoryMax:       w.Secondary.Max(),
		})
	}

	for key, w := range a.pods {
		closed.events = append(closed.events, publisher.PodSummary{
			ClusterIdentity: a.cluster,
			Namespace:       key.Namespace,
			PodName:         key.Name,
			WindowStart:     w.Start(),
			WindowDuration:  w.Duration(),
			CPUAvg:          w.Primary.Average(),
			CPUMax:          w.Primary.Max(),
			MemoryAvg:       w.Secondary.Average(),
			MemoryMax:       w.Secondary.Max(),
		})
	}

	for key, w := range a.volumes {
		closed.events = append(closed.events, publisher.VolumeSummary{
			ClusterIdentity: a.cluster,
			Name:            key.Namespace + "/" + key.Name,
			Namespace:       key.Namespace,
			PodUID:          key.OwnerUID,
			WindowStart:     w.Start(),
			WindowDuration:  w.Duration(),
			CapacityAvg:     w.Primary.Average(),
			UsedAvg:         w.Secondary.Average(),
		})
	}

	for key, state := range a.containers {
		cp := state.Checkpoint()
		closed.events = append(closed.events, publisher.ContainerHistory{
			ClusterIdentity: a.cluster,
			Namespace:       key.Namespace,
			PodName:         key.Name,
			ContainerName:   key.Container,
			MemoryPeak:      cp.MemoryPeakBytes,
			MemoryPeakAt:    cp.MemoryPeakTime,
			CPUHistogram:    cp.CPUHistogram,
			FirstSample:     cp.FirstSampleStart,
			LastSample:      cp.LastSampleStart,
			TotalSamples:    cp.TotalSamplesCount,
		})
	}

	clear(a.nodes)
	clear(a.pods)
	clear(a.volumes)
	clear(a.containers)
	a.lastPublish = now

	for _, cache := range []string{entityNode, entityPod, entityVolume, entityContainer} {
		metrics.SetCacheEntries(cache, 0)
	}
	return closed
}

// publish hands every drained event to the publisher. Called without mu held.
// A failed publish is logged and counted; the entity is not re-queued.
func (a *Aggregator) publish(ctx context.Context, closed *closedWindow) {
	start := time.Now()
	attributes := map[string]string{publisher.AttributeCluster: a.cluster.RoutingKey()}

	for _, event := range closed.events {
		a.emit(ctx, event, closed.end, attributes)
	}

	a.logger.Info("Published aggregation window",
		zap.Time("windowEnd", closed.end),
		zap.Int("nodes", closed.nodes),
		zap.Int("pods", closed.pods),
		zap.Int("volumes", closed.volumes),
		zap.Int("containers", closed.containers),
	)
	metrics.RecordPublish(closed.end, time.Since(start))
}

func (a *Aggregator) emit(ctx context.Context, event publisher.Event, now time.Time, attributes map[string]string) {
	err := a.publisher.Publish(ctx, event, now, attributes)
	metrics.RecordEventPublished(string(event.Kind()), err)
	if err != nil {
		a.logger.Warn("Failed to publish event", zap.String("kind", string(event.Kind())), zap.Error(err))
	}
}

func (a *Aggregator) containerState(key timeseries.Key) history.State {
	state, ok := a.containers[key]
	if !ok {
		state = a.newState()
		a.containers[key] = state
	}
	return state
}

func (a *Aggregator) pendingVolumeNodes() int {
	pending := 0
	for _, processed := range a.processedNodes {
		if !processed {
			pending++
		}
	}
	return pending
}

// updateWindow records a sample in the window for key, creating the window on
// the first accepted sample so that rejected samples never leave an empty entry.
func updateWindow(cache map[timeseries.Key]*timeseries.Window, key timeseries.Key, minWindow time.Duration, primary, secondary int64, ts time.Time) bool {
	w, ok := cache[key]
	if !ok {
		w = timeseries.NewWindow(minWindow)
	}
	if !w.Update(primary, secondary, ts) {
		return false
	}
	cache[key] = w
	return true
}

func bytesValue(v *uint64) int64 {
	if v == nil {
		return 0
	}
	return int64(*v)
}
