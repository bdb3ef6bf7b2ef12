package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/aaronlmathis/kusage/internal/config"
	"github.com/aaronlmathis/kusage/internal/kube/client"
	kubemetrics "github.com/aaronlmathis/kusage/internal/kube/metrics"
	"github.com/aaronlmathis/kusage/internal/logging"
	"github.com/aaronlmathis/kusage/internal/publisher"
	"github.com/aaronlmathis/kusage/internal/server"
	"github.com/aaronlmathis/kusage/internal/timeseries/aggregator"
	"github.com/aaronlmathis/kusage/internal/version"
)

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv("KUSAGE_CONFIG"), "path to a YAML configuration file")
	showVersion := pflag.Bool("version", false, "print version information and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}

	// Load configuration
	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.RedirectKlog(logger)

	info := version.Get()
	logger.Info("Starting usage collector",
		zap.String("version", info.Version),
		zap.String("gitCommit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
		zap.String("goVersion", info.GoVersion),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Fatal("Collector failed", zap.Error(err))
	}
	logger.Info("Collector exited")
}

func run(ctx context.Context, logger *zap.Logger, cfg *config.Config) error {
	factory, err := client.NewFactory(logger, client.ClientMode(cfg.Kubernetes.Mode), cfg.Kubernetes.KubeconfigPath)
	if err != nil {
		return err
	}
	if err := factory.ValidateConnection(); err != nil {
		return err
	}

	cluster, err := clusterIdentity(ctx, logger, cfg, factory)
	if err != nil {
		return err
	}

	summaryAdapter, err := kubemetrics.NewSummaryStatsAdapter(logger, factory.Client(), factory.RESTConfig(), cfg.Kubernetes.InsecureKubeletTLS)
	if err != nil {
		return err
	}
	source := aggregator.KubeSource{
		APIMetricsAdapter:   kubemetrics.NewAPIMetricsAdapter(logger, factory.Client(), factory.MetricsV1beta1()),
		SummaryStatsAdapter: summaryAdapter,
	}

	sinks, hub, err := buildSinks(ctx, logger, cfg.Publisher)
	if err != nil {
		return err
	}
	if hub != nil {
		defer hub.Close()
	}

	agg := aggregator.NewAggregator(logger.Named("aggregator"), source, sinks, nil, cluster, aggregator.Config{
		AggregationWindow: cfg.Collector.Window(),
		PollInterval:      cfg.Collector.Interval(),
		Enabled:           cfg.Collector.Enabled,
	})
	if err := agg.Start(ctx); err != nil {
		return err
	}

	var events http.Handler
	if hub != nil {
		events = hub
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.NewServer(logger, agg, events, cfg.Collector.Interval()).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Collector shutting down...")
	case err := <-serveErr:
		agg.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	agg.Stop()

	// Give the flush and the server a maximum of 30 seconds
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if cfg.Collector.Enabled {
		agg.PublishPending(shutdownCtx, time.Now())
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func clusterIdentity(ctx context.Context, logger *zap.Logger, cfg *config.Config, factory *client.Factory) (publisher.ClusterIdentity, error) {
	cluster := publisher.ClusterIdentity{
		CloudProviderID: cfg.Cluster.CloudProviderID,
		ClusterID:       cfg.Cluster.ClusterID,
		KubeSystemUID:   cfg.Cluster.KubeSystemUID,
	}
	if cluster.KubeSystemUID != "" {
		return cluster, nil
	}

	uid, err := kubemetrics.NewIdentityResolver(logger, factory.Client()).KubeSystemUID(ctx)
	if err != nil {
		return cluster, err
	}
	cluster.KubeSystemUID = uid
	logger.Info("Resolved cluster identity",
		zap.String("kubeSystemUid", cluster.KubeSystemUID),
		zap.String("clusterId", cluster.ClusterID),
		zap.String("cloudProviderId", cluster.CloudProviderID),
	)
	return cluster, nil
}

// buildSinks creates the configured publishers. The websocket hub is returned
// separately so it can be mounted on the server.
func buildSinks(ctx context.Context, logger *zap.Logger, cfg config.PublisherConfig) (publisher.Fanout, *publisher.Hub, error) {
	var sinks publisher.Fanout
	var hub *publisher.Hub

	for _, name := range cfg.Sinks {
		switch name {
		case config.SinkLog:
			sinks = append(sinks, publisher.NewLogPublisher(logger))
		case config.SinkWebSocket:
			hub = publisher.NewHub(logger)
			sinks = append(sinks, hub)
		case config.SinkHTTP:
			httpSink, err := publisher.NewHTTPPublisher(ctx, logger, publisher.HTTPConfig{
				URL:               cfg.HTTP.URL,
				Timeout:           cfg.HTTP.TimeoutDuration(),
				RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
				Burst:             cfg.HTTP.Burst,
				OAuth: publisher.OAuthConfig{
					Issuer:       cfg.HTTP.OAuth.Issuer,
					TokenURL:     cfg.HTTP.OAuth.TokenURL,
					ClientID:     cfg.HTTP.OAuth.ClientID,
					ClientSecret: cfg.HTTP.OAuth.ClientSecret,
					Scopes:       cfg.HTTP.OAuth.Scopes,
				},
			})
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, httpSink)
		default:
			return nil, nil, fmt.Errorf("unknown publisher sink %q", name)
		}
	}

	return sinks, hub, nil
}
