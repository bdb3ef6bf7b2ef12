package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sink names accepted in publisher.sinks
const (
	SinkLog       = "log"
	SinkHTTP      = "http"
	SinkWebSocket = "websocket"
)

// Config represents the collector configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Cluster    ClusterConfig    `yaml:"cluster"`
	Collector  CollectorConfig  `yaml:"collector"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig represents the operational HTTP server configuration
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// KubernetesConfig represents the Kubernetes configuration
type KubernetesConfig struct {
	Mode               string `yaml:"mode"`
	KubeconfigPath     string `yaml:"kubeconfig_path"`
	InsecureKubeletTLS bool   `yaml:"insecure_kubelet_tls"`
}

// ClusterConfig identifies the monitored cluster. An empty kube_system_uid is
// resolved from the API server at startup.
type ClusterConfig struct {
	CloudProviderID string `yaml:"cloud_provider_id"`
	ClusterID       string `yaml:"cluster_id"`
	KubeSystemUID   string `yaml:"kube_system_uid"`
}

// CollectorConfig represents the collection and aggregation configuration
type CollectorConfig struct {
	Enabled           bool   `yaml:"enabled"`
	AggregationWindow string `yaml:"aggregation_window"`
	PollInterval      string `yaml:"poll_interval"`
}

// PublisherConfig represents the outbound event configuration
type PublisherConfig struct {
	Sinks []string   `yaml:"sinks"`
	HTTP  HTTPConfig `yaml:"http"`
}

// HTTPConfig represents the HTTP sink configuration
type HTTPConfig struct {
	URL               string      `yaml:"url"`
	Timeout           string      `yaml:"timeout"`
	RequestsPerSecond float64     `yaml:"requests_per_second"`
	Burst             int         `yaml:"burst"`
	OAuth             OAuthConfig `yaml:"oauth"`
}

// OAuthConfig represents OAuth2 client credentials for the HTTP sink
type OAuthConfig struct {
	Issuer       string   `yaml:"issuer"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load loads the configuration from environment variables and defaults
func Load() (*Config, error) {
	return loadWithDefaults("")
}

// LoadFromFile loads configuration from a YAML file, with environment variable overrides
func LoadFromFile(configPath string) (*Config, error) {
	return loadWithDefaults(configPath)
}

// defaults returns the built-in configuration
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "0.0.0.0:8080",
		},
		Kubernetes: KubernetesConfig{
			Mode: "incluster",
		},
		Collector: CollectorConfig{
			Enabled:           true,
			AggregationWindow: "20m",
			PollInterval:      "1m",
		},
		Publisher: PublisherConfig{
			Sinks: []string{SinkLog},
			HTTP: HTTPConfig{
				Timeout:           "10s",
				RequestsPerSecond: 50,
				Burst:             10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadWithDefaults loads configuration with defaults, optionally from a file,
// and applies environment overrides last
func loadWithDefaults(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		if err := loadFromYAMLFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", configPath, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnv("KUSAGE_SERVER_ADDR", cfg.Server.Addr)
	if port := getEnv("PORT", ""); port != "" {
		cfg.Server.Addr = "0.0.0.0:" + port
	}

	cfg.Kubernetes.Mode = getEnv("KUSAGE_KUBE_MODE", cfg.Kubernetes.Mode)
	cfg.Kubernetes.KubeconfigPath = getEnv("KUBECONFIG", cfg.Kubernetes.KubeconfigPath)
	cfg.Kubernetes.InsecureKubeletTLS = getEnvBool("KUSAGE_INSECURE_KUBELET_TLS", cfg.Kubernetes.InsecureKubeletTLS)

	cfg.Cluster.CloudProviderID = getEnv("KUSAGE_CLOUD_PROVIDER_ID", cfg.Cluster.CloudProviderID)
	cfg.Cluster.ClusterID = getEnv("KUSAGE_CLUSTER_ID", cfg.Cluster.ClusterID)
	cfg.Cluster.KubeSystemUID = getEnv("KUSAGE_KUBE_SYSTEM_UID", cfg.Cluster.KubeSystemUID)

	cfg.Collector.Enabled = getEnvBool("KUSAGE_COLLECTOR_ENABLED", cfg.Collector.Enabled)
	cfg.Collector.AggregationWindow = getEnv("KUSAGE_AGGREGATION_WINDOW", cfg.Collector.AggregationWindow)
	cfg.Collector.PollInterval = getEnv("KUSAGE_POLL_INTERVAL", cfg.Collector.PollInterval)

	cfg.Publisher.Sinks = getEnvStringSlice("KUSAGE_PUBLISHER_SINKS", cfg.Publisher.Sinks)
	cfg.Publisher.HTTP.URL = getEnv("KUSAGE_PUBLISHER_URL", cfg.Publisher.HTTP.URL)
	cfg.Publisher.HTTP.Timeout = getEnv("KUSAGE_PUBLISHER_TIMEOUT", cfg.Publisher.HTTP.Timeout)
	cfg.Publisher.HTTP.RequestsPerSecond = getEnvFloat("KUSAGE_PUBLISHER_RPS", cfg.Publisher.HTTP.RequestsPerSecond)
	cfg.Publisher.HTTP.Burst = getEnvInt("KUSAGE_PUBLISHER_BURST", cfg.Publisher.HTTP.Burst)
	cfg.Publisher.HTTP.OAuth.Issuer = getEnv("KUSAGE_OAUTH_ISSUER", cfg.Publisher.HTTP.OAuth.Issuer)
	cfg.Publisher.HTTP.OAuth.TokenURL = getEnv("KUSAGE_OAUTH_TOKEN_URL", cfg.Publisher.HTTP.OAuth.TokenURL)
	cfg.Publisher.HTTP.OAuth.ClientID = getEnv("KUSAGE_OAUTH_CLIENT_ID", cfg.Publisher.HTTP.OAuth.ClientID)
	cfg.Publisher.HTTP.OAuth.ClientSecret = getEnv("KUSAGE_OAUTH_CLIENT_SECRET", cfg.Publisher.HTTP.OAuth.ClientSecret)
	cfg.Publisher.HTTP.OAuth.Scopes = getEnvStringSlice("KUSAGE_OAUTH_SCOPES", cfg.Publisher.HTTP.OAuth.Scopes)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("KUSAGE_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = getEnv("KUSAGE_LOG_FILE", cfg.Logging.File)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		var result []string
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

// loadFromYAMLFile decodes a YAML file over cfg; keys absent from the file keep their defaults
func loadFromYAMLFile(configPath string, cfg *Config) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.Kubernetes.Mode != "incluster" && c.Kubernetes.Mode != "kubeconfig" {
		return fmt.Errorf("kubernetes mode must be 'incluster' or 'kubeconfig'")
	}

	window, err := time.ParseDuration(c.Collector.AggregationWindow)
	if err != nil || window <= 0 {
		return fmt.Errorf("invalid aggregation window %q", c.Collector.AggregationWindow)
	}
	poll, err := time.ParseDuration(c.Collector.PollInterval)
	if err != nil || poll <= 0 {
		return fmt.Errorf("invalid poll interval %q", c.Collector.PollInterval)
	}
	if poll > window {
		return fmt.Errorf("poll interval %s must not exceed aggregation window %s", poll, window)
	}

	if len(c.Publisher.Sinks) == 0 {
		return fmt.Errorf("at least one publisher sink is required")
	}
	for _, sink := range c.Publisher.Sinks {
		switch sink {
		case SinkLog, SinkWebSocket:
		case SinkHTTP:
			if err := c.Publisher.HTTP.validate(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown publisher sink %q", sink)
		}
	}

	return nil
}

func (h HTTPConfig) validate() error {
	if h.URL == "" {
		return fmt.Errorf("publisher URL is required for the http sink")
	}
	if _, err := time.ParseDuration(h.Timeout); err != nil {
		return fmt.Errorf("invalid publisher timeout %q", h.Timeout)
	}
	if h.OAuth.ClientID != "" && h.OAuth.Issuer == "" && h.OAuth.TokenURL == "" {
		return fmt.Errorf("OAuth issuer or token URL is required when a client ID is set")
	}
	return nil
}

// Window returns the parsed aggregation window. Call after Validate.
func (c CollectorConfig) Window() time.Duration {
	d, _ := time.ParseDuration(c.AggregationWindow)
	return d
}

// Interval returns the parsed poll interval. Call after Validate.
func (c CollectorConfig) Interval() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

// TimeoutDuration returns the parsed HTTP sink timeout. Call after Validate.
func (h HTTPConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(h.Timeout)
	return d
}

// HasSink reports whether the named sink is enabled
func (p PublisherConfig) HasSink(name string) bool {
	for _, s := range p.Sinks {
		if s == name {
			return true
		}
	}
	return false
}
