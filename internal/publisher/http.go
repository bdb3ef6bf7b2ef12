package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/aaronlmathis/kusage/internal/version"
)

// HTTPConfig configures the HTTP sink
type HTTPConfig struct {
	URL               string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	OAuth             OAuthConfig
}

// OAuthConfig enables OAuth2 client credentials for the HTTP sink.
// When TokenURL is empty it is discovered from Issuer.
type OAuthConfig struct {
	Issuer       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Enabled reports whether OAuth2 is configured
func (c OAuthConfig) Enabled() bool {
	return c.ClientID != ""
}

// HTTPPublisher POSTs JSON envelopes to an ingestion endpoint
type HTTPPublisher struct {
	logger     *zap.Logger
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPPublisher creates a new HTTP sink. It performs OIDC discovery when
// OAuth is configured with an issuer but no token URL.
func NewHTTPPublisher(ctx context.Context, logger *zap.Logger, cfg HTTPConfig) (*HTTPPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http publisher URL is required")
	}

	httpClient := &http.Client{}
	if cfg.OAuth.Enabled() {
		tokenURL := cfg.OAuth.TokenURL
		if tokenURL == "" {
			provider, err := oidc.NewProvider(ctx, cfg.OAuth.Issuer)
			if err != nil {
				return nil, fmt.Errorf("failed to discover token endpoint from %s: %w", cfg.OAuth.Issuer, err)
			}
			tokenURL = provider.Endpoint().TokenURL
		}

		cc := &clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		// The client outlives ctx, so token refreshes use a background context
		httpClient = cc.Client(context.Background())
		logger.Info("HTTP publisher using OAuth2 client credentials", zap.String("tokenURL", tokenURL))
	}
	httpClient.Timeout = cfg.Timeout

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &HTTPPublisher{
		logger:     logger,
		url:        cfg.URL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
	}, nil
}

// Publish implements Publisher
func (p *HTTPPublisher) Publish(ctx context.Context, event Event, timestamp time.Time, attributes map[string]string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	envelope := NewEnvelope(event, timestamp, attributes)
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", envelope.Kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Event-Id", envelope.ID)
	if cluster := attributes[AttributeCluster]; cluster != "" {
		req.Header.Set("X-Cluster", cluster)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("event sink returned status %d: %s", resp.StatusCode, string(respBody))
	}

	p.logger.Debug("Event delivered",
		zap.String("id", envelope.ID),
		zap.String("kind", string(envelope.Kind)),
	)
	return nil
}
