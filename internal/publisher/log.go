package publisher

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LogPublisher writes each event as a structured log entry
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a new log publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

// Publish implements Publisher
func (p *LogPublisher) Publish(_ context.Context, event Event, timestamp time.Time, attributes map[string]string) error {
	p.logger.Info("Usage event",
		zap.String("kind", string(event.Kind())),
		zap.Time("timestamp", timestamp),
		zap.Any("attributes", attributes),
		zap.Any("event", event),
	)
	return nil
}
