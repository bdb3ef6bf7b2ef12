// Package publisher delivers aggregated usage events to downstream consumers.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AttributeCluster is the routing attribute carrying the owning cluster
const AttributeCluster = "cluster"

// Publisher sends a single event. Implementations must be safe for use by one
// caller at a time; sinks shared with HTTP handlers guard their own state.
type Publisher interface {
	Publish(ctx context.Context, event Event, timestamp time.Time, attributes map[string]string) error
}

// Envelope is the wire form of an event
type Envelope struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Payload    Event             `json:"payload"`
}

// NewEnvelope wraps an event with a fresh id
func NewEnvelope(event Event, timestamp time.Time, attributes map[string]string) Envelope {
	return Envelope{
		ID:         uuid.New().String(),
		Kind:       event.Kind(),
		Timestamp:  timestamp,
		Attributes: attributes,
		Payload:    event,
	}
}

// Fanout publishes every event to all of its sinks
type Fanout []Publisher

// Publish sends the event to every sink, even if an earlier one fails, and joins their errors
func (f Fanout) Publish(ctx context.Context, event Event, timestamp time.Time, attributes map[string]string) error {
	var errs []error
	for i, p := range f {
		if err := p.Publish(ctx, event, timestamp, attributes); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
