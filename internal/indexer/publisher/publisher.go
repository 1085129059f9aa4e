// Package publisher validates person-change events and publishes them to
// Kafka for the grid indexer.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/indexer/validator"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/kafka"
)

// EventWriter is the part of kafka.Producer the publisher uses.
type EventWriter interface {
	Publish(ctx context.Context, event kafka.Event) error
}

type Publisher struct {
	producer EventWriter
	now      func() time.Time
	logger   *slog.Logger
}

func New(producer EventWriter) *Publisher {
	return &Publisher{
		producer: producer,
		now:      time.Now,
		logger:   slog.Default().With("component", "change-publisher"),
	}
}

// Publish stamps and publishes ev keyed by person token, so every change of
// one person lands on the same partition in order.
func (p *Publisher) Publish(ctx context.Context, ev *indexer.PersonChangeEvent) (*indexer.PublishResponse, error) {
	if err := validator.ValidateEvent(ev); err != nil {
		return nil, err
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.now().UTC()
	}
	event := kafka.Event{
		Key:   ev.Person.Token,
		Value: ev,
	}
	if err := p.producer.Publish(ctx, event); err != nil {
		return nil, fmt.Errorf("publishing %s change for %s: %w", ev.Kind, ev.Person.Token, err)
	}
	p.logger.Debug("person change published",
		"person", ev.Person.Token,
		"kind", ev.Kind,
		"category", ev.Category,
	)
	return &indexer.PublishResponse{
		PersonToken: ev.Person.Token,
		Kind:        ev.Kind,
		Status:      "ACCEPTED",
	}, nil
}
