// Package consumer reads person-change events from Kafka and applies them to
// the grid index through the maintainer.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/filters"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/person"
	apperrors "github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/logger"
)

// GridUpdater is implemented by gridindex.Maintainer.
type GridUpdater interface {
	UpdateGridSets(ctx context.Context, p *person.Person, pf *filters.PersonFilters, changed filters.Category, previousGridToken string) error
	UpdatePresence(ctx context.Context, p *person.Person) error
	RemovePerson(ctx context.Context, p *person.Person) error
}

// IndexConsumer wraps a Kafka consumer to drive grid index maintenance.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that applies each change
// event. Undecodable events and contract violations are logged and skipped
// so they are committed; other errors leave the message uncommitted.
func HandleMessage(updater GridUpdater) kafka.MessageHandler {
	log := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[indexer.PersonChangeEvent](value)
		if err != nil {
			log.Error("failed to decode person change event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		ctx = logger.WithRequestID(ctx, fmt.Sprintf("%s@%d", event.Person.Token, event.OccurredAt.UnixMilli()))

		err = apply(ctx, updater, &event)
		if apperrors.IsContractViolation(err) {
			log.Warn("skipping invalid person change event",
				"person", event.Person.Token,
				"kind", event.Kind,
				"error", err,
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("applying %s change for %s: %w", event.Kind, event.Person.Token, err)
		}
		log.Debug("person change applied",
			"person", event.Person.Token,
			"kind", event.Kind,
			"category", event.Category,
		)
		return nil
	}
}

func apply(ctx context.Context, updater GridUpdater, ev *indexer.PersonChangeEvent) error {
	p := &ev.Person
	switch ev.Kind {
	case indexer.ChangePresence:
		return updater.UpdatePresence(ctx, p)
	case indexer.ChangeRemoval:
		return updater.RemovePerson(ctx, p)
	case indexer.ChangeLocation:
		return updater.UpdateGridSets(ctx, p, ev.Filters, filters.CategoryAll, ev.PreviousGridToken)
	case indexer.ChangeFilters:
		return updater.UpdateGridSets(ctx, p, ev.Filters, filters.ParseCategory(ev.Category), "")
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown change kind %q", ev.Kind)
	}
}
