package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/indexer/validator"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/person"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/kafka"
)

type recordingWriter struct {
	events []kafka.Event
	err    error
}

func (w *recordingWriter) Publish(_ context.Context, ev kafka.Event) error {
	if w.err != nil {
		return w.err
	}
	w.events = append(w.events, ev)
	return nil
}

func TestPublishKeysByPerson(t *testing.T) {
	w := &recordingWriter{}
	p := New(w)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	ev := &indexer.PersonChangeEvent{
		Kind:   indexer.ChangePresence,
		Person: person.Person{Token: "p1", GridToken: "r1c1", Online: true},
	}
	resp, err := p.Publish(context.Background(), ev)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if resp.Status != "ACCEPTED" || resp.PersonToken != "p1" {
		t.Errorf("response = %+v", resp)
	}
	if len(w.events) != 1 || w.events[0].Key != "p1" {
		t.Fatalf("events = %+v", w.events)
	}
	if got := w.events[0].Value.(*indexer.PersonChangeEvent).OccurredAt; !got.Equal(fixed) {
		t.Errorf("occurred_at = %v, want %v", got, fixed)
	}
}

func TestPublishRejectsInvalid(t *testing.T) {
	w := &recordingWriter{}
	_, err := New(w).Publish(context.Background(), &indexer.PersonChangeEvent{Kind: indexer.ChangeFilters})
	var verr *validator.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(w.events) != 0 {
		t.Error("invalid event must not be published")
	}
}

func TestPublishWrapsProducerError(t *testing.T) {
	down := errors.New("leader not available")
	_, err := New(&recordingWriter{err: down}).Publish(context.Background(), &indexer.PersonChangeEvent{
		Kind:   indexer.ChangeFilters,
		Person: person.Person{Token: "p1", GridToken: "r1c1"},
	})
	if !errors.Is(err, down) {
		t.Errorf("err = %v, want wrapped producer error", err)
	}
}
