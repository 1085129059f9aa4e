// Package indexer defines the person-change events that drive grid index
// maintenance. Producers publish them to Kafka keyed by person token so that
// changes of one person are applied in order.
package indexer

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/filters"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/person"
)

// ChangeKind says which part of a person changed.
type ChangeKind string

const (
	// ChangeFilters is an in-place change of one filter category, or of all
	// of them when Category is empty.
	ChangeFilters ChangeKind = "filters"
	// ChangeLocation is a move to another grid cell.
	ChangeLocation ChangeKind = "location"
	ChangePresence ChangeKind = "presence"
	ChangeRemoval  ChangeKind = "removal"
)

// PersonChangeEvent is the Kafka payload consumed by the grid indexer.
type PersonChangeEvent struct {
	Kind              ChangeKind             `json:"kind"`
	Person            person.Person          `json:"person"`
	Category          string                 `json:"category,omitempty"`
	PreviousGridToken string                 `json:"previous_grid_token,omitempty"`
	Filters           *filters.PersonFilters `json:"filters,omitempty"`
	OccurredAt        time.Time              `json:"occurred_at"`
}

// PublishResponse is returned to the caller after an event is accepted.
type PublishResponse struct {
	PersonToken string     `json:"person_token"`
	Kind        ChangeKind `json:"kind"`
	Status      string     `json:"status"`
}
