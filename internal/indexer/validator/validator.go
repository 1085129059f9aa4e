// Package validator checks person-change events before they are published.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/filters"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/indexer"
)

const maxTokenLength = 255

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateEvent checks the fields the grid indexer relies on.
func ValidateEvent(ev *indexer.PersonChangeEvent) error {
	errs := make(map[string]string)

	switch ev.Kind {
	case indexer.ChangeFilters, indexer.ChangeLocation, indexer.ChangePresence, indexer.ChangeRemoval:
	case "":
		errs["kind"] = "kind is required"
	default:
		errs["kind"] = fmt.Sprintf("unknown kind %q", ev.Kind)
	}

	p := ev.Person
	if strings.TrimSpace(p.Token) == "" {
		errs["person.person_token"] = "person token is required"
	} else if len(p.Token) > maxTokenLength {
		errs["person.person_token"] = fmt.Sprintf("person token must be at most %d characters", maxTokenLength)
	}
	if ev.Kind != indexer.ChangeRemoval && p.GridToken == "" {
		errs["person.grid_token"] = "grid token is required"
	}
	if p.Lat < -90 || p.Lat > 90 {
		errs["person.lat"] = "latitude must be within [-90, 90]"
	}
	if p.Lon < -180 || p.Lon > 180 {
		errs["person.lon"] = "longitude must be within [-180, 180]"
	}

	if ev.Category != "" && filters.ParseCategory(ev.Category) == filters.CategoryAll {
		errs["category"] = fmt.Sprintf("unknown category %q", ev.Category)
	}
	if ev.Filters != nil {
		if err := ev.Filters.Distance.CheckMiles(); err != nil {
			errs["filters.distance.miles"] = err.Error()
		}
	}
	if ev.Kind == indexer.ChangeLocation {
		if ev.PreviousGridToken == "" {
			errs["previous_grid_token"] = "previous grid token is required for a location change"
		} else if ev.PreviousGridToken == p.GridToken {
			errs["previous_grid_token"] = "previous grid token equals the current one"
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
