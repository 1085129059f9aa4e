// Package filters models a person's matching preferences. Each category is
// its own type with explicit optional fields; a nil or inactive category is
// fully permissive.
package filters

import (
	"fmt"
	"math"
)

// Category names a filter category as stored and as carried by change events.
type Category string

const (
	CategoryAll      Category = ""
	CategoryNetworks Category = "networks"
	CategoryModes    Category = "modes"
	CategoryDistance Category = "distance"
)

// ParseCategory maps an event or API value to a Category. Unknown values
// refresh everything.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryNetworks, CategoryModes, CategoryDistance:
		return Category(s)
	default:
		return CategoryAll
	}
}

// Flags are shared by every category. Send and Receive gate directionality
// independently.
type Flags struct {
	Active  bool `json:"is_active"`
	Send    bool `json:"is_send"`
	Receive bool `json:"is_receive"`
}

// Item is one value of a multi-valued category.
type Item struct {
	Active   bool `json:"is_active"`
	Deleted  bool `json:"is_deleted"`
	Negative bool `json:"is_negative"`
}

// Effective reports whether the item currently selects its value.
func (i Item) Effective() bool {
	return i.Active && !i.Deleted && !i.Negative
}

type NetworkItem struct {
	Item
	NetworkToken string `json:"network_token"`
}

type NetworksFilter struct {
	Flags
	AnyNetwork  bool          `json:"is_any_network"`
	AllVerified bool          `json:"is_all_verified"`
	Items       []NetworkItem `json:"items"`
}

// IsActive is nil-safe.
func (f *NetworksFilter) IsActive() bool {
	return f != nil && f.Active
}

// WaivesNetworks reports whether the filter imposes no network restriction at
// all: it is inactive or the person chose "any network". The two are kept as
// separate flags and only meet here.
func (f *NetworksFilter) WaivesNetworks() bool {
	return !f.IsActive() || f.AnyNetwork
}

// OpensAnySend reports whether the owner belongs in the any-network send
// population.
func (f *NetworksFilter) OpensAnySend() bool {
	return f.WaivesNetworks() || !f.Send
}

// OpensAnyReceive reports whether the owner belongs in the any-network receive
// population.
func (f *NetworksFilter) OpensAnyReceive() bool {
	return f.WaivesNetworks() || !f.Receive
}

type ModeItem struct {
	Item
	ModeToken string `json:"mode_token"`
}

type ModesFilter struct {
	Flags
	Items []ModeItem `json:"items"`
}

// IsActive is nil-safe.
func (f *ModesFilter) IsActive() bool {
	return f != nil && f.Active
}

// HasEffectiveItem reports whether an effective item is tied to mode.
func (f *ModesFilter) HasEffectiveItem(mode string) bool {
	if f == nil {
		return false
	}
	for _, it := range f.Items {
		if it.ModeToken == mode && it.Effective() {
			return true
		}
	}
	return false
}

// RestrictsSend reports whether the owner's active filter explicitly
// restricts sending for mode.
func (f *ModesFilter) RestrictsSend(mode string) bool {
	return f.IsActive() && f.Send && f.HasEffectiveItem(mode)
}

// RestrictsReceive is RestrictsSend for the receive direction.
func (f *ModesFilter) RestrictsReceive(mode string) bool {
	return f.IsActive() && f.Receive && f.HasEffectiveItem(mode)
}

// MaxRadiusMiles is the largest radius a distance filter may carry.
const MaxRadiusMiles = 250.0

type DistanceFilter struct {
	Flags
	Miles float64 `json:"miles"`
}

// RadiusMiles returns the filter's radius when it is active, send-enabled and
// positive, otherwise def. The result never exceeds MaxRadiusMiles.
func (f *DistanceFilter) RadiusMiles(def float64) float64 {
	if f != nil && f.Active && f.Send && f.Miles > 0 {
		return math.Min(f.Miles, MaxRadiusMiles)
	}
	return def
}

// CheckMiles rejects a radius that is not a number in [0, MaxRadiusMiles].
func (f *DistanceFilter) CheckMiles() error {
	if f == nil {
		return nil
	}
	if math.IsNaN(f.Miles) || f.Miles < 0 || f.Miles > MaxRadiusMiles {
		return fmt.Errorf("distance must be within [0, %v] miles, got %v", MaxRadiusMiles, f.Miles)
	}
	return nil
}

// PersonFilters is the resolved set of filters of one person.
type PersonFilters struct {
	Networks *NetworksFilter `json:"networks,omitempty"`
	Modes    *ModesFilter    `json:"modes,omitempty"`
	Distance *DistanceFilter `json:"distance,omitempty"`
}
