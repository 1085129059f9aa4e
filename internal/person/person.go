// Package person holds the attributes of a person that the matching engine
// reads: where they are, which network they belong to, whether they are
// online and which modes they selected.
package person

import "slices"

// Well-known mode tokens that carry validity requirements.
const (
	ModeGeneral = "general"
	ModePartner = "partner"
	ModeKids    = "kids"
)

type Person struct {
	Token        string   `json:"person_token"`
	GridToken    string   `json:"grid_token"`
	Lat          float64  `json:"lat"`
	Lon          float64  `json:"lon"`
	NetworkToken string   `json:"network_token"`
	Online       bool     `json:"is_online"`
	Modes        []string `json:"modes"`
	Partner      *Partner `json:"partner,omitempty"`
	Kids         []Kid    `json:"kids,omitempty"`
}

type Partner struct {
	Deleted bool   `json:"deleted"`
	Gender  string `json:"gender"`
}

type Kid struct {
	Token   string `json:"token"`
	Active  bool   `json:"is_active"`
	Deleted bool   `json:"deleted"`
	Gender  string `json:"gender"`
	Age     int    `json:"age"`
}

// HasValidPartner reports whether partner mode can be used.
func (p *Person) HasValidPartner() bool {
	return p.Partner != nil && !p.Partner.Deleted && p.Partner.Gender != ""
}

// HasValidKid reports whether at least one kid is active, not deleted and
// fully specified.
func (p *Person) HasValidKid() bool {
	for _, k := range p.Kids {
		if k.Active && !k.Deleted && k.Gender != "" && k.Age > 0 {
			return true
		}
	}
	return false
}

// CanUseMode reports whether the person has the records a mode requires.
// Modes without requirements are always usable.
func (p *Person) CanUseMode(mode string) bool {
	switch mode {
	case ModePartner:
		return p.HasValidPartner()
	case ModeKids:
		return p.HasValidKid()
	default:
		return true
	}
}

// ValidModes returns the selected modes the person can actually use, in
// selection order and without duplicates.
func (p *Person) ValidModes() []string {
	out := make([]string, 0, len(p.Modes))
	for _, m := range p.Modes {
		if m == "" || slices.Contains(out, m) || !p.CanUseMode(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SelectsMode reports whether mode is among the person's valid modes.
func (p *Person) SelectsMode(mode string) bool {
	return slices.Contains(p.Modes, mode) && p.CanUseMode(mode)
}

// InvalidModes returns the modes of catalog the person cannot use, whether or
// not they selected them.
func (p *Person) InvalidModes(catalog []string) []string {
	var out []string
	for _, m := range catalog {
		if !p.CanUseMode(m) {
			out = append(out, m)
		}
	}
	return out
}
