// Package gridindex maintains the per-cell inverted index of person tokens
// that the match resolver reads.
//
// Every set is keyed by grid cell, category and an optional discriminator:
//
//	grid:{cell}:location
//	grid:{cell}:online
//	grid:{cell}:modes:{mode}
//	grid:{cell}:modes:{mode}:send
//	grid:{cell}:modes:{mode}:receive
//	grid:{cell}:networks:{network}
//	grid:{cell}:networks:any:send
//	grid:{cell}:networks:any:receive
package gridindex

import "strings"

const keyPrefix = "grid:"

// CellKeys names the sets under one grid cell.
type CellKeys struct {
	cell string
}

func Cell(gridToken string) CellKeys {
	return CellKeys{cell: gridToken}
}

func (k CellKeys) Token() string { return k.cell }

func (k CellKeys) join(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyPrefix)
	b.WriteString(k.cell)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

func (k CellKeys) Location() string { return k.join("location") }

func (k CellKeys) Online() string { return k.join("online") }

func (k CellKeys) Mode(mode string) string { return k.join("modes", mode) }

func (k CellKeys) ModeSend(mode string) string { return k.join("modes", mode, "send") }

func (k CellKeys) ModeReceive(mode string) string { return k.join("modes", mode, "receive") }

func (k CellKeys) Network(network string) string { return k.join("networks", network) }

func (k CellKeys) AnyNetworkSend() string { return k.join("networks", "any", "send") }

func (k CellKeys) AnyNetworkReceive() string { return k.join("networks", "any", "receive") }

// All returns every key a person can belong to under the cell, given the
// mode and network catalogs.
func (k CellKeys) All(modes []string, networks []string) []string {
	keys := make([]string, 0, 4+3*len(modes)+len(networks))
	keys = append(keys, k.Location(), k.Online(), k.AnyNetworkSend(), k.AnyNetworkReceive())
	for _, m := range modes {
		keys = append(keys, k.Mode(m), k.ModeSend(m), k.ModeReceive(m))
	}
	for _, n := range networks {
		keys = append(keys, k.Network(n))
	}
	return keys
}

// Keys maps the same category across several cells.
func Keys(cells []CellKeys, key func(CellKeys) string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = key(c)
	}
	return out
}
