// Package geo maps coordinates to grid cells and finds the cells around a
// point. The matching engine only depends on the Locator interface.
package geo

import (
	"context"
	"fmt"
	"math"
)

const (
	// KmPerMile converts the miles stored in distance filters to kilometres.
	KmPerMile = 1.609344

	// MaxRadiusKm bounds a Nearby query; larger radii are rejected.
	MaxRadiusKm = 500.0

	kmPerDegreeLat = 111.32
	maxLat         = 89.9
)

// MilesToKm converts miles to kilometres.
func MilesToKm(miles float64) float64 {
	return miles * KmPerMile
}

type Cell struct {
	Token string `json:"token"`
}

// Locator resolves the cells within radiusKm of a point, including the cell
// containing the point itself.
type Locator interface {
	Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]Cell, error)
}

// SquareGrid splits the globe into rows of constant latitude height and, per
// row, a whole number of columns of roughly constant width in kilometres.
// Columns wrap at the antimeridian, so lon 180 and lon -180 share a cell.
type SquareGrid struct {
	cellKm float64
	dLat   float64
}

func NewSquareGrid(cellKm float64) (*SquareGrid, error) {
	if cellKm <= 0 {
		return nil, fmt.Errorf("cell size must be positive, got %v", cellKm)
	}
	return &SquareGrid{cellKm: cellKm, dLat: cellKm / kmPerDegreeLat}, nil
}

// CellFor returns the cell containing lat/lon.
func (g *SquareGrid) CellFor(lat, lon float64) Cell {
	row := g.row(lat)
	return Cell{Token: cellToken(row, g.col(row, lon))}
}

func (g *SquareGrid) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]Cell, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("invalid coordinates %v,%v", lat, lon)
	}
	if math.IsNaN(radiusKm) || radiusKm > MaxRadiusKm {
		return nil, fmt.Errorf("radius %v km outside [0, %v]", radiusKm, MaxRadiusKm)
	}
	if radiusKm < 0 {
		radiusKm = 0
	}
	latSpan := radiusKm / kmPerDegreeLat
	minRow := g.row(lat - latSpan)
	maxRow := g.row(lat + latSpan)

	seen := make(map[string]struct{})
	cells := make([]Cell, 0, 16)
	add := func(token string) {
		if _, ok := seen[token]; ok {
			return
		}
		seen[token] = struct{}{}
		cells = append(cells, Cell{Token: token})
	}
	add(g.CellFor(lat, lon).Token)

	for row := minRow; row <= maxRow; row++ {
		n := g.columns(row)
		lonSpan := radiusKm / (kmPerDegreeLat * math.Cos(rowLatRad(row, g.dLat)))
		if lonSpan >= 180 {
			for col := 0; col < n; col++ {
				add(cellToken(row, col))
			}
			continue
		}
		// Raw indexes may run past either edge; wrap them into [0, n).
		dLon := 360 / float64(n)
		lo := int(math.Floor((lon - lonSpan + 180) / dLon))
		hi := int(math.Floor((lon + lonSpan + 180) / dLon))
		for c := lo; c <= hi && c-lo < n; c++ {
			add(cellToken(row, wrap(c, n)))
		}
	}
	return cells, nil
}

func (g *SquareGrid) row(lat float64) int {
	return int(math.Floor(clampLat(lat) / g.dLat))
}

// columns is the number of cells around the parallel at the row's centre.
func (g *SquareGrid) columns(row int) int {
	width := 360 * kmPerDegreeLat * math.Cos(rowLatRad(row, g.dLat))
	n := int(math.Ceil(width / g.cellKm))
	if n < 1 {
		n = 1
	}
	return n
}

func (g *SquareGrid) col(row int, lon float64) int {
	n := g.columns(row)
	return wrap(int(math.Floor((lon+180)/(360/float64(n)))), n)
}

func rowLatRad(row int, dLat float64) float64 {
	return clampLat((float64(row)+0.5)*dLat) * math.Pi / 180
}

func wrap(c, n int) int {
	return ((c % n) + n) % n
}

func clampLat(lat float64) float64 {
	return math.Max(-maxLat, math.Min(maxLat, lat))
}

func cellToken(row, col int) string {
	return fmt.Sprintf("r%dc%d", row, col)
}
