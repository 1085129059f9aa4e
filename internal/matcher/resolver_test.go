package matcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/filters"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/geo"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/gridindex"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/person"
	apperrors "github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/resilience"
)

type fakeLocator struct {
	cells    []geo.Cell
	err      error
	radiusKm float64
	lat, lon float64
}

func (f *fakeLocator) Nearby(_ context.Context, lat, lon, radiusKm float64) ([]geo.Cell, error) {
	f.radiusKm, f.lat, f.lon = radiusKm, lat, lon
	return f.cells, f.err
}

// world is an index populated through the maintainer, the way the indexer
// job populates it in production.
type world struct {
	t        testing.TB
	store    *gridindex.MemoryStore
	filters  *filters.MemoryStore
	maint    *gridindex.Maintainer
	locator  *fakeLocator
	resolver *Resolver
}

func newWorld(t testing.TB) *world {
	t.Helper()
	store := gridindex.NewMemoryStore()
	fs := filters.NewMemoryStore()
	catalog := filters.NewLookup(filters.StaticCatalog{
		ModeList: []filters.Mode{
			{ID: 1, Token: person.ModeGeneral},
			{ID: 2, Token: person.ModePartner},
			{ID: 3, Token: person.ModeKids},
		},
		NetworkList: []filters.Network{
			{Token: "N1", Verified: true},
			{Token: "N2", Verified: true},
			{Token: "N5", Verified: true},
			{Token: "N9", Verified: false},
		},
	}, 0)
	loc := &fakeLocator{cells: []geo.Cell{{Token: "G"}}}
	return &world{
		t:        t,
		store:    store,
		filters:  fs,
		maint:    gridindex.NewMaintainer(store, fs, catalog, gridindex.WithRetry(resilience.RetryConfig{MaxAttempts: 1})),
		locator:  loc,
		resolver: NewResolver(store, loc, fs),
	}
}

func (w *world) add(p *person.Person, pf *filters.PersonFilters) *person.Person {
	w.t.Helper()
	if pf == nil {
		pf = &filters.PersonFilters{}
	}
	w.filters.Put(p.Token, pf)
	if err := w.maint.UpdateGridSets(context.Background(), p, pf, filters.CategoryAll, ""); err != nil {
		w.t.Fatalf("indexing %s: %v", p.Token, err)
	}
	return p
}

func (w *world) match(p *person.Person, req Request) *Result {
	w.t.Helper()
	res, err := w.resolver.GetMatches(context.Background(), p, req)
	if err != nil {
		w.t.Fatalf("GetMatches(%s): %v", p.Token, err)
	}
	return res
}

func online(token, network string, modes ...string) *person.Person {
	if len(modes) == 0 {
		modes = []string{person.ModeGeneral}
	}
	return &person.Person{
		Token:        token,
		GridToken:    "G",
		NetworkToken: network,
		Online:       true,
		Modes:        modes,
	}
}

var gated = filters.Flags{Active: true, Send: true, Receive: true}

func TestGetMatchesContractViolations(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	if _, err := w.resolver.GetMatches(ctx, nil, Request{}); !errors.Is(err, apperrors.ErrMissingPerson) {
		t.Errorf("nil person err = %v", err)
	}
	p := online("p1", "N1")
	p.GridToken = ""
	if _, err := w.resolver.GetMatches(ctx, p, Request{}); !errors.Is(err, apperrors.ErrMissingGridToken) {
		t.Errorf("missing grid err = %v", err)
	}
}

func TestGetMatchesSearchRadius(t *testing.T) {
	tests := []struct {
		name  string
		pf    *filters.PersonFilters
		miles float64
	}{
		{"no filter", nil, 20},
		{"inactive distance", &filters.PersonFilters{Distance: &filters.DistanceFilter{Miles: 5}}, 20},
		{"active but send disabled", &filters.PersonFilters{Distance: &filters.DistanceFilter{Flags: filters.Flags{Active: true}, Miles: 5}}, 20},
		{"active send zero", &filters.PersonFilters{Distance: &filters.DistanceFilter{Flags: filters.Flags{Active: true, Send: true}}}, 20},
		{"active send", &filters.PersonFilters{Distance: &filters.DistanceFilter{Flags: filters.Flags{Active: true, Send: true}, Miles: 5}}, 5},
		{"huge distance is capped", &filters.PersonFilters{Distance: &filters.DistanceFilter{Flags: filters.Flags{Active: true, Send: true}, Miles: 1e6}}, filters.MaxRadiusMiles},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t)
			p := w.add(online("p1", "N1"), tt.pf)
			w.match(p, Request{})
			want := tt.miles * geo.KmPerMile
			if math.Abs(w.locator.radiusKm-want) > 1e-9 {
				t.Errorf("radius = %v km, want %v km", w.locator.radiusKm, want)
			}
		})
	}
}

func TestGetMatchesConfiguredMaxRadius(t *testing.T) {
	w := newWorld(t)
	w.resolver = NewResolver(w.store, w.locator, w.filters, WithMaxRadius(50))
	p := w.add(online("p1", "N1"), nil)

	huge := &filters.PersonFilters{Distance: &filters.DistanceFilter{Flags: filters.Flags{Active: true, Send: true}, Miles: 1e6}}
	w.match(p, Request{Filters: huge})
	if want := 50 * geo.KmPerMile; math.Abs(w.locator.radiusKm-want) > 1e-9 {
		t.Errorf("radius = %v km, want %v km", w.locator.radiusKm, want)
	}

	w.match(p, Request{})
	if want := DefaultRadiusMiles * geo.KmPerMile; math.Abs(w.locator.radiusKm-want) > 1e-9 {
		t.Errorf("default radius = %v km, want %v km", w.locator.radiusKm, want)
	}
}

func TestGetMatchesActivityOrigin(t *testing.T) {
	w := newWorld(t)
	p := w.add(online("p1", "N1"), nil)
	p.Lat, p.Lon = 1, 2
	w.match(p, Request{Activity: &ActivityContext{Location: &Location{Lat: 10, Lon: 20}}})
	if w.locator.lat != 10 || w.locator.lon != 20 {
		t.Errorf("origin = %v,%v, want activity location", w.locator.lat, w.locator.lon)
	}
}

func TestGetMatchesAnyNetworkScenario(t *testing.T) {
	w := newWorld(t)
	p1 := w.add(online("P1", "N1"), nil)
	p2 := w.add(online("P2", "N2"), &filters.PersonFilters{
		Networks: &filters.NetworksFilter{Flags: gated, AnyNetwork: true},
	})

	r1 := w.match(p1, Request{})
	if !r1.Send.Has("P2") || !r1.Receive.Has("P2") {
		t.Errorf("P1 send=%v receive=%v, want P2 in both", r1.Send.Sorted(), r1.Receive.Sorted())
	}
	r2 := w.match(p2, Request{})
	if !r2.Send.Has("P1") || !r2.Receive.Has("P1") {
		t.Errorf("P2 send=%v receive=%v, want P1 in both", r2.Send.Sorted(), r2.Receive.Sorted())
	}
}

func TestGetMatchesDirectionsAreIndependent(t *testing.T) {
	w := newWorld(t)
	p3 := w.add(online("P3", "N1"), &filters.PersonFilters{
		Networks: &filters.NetworksFilter{
			Flags: filters.Flags{Active: true, Receive: true},
			Items: []filters.NetworkItem{{Item: filters.Item{Active: true}, NetworkToken: "N5"}},
		},
	})
	p4Filters := &filters.PersonFilters{
		Networks: &filters.NetworksFilter{
			Flags: gated,
			Items: []filters.NetworkItem{{Item: filters.Item{Active: true}, NetworkToken: "N9"}},
		},
	}
	p4 := w.add(online("P4", "N9"), p4Filters)

	if w.match(p3, Request{}).Send.Has("P4") {
		t.Error("P4 must not be in P3's send set")
	}
	if w.match(p4, Request{}).Receive.Has("P3") {
		t.Error("P4 gates receiving, P3 should not reach it")
	}

	// P4 stops gating receive: P3 opened sending to any network, so P3 now
	// reaches P4 even though P4 is still outside P3's send set.
	open := &filters.PersonFilters{Networks: &filters.NetworksFilter{
		Flags: filters.Flags{Active: true, Send: true},
		Items: p4Filters.Networks.Items,
	}}
	if !w.match(p4, Request{Filters: open}).Receive.Has("P3") {
		t.Error("P3 should be in P4's receive set")
	}
	if w.match(p3, Request{}).Send.Has("P4") {
		t.Error("P4 still must not be in P3's send set")
	}
}

func TestGetMatchesSameNetworkOverride(t *testing.T) {
	w := newWorld(t)
	closed := &filters.PersonFilters{Networks: &filters.NetworksFilter{Flags: gated}}
	a := w.add(online("A", "N1"), closed)
	w.add(online("B", "N1"), closed)
	w.add(online("C", "N2"), closed)

	r := w.match(a, Request{})
	if !r.Send.Has("B") || !r.Receive.Has("B") {
		t.Errorf("same-network B must match both ways, got send=%v receive=%v", r.Send.Sorted(), r.Receive.Sorted())
	}
	if r.Send.Has("C") || r.Receive.Has("C") {
		t.Error("C is on another network with every gate closed")
	}
}

func TestGetMatchesOptedInNetworkCountsAsSame(t *testing.T) {
	w := newWorld(t)
	closed := filters.Flags{Active: true, Send: true, Receive: true}
	a := w.add(online("A", "N1"), &filters.PersonFilters{Networks: &filters.NetworksFilter{Flags: closed}})
	w.add(online("B", "N2"), &filters.PersonFilters{Networks: &filters.NetworksFilter{
		Flags: closed,
		Items: []filters.NetworkItem{{Item: filters.Item{Active: true}, NetworkToken: "N1"}},
	}})
	if r := w.match(a, Request{}); !r.Send.Has("B") {
		t.Error("B opted into N1 and should be reachable from A")
	}
}

func TestGetMatchesExcludesOfflineAndSelf(t *testing.T) {
	w := newWorld(t)
	a := w.add(online("A", "N1"), nil)
	off := online("B", "N1")
	off.Online = false
	w.add(off, nil)
	w.add(online("C", "N1"), nil)

	r := w.match(a, Request{})
	for _, set := range []Set{r.Send, r.Receive} {
		if set.Has("A") {
			t.Error("viewer must not match themselves")
		}
		if set.Has("B") {
			t.Error("offline B must be excluded")
		}
		if !set.Has("C") {
			t.Error("online C must match")
		}
	}
}

func TestGetMatchesInitialTokensAndMonotonicity(t *testing.T) {
	w := newWorld(t)
	a := w.add(online("A", "N1"), nil)
	w.add(online("B", "N1"), nil)
	w.add(online("C", "N1"), nil)

	r := w.match(a, Request{InitialTokens: []string{"B", "Z"}})
	universe := NewSet("B")
	if len(r.Send.Subtract(universe)) != 0 || len(r.Receive.Subtract(universe)) != 0 {
		t.Errorf("results escape the candidate universe: send=%v receive=%v", r.Send.Sorted(), r.Receive.Sorted())
	}
	if !r.Send.Has("B") {
		t.Error("B should survive every stage")
	}

	full := w.match(a, Request{})
	locations, _ := w.store.Union(context.Background(), []string{"grid:G:location"})
	all := NewSet(locations...)
	if len(full.Send.Subtract(all)) != 0 || len(full.Receive.Subtract(all)) != 0 {
		t.Error("results must be subsets of the location union")
	}
}

func TestGetMatchesModeFilter(t *testing.T) {
	w := newWorld(t)
	kid := []person.Kid{{Active: true, Gender: "m", Age: 7}}

	viewer := online("V", "N1", person.ModeGeneral, person.ModeKids)
	viewer.Kids = kid
	w.add(viewer, &filters.PersonFilters{Modes: &filters.ModesFilter{
		Flags: filters.Flags{Active: true, Send: true},
		Items: []filters.ModeItem{{Item: filters.Item{Active: true}, ModeToken: person.ModeKids}},
	}})
	w.add(online("A", "N1", person.ModeGeneral), nil)
	b := online("B", "N1", person.ModeKids)
	b.Kids = kid
	w.add(b, nil)

	r := w.match(viewer, Request{})
	if r.Send.Has("A") {
		t.Error("viewer sends only in kids mode, A cannot use kids")
	}
	if !r.Send.Has("B") {
		t.Error("B is kids-eligible and should be in the send set")
	}
	if !r.Receive.Has("A") || !r.Receive.Has("B") {
		t.Errorf("receive is not gated, got %v", r.Receive.Sorted())
	}
}

func TestGetMatchesActivityModeNarrowsSelection(t *testing.T) {
	w := newWorld(t)
	kid := []person.Kid{{Active: true, Gender: "f", Age: 3}}
	viewer := online("V", "N1", person.ModeGeneral, person.ModeKids)
	viewer.Kids = kid
	w.add(viewer, nil)
	w.add(online("A", "N1", person.ModeGeneral), nil)
	b := online("B", "N1", person.ModeKids)
	b.Kids = kid
	w.add(b, nil)

	r := w.match(viewer, Request{Activity: &ActivityContext{Mode: person.ModeKids}})
	if r.Send.Has("A") || !r.Send.Has("B") {
		t.Errorf("kids activity send = %v, want only B", r.Send.Sorted())
	}

	r = w.match(viewer, Request{Activity: &ActivityContext{Mode: person.ModePartner}})
	if len(r.Send) != 0 || len(r.Receive) != 0 {
		t.Errorf("viewer has no valid partner mode, got send=%v receive=%v", r.Send.Sorted(), r.Receive.Sorted())
	}
}

type failingUnionStore struct {
	*gridindex.MemoryStore
}

func (failingUnionStore) Union(context.Context, []string) ([]string, error) {
	return nil, errors.New("i/o timeout")
}

func TestGetMatchesStageFailureRejects(t *testing.T) {
	w := newWorld(t)
	p := w.add(online("A", "N1"), nil)

	r := NewResolver(failingUnionStore{w.store}, w.locator, w.filters)
	if res, err := r.GetMatches(context.Background(), p, Request{}); err == nil || res != nil {
		t.Errorf("store failure must reject, got res=%v err=%v", res, err)
	}

	w.locator.err = errors.New("locator down")
	if _, err := w.resolver.GetMatches(context.Background(), p, Request{}); err == nil {
		t.Error("locator failure must reject")
	}
}

func BenchmarkGetMatches(b *testing.B) {
	w := newWorld(b)
	networks := []string{"N1", "N2", "N5", "N9"}
	for i := range 2000 {
		p := online(fmt.Sprintf("p%04d", i), networks[i%len(networks)], person.ModeGeneral)
		p.Online = i%5 != 0
		var pf *filters.PersonFilters
		if i%3 == 0 {
			pf = &filters.PersonFilters{Networks: &filters.NetworksFilter{Flags: gated, AnyNetwork: true}}
		}
		w.add(p, pf)
	}
	viewer := online("viewer", "N1")
	w.add(viewer, nil)

	ctx := context.Background()
	for b.Loop() {
		if _, err := w.resolver.GetMatches(ctx, viewer, Request{}); err != nil {
			b.Fatal(err)
		}
	}
}
