package filters

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

func TestNetworksFilterGates(t *testing.T) {
	tests := []struct {
		name       string
		f          *NetworksFilter
		anySend    bool
		anyReceive bool
		waives     bool
	}{
		{"nil filter", nil, true, true, true},
		{"inactive", &NetworksFilter{Flags: Flags{Send: true, Receive: true}}, true, true, true},
		{"any network", &NetworksFilter{Flags: Flags{Active: true, Send: true, Receive: true}, AnyNetwork: true}, true, true, true},
		{"specific both gated", &NetworksFilter{Flags: Flags{Active: true, Send: true, Receive: true}}, false, false, false},
		{"send disabled", &NetworksFilter{Flags: Flags{Active: true, Receive: true}}, true, false, false},
		{"receive disabled", &NetworksFilter{Flags: Flags{Active: true, Send: true}}, false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.WaivesNetworks(); got != tt.waives {
				t.Errorf("WaivesNetworks() = %v, want %v", got, tt.waives)
			}
			if got := tt.f.OpensAnySend(); got != tt.anySend {
				t.Errorf("OpensAnySend() = %v, want %v", got, tt.anySend)
			}
			if got := tt.f.OpensAnyReceive(); got != tt.anyReceive {
				t.Errorf("OpensAnyReceive() = %v, want %v", got, tt.anyReceive)
			}
		})
	}
}

func TestModesFilterRestricts(t *testing.T) {
	f := &ModesFilter{
		Flags: Flags{Active: true, Send: true, Receive: false},
		Items: []ModeItem{
			{Item: Item{Active: true}, ModeToken: "general"},
			{Item: Item{Active: true, Negative: true}, ModeToken: "kids"},
			{Item: Item{Active: true, Deleted: true}, ModeToken: "partner"},
		},
	}
	if !f.RestrictsSend("general") {
		t.Error("general send should be restricted")
	}
	if f.RestrictsReceive("general") {
		t.Error("receive is not gated by this filter")
	}
	if f.RestrictsSend("kids") || f.RestrictsSend("partner") {
		t.Error("negated and deleted items must not restrict")
	}
	var nilFilter *ModesFilter
	if nilFilter.RestrictsSend("general") || nilFilter.IsActive() {
		t.Error("nil filter must be permissive")
	}
}

func TestDistanceRadius(t *testing.T) {
	tests := []struct {
		name string
		f    *DistanceFilter
		want float64
	}{
		{"nil", nil, 20},
		{"inactive", &DistanceFilter{Flags: Flags{Send: true}, Miles: 5}, 20},
		{"not send", &DistanceFilter{Flags: Flags{Active: true}, Miles: 5}, 20},
		{"zero", &DistanceFilter{Flags: Flags{Active: true, Send: true}}, 20},
		{"active", &DistanceFilter{Flags: Flags{Active: true, Send: true}, Miles: 5}, 5},
		{"above ceiling", &DistanceFilter{Flags: Flags{Active: true, Send: true}, Miles: 1e6}, MaxRadiusMiles},
		{"infinite", &DistanceFilter{Flags: Flags{Active: true, Send: true}, Miles: math.Inf(1)}, MaxRadiusMiles},
		{"nan", &DistanceFilter{Flags: Flags{Active: true, Send: true}, Miles: math.NaN()}, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.RadiusMiles(20); got != tt.want {
				t.Errorf("RadiusMiles() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDistanceCheckMiles(t *testing.T) {
	tests := []struct {
		name    string
		f       *DistanceFilter
		wantErr bool
	}{
		{"nil", nil, false},
		{"zero", &DistanceFilter{}, false},
		{"ceiling", &DistanceFilter{Miles: MaxRadiusMiles}, false},
		{"negative", &DistanceFilter{Miles: -1}, true},
		{"too large", &DistanceFilter{Miles: 1e6}, true},
		{"nan", &DistanceFilter{Miles: math.NaN()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.f.CheckMiles(); (err != nil) != tt.wantErr {
				t.Errorf("CheckMiles() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildPersonFilters(t *testing.T) {
	rows := []filterRow{
		{category: "networks", active: true, send: true, receive: true, allVerified: true},
		{category: "distance", active: true, send: true, value: sql.NullFloat64{Float64: 12, Valid: true}},
	}
	items := []itemRow{
		{category: "networks", token: "n1", item: Item{Active: true}},
		{category: "modes", token: "kids", item: Item{Active: true}},
	}
	pf := buildPersonFilters(rows, items)
	if pf.Networks == nil || !pf.Networks.AllVerified || len(pf.Networks.Items) != 1 {
		t.Fatalf("networks = %+v", pf.Networks)
	}
	if pf.Modes == nil || pf.Modes.IsActive() || len(pf.Modes.Items) != 1 {
		t.Fatalf("modes = %+v", pf.Modes)
	}
	if pf.Distance.RadiusMiles(20) != 12 {
		t.Errorf("distance = %+v", pf.Distance)
	}
}

type countingSource struct {
	StaticCatalog
	loads atomic.Int32
	fail  atomic.Bool
}

func (c *countingSource) LoadModes(ctx context.Context) ([]Mode, error) {
	c.loads.Add(1)
	if c.fail.Load() {
		return nil, errors.New("db down")
	}
	return c.StaticCatalog.LoadModes(ctx)
}

func TestLookupCachesAndRefreshes(t *testing.T) {
	src := &countingSource{StaticCatalog: StaticCatalog{
		ModeList:    []Mode{{ID: 1, Token: "general"}, {ID: 2, Token: "kids"}},
		NetworkList: []Network{{Token: "n1", Verified: true}},
	}}
	now := time.Unix(1000, 0)
	l := NewLookup(src, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	modes, err := l.Modes(ctx)
	if err != nil {
		t.Fatalf("Modes: %v", err)
	}
	if modes.ByID[2].Token != "kids" || modes.ByToken["general"].ID != 1 {
		t.Errorf("catalog = %+v", modes)
	}
	if _, err := l.Networks(ctx); err != nil {
		t.Fatalf("Networks: %v", err)
	}
	if n := src.loads.Load(); n != 1 {
		t.Errorf("loads = %d, want 1", n)
	}

	now = now.Add(2 * time.Minute)
	src.fail.Store(true)
	if _, err := l.Modes(ctx); err != nil {
		t.Fatalf("stale snapshot should be served on reload failure: %v", err)
	}
	if n := src.loads.Load(); n != 2 {
		t.Errorf("loads = %d, want 2", n)
	}

	l.Invalidate()
	if _, err := l.Modes(ctx); err == nil {
		t.Error("expected error with no snapshot and failing source")
	}
}

// ctxSource fails like a database driver once its context is done.
type ctxSource struct {
	StaticCatalog
	loads atomic.Int32
}

func (c *ctxSource) LoadModes(ctx context.Context) ([]Mode, error) {
	c.loads.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("reload has no deadline")
	}
	return c.StaticCatalog.LoadModes(ctx)
}

func TestLookupReloadIgnoresCallerCancellation(t *testing.T) {
	src := &ctxSource{StaticCatalog: StaticCatalog{
		ModeList:    []Mode{{ID: 1, Token: "general"}},
		NetworkList: []Network{{Token: "n1", Verified: true}},
	}}
	l := NewLookup(src, time.Minute)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	modes, err := l.Modes(cancelled)
	if err != nil {
		t.Fatalf("reload started by a cancelled caller failed: %v", err)
	}
	if modes.ByToken["general"].ID != 1 {
		t.Errorf("catalog = %+v", modes)
	}
	if _, err := l.Networks(context.Background()); err != nil {
		t.Fatalf("Networks: %v", err)
	}
	if n := src.loads.Load(); n != 1 {
		t.Errorf("loads = %d, want 1", n)
	}
}

func TestMemoryStoreDefaultsToPermissive(t *testing.T) {
	s := NewMemoryStore()
	pf, err := s.PersonFilters(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if pf.Networks.IsActive() || pf.Modes.IsActive() {
		t.Error("missing filters must be inactive")
	}
}
