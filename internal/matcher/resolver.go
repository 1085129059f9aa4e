// Package matcher resolves, for one person, who they may send an invitation to
// and who may send to them, by walking the grid index around their location.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/filters"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/geo"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/gridindex"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/person"
	apperrors "github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/tracing"
	"golang.org/x/sync/errgroup"
)

const DefaultRadiusMiles = 20.0

// Location is a search origin.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ActivityContext describes the activity a match is computed for.
type ActivityContext struct {
	Token string `json:"activity_token,omitempty"`
	// Location, when set, replaces the person's coordinates as search origin.
	Location *Location `json:"location,omitempty"`
	// Mode, when set, narrows the viewer's selected modes to this one.
	Mode string `json:"mode,omitempty"`
}

type Request struct {
	Activity *ActivityContext
	// Filters replaces the viewer's stored filters when non-nil.
	Filters *filters.PersonFilters
	// InitialTokens restricts the candidate universe when non-nil.
	InitialTokens []string
}

type Result struct {
	Send    Set
	Receive Set
}

// Matcher computes the matches of one person. The worker pool runs a Matcher.
type Matcher interface {
	GetMatches(ctx context.Context, p *person.Person, req Request) (*Result, error)
}

type Resolver struct {
	store              gridindex.Store
	locator            geo.Locator
	filters            filters.Store
	defaultRadiusMiles float64
	maxRadiusMiles     float64
	metrics            *metrics.Metrics
	logger             *slog.Logger
}

type Option func(*Resolver)

// WithDefaultRadius overrides the radius used without a distance filter.
func WithDefaultRadius(miles float64) Option {
	return func(r *Resolver) {
		if miles > 0 {
			r.defaultRadiusMiles = miles
		}
	}
}

// WithMaxRadius lowers the ceiling applied to every search radius. Values
// outside (0, filters.MaxRadiusMiles] are ignored.
func WithMaxRadius(miles float64) Option {
	return func(r *Resolver) {
		if miles > 0 && miles <= filters.MaxRadiusMiles {
			r.maxRadiusMiles = miles
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func NewResolver(store gridindex.Store, locator geo.Locator, filterStore filters.Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:              store,
		locator:            locator,
		filters:            filterStore,
		defaultRadiusMiles: DefaultRadiusMiles,
		maxRadiusMiles:     filters.MaxRadiusMiles,
		logger:             slog.Default().With("component", "match-resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// resolution is the state threaded through the stages. Stages only add to
// the exclude sets, and only members of universe.
type resolution struct {
	viewer         *person.Person
	filters        *filters.PersonFilters
	cells          []gridindex.CellKeys
	universe       Set
	excludeSend    Set
	excludeReceive Set
}

func (res *resolution) excludeBoth(s Set) {
	res.excludeSendOnly(s)
	res.excludeReceiveOnly(s)
}

func (res *resolution) excludeSendOnly(s Set) {
	for m := range s {
		if res.universe.Has(m) {
			res.excludeSend[m] = struct{}{}
		}
	}
}

func (res *resolution) excludeReceiveOnly(s Set) {
	for m := range s {
		if res.universe.Has(m) {
			res.excludeReceive[m] = struct{}{}
		}
	}
}

// GetMatches computes the send and receive sets of p. Any stage failure
// aborts the whole computation.
func (r *Resolver) GetMatches(ctx context.Context, p *person.Person, req Request) (*Result, error) {
	if p == nil {
		return nil, apperrors.ErrMissingPerson
	}
	log := logger.WithPerson(logger.FromContext(ctx), p.Token, p.GridToken).With("component", "match-resolver")
	ctx, span := tracing.StartChildSpan(ctx, "match.resolve")
	defer span.End()

	result, err := r.resolve(ctx, p, req)
	if err != nil {
		span.SetError(err)
		log.Error("match resolution failed", "error", err)
		r.countOutcome("error")
		return nil, err
	}
	span.SetAttr("send", len(result.Send))
	span.SetAttr("receive", len(result.Receive))
	if r.metrics != nil {
		r.metrics.MatchResultSize.WithLabelValues("send").Observe(float64(len(result.Send)))
		r.metrics.MatchResultSize.WithLabelValues("receive").Observe(float64(len(result.Receive)))
	}
	r.countOutcome("ok")
	log.Debug("matches resolved", "send", len(result.Send), "receive", len(result.Receive))
	return result, nil
}

func (r *Resolver) resolve(ctx context.Context, p *person.Person, req Request) (*Result, error) {
	if p.GridToken == "" {
		return nil, apperrors.ErrMissingGridToken
	}
	pf := req.Filters
	if pf == nil {
		fetched, err := r.filters.PersonFilters(ctx, p.Token)
		if err != nil {
			return nil, fmt.Errorf("fetching filters for %s: %w", p.Token, err)
		}
		pf = fetched
	}
	if pf == nil {
		pf = &filters.PersonFilters{}
	}
	res := &resolution{
		viewer:         p,
		filters:        pf,
		excludeSend:    make(Set),
		excludeReceive: make(Set),
	}

	stages := []struct {
		name string
		run  func(context.Context, *resolution, Request) error
	}{
		{"grid", r.resolveGrid},
		{"candidates", r.collectCandidates},
		{"online", r.filterOnline},
		{"networks", r.filterNetworks},
		{"modes", r.filterModes},
	}
	for _, st := range stages {
		stageCtx, span := tracing.StartChildSpan(ctx, "match."+st.name)
		start := time.Now()
		err := st.run(stageCtx, res, req)
		if err != nil {
			span.SetError(err)
		}
		span.End()
		if r.metrics != nil {
			r.metrics.MatchLatency.WithLabelValues(st.name).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			return nil, fmt.Errorf("%s stage: %w", st.name, err)
		}
	}

	return &Result{
		Send:    res.universe.Subtract(res.excludeSend),
		Receive: res.universe.Subtract(res.excludeReceive),
	}, nil
}

// SearchRadiusMiles is the distance filter radius when active, send-enabled
// and positive, else def.
func SearchRadiusMiles(pf *filters.PersonFilters, def float64) float64 {
	if pf == nil {
		return def
	}
	return pf.Distance.RadiusMiles(def)
}

func (r *Resolver) resolveGrid(ctx context.Context, res *resolution, req Request) error {
	lat, lon := res.viewer.Lat, res.viewer.Lon
	if req.Activity != nil && req.Activity.Location != nil {
		lat, lon = req.Activity.Location.Lat, req.Activity.Location.Lon
	}
	miles := min(SearchRadiusMiles(res.filters, r.defaultRadiusMiles), r.maxRadiusMiles)
	nearby, err := r.locator.Nearby(ctx, lat, lon, geo.MilesToKm(miles))
	if err != nil {
		return fmt.Errorf("locating cells within %.1f miles: %w", miles, err)
	}
	seen := make(map[string]struct{}, len(nearby)+1)
	add := func(token string) {
		if _, ok := seen[token]; ok || token == "" {
			return
		}
		seen[token] = struct{}{}
		res.cells = append(res.cells, gridindex.Cell(token))
	}
	if req.Activity == nil || req.Activity.Location == nil {
		add(res.viewer.GridToken)
	}
	for _, c := range nearby {
		add(c.Token)
	}
	if span := tracing.SpanFromContext(ctx); span != nil {
		span.SetAttr("cells", len(res.cells))
		span.SetAttr("radius_miles", miles)
	}
	return nil
}

func (r *Resolver) collectCandidates(ctx context.Context, res *resolution, req Request) error {
	members, err := r.store.Union(ctx, gridindex.Keys(res.cells, gridindex.CellKeys.Location))
	if err != nil {
		return fmt.Errorf("loading location sets: %w", err)
	}
	res.universe = NewSet(members...)
	if req.InitialTokens != nil {
		res.universe = res.universe.Intersect(NewSet(req.InitialTokens...))
	}
	res.excludeBoth(NewSet(res.viewer.Token))
	if r.metrics != nil {
		r.metrics.MatchCandidates.Observe(float64(len(res.universe)))
	}
	return nil
}

func (r *Resolver) filterOnline(ctx context.Context, res *resolution, _ Request) error {
	members, err := r.store.Union(ctx, gridindex.Keys(res.cells, gridindex.CellKeys.Online))
	if err != nil {
		return fmt.Errorf("loading online sets: %w", err)
	}
	res.excludeBoth(res.universe.Subtract(NewSet(members...)))
	return nil
}

func (r *Resolver) filterNetworks(ctx context.Context, res *resolution, _ Request) error {
	var np networkPopulations
	g, gctx := errgroup.WithContext(ctx)
	load := func(dst *Set, keys []string) {
		g.Go(func() error {
			members, err := r.store.Union(gctx, keys)
			if err != nil {
				return err
			}
			*dst = NewSet(members...)
			return nil
		})
	}
	if net := res.viewer.NetworkToken; net != "" {
		load(&np.same, gridindex.Keys(res.cells, func(c gridindex.CellKeys) string { return c.Network(net) }))
	} else {
		np.same = make(Set)
	}
	load(&np.anySend, gridindex.Keys(res.cells, gridindex.CellKeys.AnyNetworkSend))
	load(&np.anyReceive, gridindex.Keys(res.cells, gridindex.CellKeys.AnyNetworkReceive))
	if err := g.Wait(); err != nil {
		return fmt.Errorf("loading network sets: %w", err)
	}

	nf := res.filters.Networks
	res.excludeSendOnly(res.universe.Subtract(np.sendReach(nf)))
	res.excludeReceiveOnly(res.universe.Subtract(np.receiveReach(nf)))
	return nil
}

func (r *Resolver) filterModes(ctx context.Context, res *resolution, req Request) error {
	selected := res.viewer.ValidModes()
	if req.Activity != nil && req.Activity.Mode != "" {
		if slices.Contains(selected, req.Activity.Mode) {
			selected = []string{req.Activity.Mode}
		} else {
			selected = nil
		}
	}
	if len(selected) == 0 {
		res.excludeBoth(res.universe)
		return nil
	}

	var keys []string
	for _, m := range selected {
		keys = append(keys, gridindex.Keys(res.cells, func(c gridindex.CellKeys) string { return c.ModeSend(m) })...)
		keys = append(keys, gridindex.Keys(res.cells, func(c gridindex.CellKeys) string { return c.ModeReceive(m) })...)
	}
	members, err := r.store.Members(ctx, keys)
	if err != nil {
		return fmt.Errorf("loading mode sets: %w", err)
	}
	mp := modePopulations{
		send:    make(map[string]Set, len(selected)),
		receive: make(map[string]Set, len(selected)),
	}
	for _, m := range selected {
		mp.send[m] = unionMembers(members, gridindex.Keys(res.cells, func(c gridindex.CellKeys) string { return c.ModeSend(m) }))
		mp.receive[m] = unionMembers(members, gridindex.Keys(res.cells, func(c gridindex.CellKeys) string { return c.ModeReceive(m) }))
	}

	mf := res.filters.Modes
	res.excludeSendOnly(res.universe.Subtract(mp.sendReach(selected, mf)))
	res.excludeReceiveOnly(res.universe.Subtract(mp.receiveReach(selected, mf)))
	return nil
}

func (r *Resolver) countOutcome(outcome string) {
	if r.metrics != nil {
		r.metrics.MatchRequestsTotal.WithLabelValues(outcome).Inc()
	}
}
