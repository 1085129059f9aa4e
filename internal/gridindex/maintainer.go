package gridindex

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/filters"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/person"
	apperrors "github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/resilience"
)

// Catalog is the part of filters.Lookup the maintainer reads.
type Catalog interface {
	Modes(ctx context.Context) (*filters.ModeCatalog, error)
	Networks(ctx context.Context) ([]filters.Network, error)
}

// Maintainer reconciles the grid sets with a person's current location,
// presence, modes and network filter.
type Maintainer struct {
	store   Store
	filters filters.Store
	catalog Catalog
	metrics *metrics.Metrics
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

// MaintainerOption customises a Maintainer.
type MaintainerOption func(*Maintainer)

// WithMetrics records reconciliations and write failures.
func WithMetrics(m *metrics.Metrics) MaintainerOption {
	return func(mt *Maintainer) { mt.metrics = m }
}

// WithRetry sets the retry policy of each pipelined write.
func WithRetry(cfg resilience.RetryConfig) MaintainerOption {
	return func(mt *Maintainer) { mt.retry = cfg }
}

func NewMaintainer(store Store, filterStore filters.Store, catalog Catalog, opts ...MaintainerOption) *Maintainer {
	m := &Maintainer{
		store:   store,
		filters: filterStore,
		catalog: catalog,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
		},
		logger: slog.Default().With("component", "grid-maintainer"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// plan collects the keys to add to and remove from for one member. A key in
// both ends up added.
type plan struct {
	add    map[string]struct{}
	remove map[string]struct{}
}

func newPlan() *plan {
	return &plan{
		add:    make(map[string]struct{}),
		remove: make(map[string]struct{}),
	}
}

func (p *plan) addKey(key string)    { p.add[key] = struct{}{} }
func (p *plan) removeKey(key string) { p.remove[key] = struct{}{} }

func (p *plan) set(key string, member bool) {
	if member {
		p.addKey(key)
	} else {
		p.removeKey(key)
	}
}

// keys returns the disjoint add and remove key lists.
func (p *plan) keys() (add, remove []string) {
	add = make([]string, 0, len(p.add))
	for k := range p.add {
		add = append(add, k)
	}
	remove = make([]string, 0, len(p.remove))
	for k := range p.remove {
		if _, ok := p.add[k]; ok {
			continue
		}
		remove = append(remove, k)
	}
	return add, remove
}

// UpdateGridSets reconciles the index for p. pf may be nil, in which case the
// filters are fetched. previousGridToken is set when the person moved.
//
// Relocation refreshes every category under the new cell and drops every
// membership under the old one. Without relocation only the changed category
// is recomputed; CategoryAll recomputes everything in place.
//
// Write failures are logged and do not abort the reconciliation; the index
// may be briefly stale.
func (m *Maintainer) UpdateGridSets(ctx context.Context, p *person.Person, pf *filters.PersonFilters, changed filters.Category, previousGridToken string) error {
	if p == nil {
		return apperrors.ErrMissingPerson
	}
	log := logger.WithPerson(logger.FromContext(ctx), p.Token, p.GridToken).With("component", "grid-maintainer")
	if p.GridToken == "" {
		log.Warn("person has no grid token, skipping grid update")
		return nil
	}
	relocated := previousGridToken != "" && previousGridToken != p.GridToken
	if !relocated && changed == filters.CategoryDistance {
		log.Debug("distance filter is not indexed, nothing to update")
		return nil
	}

	if pf == nil {
		fetched, err := m.filters.PersonFilters(ctx, p.Token)
		if err != nil {
			return fmt.Errorf("fetching filters for %s: %w", p.Token, err)
		}
		pf = fetched
	}
	modes, err := m.catalog.Modes(ctx)
	if err != nil {
		return fmt.Errorf("loading mode catalog: %w", err)
	}
	networks, err := m.catalog.Networks(ctx)
	if err != nil {
		return fmt.Errorf("loading network catalog: %w", err)
	}

	cur := Cell(p.GridToken)
	pl := newPlan()
	kind := "in_place"
	if relocated {
		kind = "relocation"
		for _, key := range Cell(previousGridToken).All(modes.Tokens(), heldNetworkTokens(networks, p, pf)) {
			pl.removeKey(key)
		}
	}

	refreshAll := relocated || changed == filters.CategoryAll
	if refreshAll {
		pl.addKey(cur.Location())
		pl.set(cur.Online(), p.Online)
	}
	if refreshAll || changed == filters.CategoryNetworks {
		planNetworks(pl, cur, p, pf.Networks, networks)
	}
	if refreshAll || changed == filters.CategoryModes {
		planModes(pl, cur, p, pf.Modes, modes)
	}

	category := string(changed)
	if changed == filters.CategoryAll {
		category = "all"
	}
	m.apply(ctx, log, p.Token, pl)
	if m.metrics != nil {
		m.metrics.GridUpdatesTotal.WithLabelValues(category, kind).Inc()
	}
	return nil
}

// UpdatePresence toggles only the online membership under the current cell.
func (m *Maintainer) UpdatePresence(ctx context.Context, p *person.Person) error {
	if p == nil {
		return apperrors.ErrMissingPerson
	}
	log := logger.WithPerson(logger.FromContext(ctx), p.Token, p.GridToken).With("component", "grid-maintainer")
	if p.GridToken == "" {
		log.Warn("person has no grid token, skipping presence update")
		return nil
	}
	pl := newPlan()
	pl.set(Cell(p.GridToken).Online(), p.Online)
	m.apply(ctx, log, p.Token, pl)
	if m.metrics != nil {
		m.metrics.GridUpdatesTotal.WithLabelValues("online", "presence").Inc()
	}
	return nil
}

// RemovePerson drops every membership of p under its current cell.
func (m *Maintainer) RemovePerson(ctx context.Context, p *person.Person) error {
	if p == nil {
		return apperrors.ErrMissingPerson
	}
	log := logger.WithPerson(logger.FromContext(ctx), p.Token, p.GridToken).With("component", "grid-maintainer")
	if p.GridToken == "" {
		log.Warn("person has no grid token, nothing to remove")
		return nil
	}
	modes, err := m.catalog.Modes(ctx)
	if err != nil {
		return fmt.Errorf("loading mode catalog: %w", err)
	}
	networks, err := m.catalog.Networks(ctx)
	if err != nil {
		return fmt.Errorf("loading network catalog: %w", err)
	}
	// Filters only widen the network keys to clear; removal goes ahead
	// without them.
	pf, err := m.filters.PersonFilters(ctx, p.Token)
	if err != nil {
		log.Warn("fetching filters for removal failed, clearing catalog networks only", "error", err)
		pf = nil
	}
	pl := newPlan()
	for _, key := range Cell(p.GridToken).All(modes.Tokens(), heldNetworkTokens(networks, p, pf)) {
		pl.removeKey(key)
	}
	m.apply(ctx, log, p.Token, pl)
	if m.metrics != nil {
		m.metrics.GridUpdatesTotal.WithLabelValues("all", "removal").Inc()
	}
	return nil
}

// apply flushes removals before additions, each as one pipeline.
func (m *Maintainer) apply(ctx context.Context, log *slog.Logger, member string, pl *plan) {
	add, remove := pl.keys()
	if len(remove) > 0 {
		err := resilience.Retry(ctx, "grid-remove", m.retry, func() error {
			return m.store.Remove(ctx, remove, member)
		})
		if err != nil {
			log.Error("removing grid memberships failed", "keys", len(remove), "error", err)
			m.countFailure("remove")
		}
	}
	if len(add) > 0 {
		err := resilience.Retry(ctx, "grid-add", m.retry, func() error {
			return m.store.Add(ctx, add, member)
		})
		if err != nil {
			log.Error("adding grid memberships failed", "keys", len(add), "error", err)
			m.countFailure("add")
		}
	}
	log.Debug("grid sets reconciled", "added", len(add), "removed", len(remove))
}

func (m *Maintainer) countFailure(op string) {
	if m.metrics != nil {
		m.metrics.GridWriteFailures.WithLabelValues(op).Inc()
	}
}

// planNetworks writes the person's own network membership, the per-network
// memberships they opted into, and the two any-network gates.
func planNetworks(pl *plan, cur CellKeys, p *person.Person, nf *filters.NetworksFilter, catalog []filters.Network) {
	if !nf.WaivesNetworks() {
		if nf.AllVerified {
			for _, n := range catalog {
				pl.set(cur.Network(n.Token), n.Verified)
			}
		} else {
			for _, it := range nf.Items {
				if it.NetworkToken == "" {
					continue
				}
				pl.set(cur.Network(it.NetworkToken), it.Effective())
			}
		}
	}
	if p.NetworkToken != "" {
		pl.addKey(cur.Network(p.NetworkToken))
	}
	pl.set(cur.AnyNetworkSend(), nf.OpensAnySend())
	pl.set(cur.AnyNetworkReceive(), nf.OpensAnyReceive())
}

// planModes writes mode membership and per-direction eligibility for every
// mode in the catalog.
//
// A selected mode is send-eligible unless the active filter gates sending and
// has no effective item for it. A mode the person did not select stays
// visible unless an effective item on the active filter restricts it. Modes
// the person cannot use (partner or kids without valid records) are removed
// from all three sets.
func planModes(pl *plan, cur CellKeys, p *person.Person, mf *filters.ModesFilter, catalog *filters.ModeCatalog) {
	tokens := catalog.Tokens()
	invalid := p.InvalidModes(tokens)
	for _, mode := range invalid {
		pl.removeKey(cur.Mode(mode))
		pl.removeKey(cur.ModeSend(mode))
		pl.removeKey(cur.ModeReceive(mode))
	}
	for _, mode := range tokens {
		if slices.Contains(invalid, mode) {
			continue
		}
		if p.SelectsMode(mode) {
			pl.addKey(cur.Mode(mode))
			gatedSend := mf.IsActive() && mf.Send
			gatedReceive := mf.IsActive() && mf.Receive
			pl.set(cur.ModeSend(mode), !gatedSend || mf.HasEffectiveItem(mode))
			pl.set(cur.ModeReceive(mode), !gatedReceive || mf.HasEffectiveItem(mode))
			continue
		}
		pl.removeKey(cur.Mode(mode))
		pl.set(cur.ModeSend(mode), !mf.RestrictsSend(mode))
		pl.set(cur.ModeReceive(mode), !mf.RestrictsReceive(mode))
	}
}

func networkTokens(networks []filters.Network) []string {
	out := make([]string, len(networks))
	for i, n := range networks {
		out[i] = n.Token
	}
	return out
}

// heldNetworkTokens lists every network key p may hold under a cell: the
// catalog, p's own network and the networks named by its filter items. The
// last two need not be in the catalog.
func heldNetworkTokens(networks []filters.Network, p *person.Person, pf *filters.PersonFilters) []string {
	out := networkTokens(networks)
	seen := make(map[string]struct{}, len(out)+1)
	for _, t := range out {
		seen[t] = struct{}{}
	}
	add := func(token string) {
		if _, ok := seen[token]; ok || token == "" {
			return
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	add(p.NetworkToken)
	if pf != nil && pf.Networks != nil {
		for _, it := range pf.Networks.Items {
			add(it.NetworkToken)
		}
	}
	return out
}
