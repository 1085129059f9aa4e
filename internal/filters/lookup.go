package filters

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Mode struct {
	ID    int    `json:"id"`
	Token string `json:"token"`
}

type ModeCatalog struct {
	ByID    map[int]Mode
	ByToken map[string]Mode
}

// NewModeCatalog indexes modes by id and token.
func NewModeCatalog(modes []Mode) *ModeCatalog {
	c := &ModeCatalog{
		ByID:    make(map[int]Mode, len(modes)),
		ByToken: make(map[string]Mode, len(modes)),
	}
	for _, m := range modes {
		c.ByID[m.ID] = m
		c.ByToken[m.Token] = m
	}
	return c
}

// Tokens returns every mode token in the catalog.
func (c *ModeCatalog) Tokens() []string {
	out := make([]string, 0, len(c.ByToken))
	for token := range c.ByToken {
		out = append(out, token)
	}
	return out
}

type Network struct {
	Token    string `json:"network_token"`
	Verified bool   `json:"is_verified"`
}

// CatalogSource loads the mode and network catalogs.
type CatalogSource interface {
	LoadModes(ctx context.Context) ([]Mode, error)
	LoadNetworks(ctx context.Context) ([]Network, error)
}

type catalogSnapshot struct {
	modes    *ModeCatalog
	networks []Network
	loadedAt time.Time
}

// Lookup serves the mode and network catalogs to the maintainer and resolver.
// It is constructed explicitly and passed in; snapshots are reloaded after ttl
// and concurrent reloads collapse into one.
type Lookup struct {
	source CatalogSource
	ttl    time.Duration
	// loadTimeout bounds a shared reload, which runs detached from the
	// cancellation of whichever caller started it.
	loadTimeout time.Duration
	group       singleflight.Group
	mu          sync.RWMutex
	snap        *catalogSnapshot
	now         func() time.Time
	logger      *slog.Logger
}

const defaultLoadTimeout = 10 * time.Second

// NewLookup creates a Lookup. A ttl <= 0 keeps the first snapshot forever.
func NewLookup(source CatalogSource, ttl time.Duration) *Lookup {
	return &Lookup{
		source:      source,
		ttl:         ttl,
		loadTimeout: defaultLoadTimeout,
		now:         time.Now,
		logger:      slog.Default().With("component", "filter-lookup"),
	}
}

// Modes returns the current mode catalog.
func (l *Lookup) Modes(ctx context.Context) (*ModeCatalog, error) {
	snap, err := l.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.modes, nil
}

// Networks returns the current network catalog.
func (l *Lookup) Networks(ctx context.Context) ([]Network, error) {
	snap, err := l.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.networks, nil
}

// Invalidate drops the cached snapshot so the next call reloads.
func (l *Lookup) Invalidate() {
	l.mu.Lock()
	l.snap = nil
	l.mu.Unlock()
}

func (l *Lookup) snapshot(ctx context.Context) (*catalogSnapshot, error) {
	l.mu.RLock()
	snap := l.snap
	l.mu.RUnlock()
	if snap != nil && (l.ttl <= 0 || l.now().Sub(snap.loadedAt) < l.ttl) {
		return snap, nil
	}

	val, err, _ := l.group.Do("catalog", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.loadTimeout)
		defer cancel()
		modes, err := l.source.LoadModes(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading modes: %w", err)
		}
		networks, err := l.source.LoadNetworks(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading networks: %w", err)
		}
		fresh := &catalogSnapshot{
			modes:    NewModeCatalog(modes),
			networks: networks,
			loadedAt: l.now(),
		}
		l.mu.Lock()
		l.snap = fresh
		l.mu.Unlock()
		l.logger.Debug("catalog loaded", "modes", len(modes), "networks", len(networks))
		return fresh, nil
	})
	if err != nil {
		if snap != nil {
			l.logger.Warn("catalog reload failed, serving stale snapshot", "error", err)
			return snap, nil
		}
		return nil, err
	}
	return val.(*catalogSnapshot), nil
}
