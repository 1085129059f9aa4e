package filters

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/postgres"
)

// PostgresStore reads filters from the persons_filters and
// persons_filters_items tables.
type PostgresStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "filter-store"),
	}
}

type filterRow struct {
	category    string
	active      bool
	send        bool
	receive     bool
	value       sql.NullFloat64
	anyNetwork  bool
	allVerified bool
}

type itemRow struct {
	category string
	token    string
	item     Item
}

// PersonFilters reads the filter rows and their items from one snapshot.
func (s *PostgresStore) PersonFilters(ctx context.Context, personToken string) (*PersonFilters, error) {
	var (
		filterRows []filterRow
		items      []itemRow
	)
	err := s.db.ReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		if filterRows, err = queryFilterRows(ctx, tx, personToken); err != nil {
			return err
		}
		items, err = queryItemRows(ctx, tx, personToken)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("loading filters for %s: %w", personToken, err)
	}
	return buildPersonFilters(filterRows, items), nil
}

func queryFilterRows(ctx context.Context, tx *sql.Tx, personToken string) ([]filterRow, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT filter_token, is_active, is_send, is_receive, filter_value, is_any_network, is_all_verified
		FROM persons_filters WHERE person_token = $1`, personToken)
	if err != nil {
		return nil, fmt.Errorf("querying filters: %w", err)
	}
	defer rows.Close()
	var out []filterRow
	for rows.Next() {
		var r filterRow
		if err := rows.Scan(&r.category, &r.active, &r.send, &r.receive, &r.value, &r.anyNetwork, &r.allVerified); err != nil {
			return nil, fmt.Errorf("scanning filter row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating filter rows: %w", err)
	}
	return out, nil
}

func queryItemRows(ctx context.Context, tx *sql.Tx, personToken string) ([]itemRow, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT filter_token, item_token, is_active, is_negative, deleted_at IS NOT NULL
		FROM persons_filters_items WHERE person_token = $1`, personToken)
	if err != nil {
		return nil, fmt.Errorf("querying filter items: %w", err)
	}
	defer rows.Close()
	var out []itemRow
	for rows.Next() {
		var r itemRow
		if err := rows.Scan(&r.category, &r.token, &r.item.Active, &r.item.Negative, &r.item.Deleted); err != nil {
			return nil, fmt.Errorf("scanning filter item row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating filter item rows: %w", err)
	}
	return out, nil
}

// buildPersonFilters assembles the tagged filters. Items whose category has no
// filter row are kept on an inactive filter so they still describe intent.
func buildPersonFilters(rows []filterRow, items []itemRow) *PersonFilters {
	pf := &PersonFilters{}
	for _, r := range rows {
		flags := Flags{Active: r.active, Send: r.send, Receive: r.receive}
		switch Category(r.category) {
		case CategoryNetworks:
			pf.Networks = &NetworksFilter{Flags: flags, AnyNetwork: r.anyNetwork, AllVerified: r.allVerified}
		case CategoryModes:
			pf.Modes = &ModesFilter{Flags: flags}
		case CategoryDistance:
			pf.Distance = &DistanceFilter{Flags: flags, Miles: r.value.Float64}
		}
	}
	for _, it := range items {
		switch Category(it.category) {
		case CategoryNetworks:
			if pf.Networks == nil {
				pf.Networks = &NetworksFilter{}
			}
			pf.Networks.Items = append(pf.Networks.Items, NetworkItem{Item: it.item, NetworkToken: it.token})
		case CategoryModes:
			if pf.Modes == nil {
				pf.Modes = &ModesFilter{}
			}
			pf.Modes.Items = append(pf.Modes.Items, ModeItem{Item: it.item, ModeToken: it.token})
		}
	}
	return pf
}

// PostgresCatalog loads the modes and networks tables.
type PostgresCatalog struct {
	db *postgres.Client
}

func NewPostgresCatalog(db *postgres.Client) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) LoadModes(ctx context.Context) ([]Mode, error) {
	rows, err := c.db.DB.QueryContext(ctx, `SELECT id, token FROM modes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying modes: %w", err)
	}
	defer rows.Close()
	var modes []Mode
	for rows.Next() {
		var m Mode
		if err := rows.Scan(&m.ID, &m.Token); err != nil {
			return nil, fmt.Errorf("scanning mode: %w", err)
		}
		modes = append(modes, m)
	}
	return modes, rows.Err()
}

func (c *PostgresCatalog) LoadNetworks(ctx context.Context) ([]Network, error) {
	rows, err := c.db.DB.QueryContext(ctx,
		`SELECT network_token, is_verified FROM networks WHERE deleted_at IS NULL ORDER BY network_token`)
	if err != nil {
		return nil, fmt.Errorf("querying networks: %w", err)
	}
	defer rows.Close()
	var networks []Network
	for rows.Next() {
		var n Network
		if err := rows.Scan(&n.Token, &n.Verified); err != nil {
			return nil, fmt.Errorf("scanning network: %w", err)
		}
		networks = append(networks, n)
	}
	return networks, rows.Err()
}
