package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/liquidity-pool/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresConfig holds connection parameters for the PostgreSQL store.
type PostgresConfig struct {
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN builds a PostgreSQL connection string from the given config.
func DSN(cfg PostgresConfig) string {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, port, cfg.Database, sslMode)
}

// Connect opens a pgx pool configured from cfg and pings it.
func Connect(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Raw token amounts are stored as NUMERIC(78,0); structured records as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// RunMigrations applies the embedded SQL files in lexicographic order,
// tracking applied files in schema_migrations.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
	if _, err := s.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)",
			entry.Name(),
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", entry.Name(), err)
		}
		if exists {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", entry.Name(), err)
		}
		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", entry.Name())
			return err
		})
		if err != nil {
			return fmt.Errorf("postgres: apply migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Apply writes the change set in one database transaction.
func (s *PostgresStore) Apply(ctx context.Context, cs model.ChangeSet) error {
	batch := &pgx.Batch{}

	for _, a := range cs.Assets {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("postgres: encode asset %d: %w", a.ID, err)
		}
		batch.Queue(`INSERT INTO pool_assets (id, symbol, data, updated_at) VALUES ($1, $2, $3, NOW())
			ON CONFLICT (id) DO UPDATE SET symbol = EXCLUDED.symbol, data = EXCLUDED.data, updated_at = NOW()`,
			int16(a.ID), a.Symbol, data)
	}
	for _, r := range cs.SubAccounts {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("postgres: encode sub-account %s: %w", r.ID.Hex(), err)
		}
		batch.Queue(`INSERT INTO sub_accounts (id, account, data, updated_at) VALUES ($1, $2, $3, NOW())
			ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
			r.ID.Hex(), r.ID.Account.Hex(), data)
	}
	for _, id := range cs.ClearedSubAccounts {
		batch.Queue(`DELETE FROM sub_accounts WHERE id = $1`, id.Hex())
	}
	for _, o := range cs.Orders {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("postgres: encode order %d: %w", o.ID, err)
		}
		batch.Queue(`INSERT INTO pending_orders (id, type, account, deadline, data) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET deadline = EXCLUDED.deadline, data = EXCLUDED.data`,
			int64(o.ID), o.Type.String(), o.Account.Hex(), o.Deadline, data)
	}
	for _, id := range cs.RemovedOrders {
		batch.Queue(`DELETE FROM pending_orders WHERE id = $1`, int64(id))
	}
	for _, b := range cs.Balances {
		if b.Amount == "0" {
			batch.Queue(`DELETE FROM token_balances WHERE token = $1 AND holder = $2`, b.Token.Hex(), b.Holder.Hex())
			continue
		}
		batch.Queue(`INSERT INTO token_balances (token, holder, amount) VALUES ($1, $2, $3::NUMERIC)
			ON CONFLICT (token, holder) DO UPDATE SET amount = EXCLUDED.amount`,
			b.Token.Hex(), b.Holder.Hex(), b.Amount)
	}
	for _, sp := range cs.Supplies {
		batch.Queue(`INSERT INTO token_supplies (token, amount) VALUES ($1, $2::NUMERIC)
			ON CONFLICT (token) DO UPDATE SET amount = EXCLUDED.amount`,
			sp.Token.Hex(), sp.Amount)
	}
	for _, f := range cs.BrokerFills {
		if f.Fills == 0 {
			batch.Queue(`DELETE FROM broker_fills WHERE broker = $1`, f.Broker.Hex())
			continue
		}
		batch.Queue(`INSERT INTO broker_fills (broker, fills) VALUES ($1, $2)
			ON CONFLICT (broker) DO UPDATE SET fills = EXCLUDED.fills`,
			f.Broker.Hex(), int64(f.Fills))
	}
	for _, g := range cs.Roles {
		if g.Granted {
			batch.Queue(`INSERT INTO role_members (role, account) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				string(g.Role), g.Account.Hex())
		} else {
			batch.Queue(`DELETE FROM role_members WHERE role = $1 AND account = $2`, string(g.Role), g.Account.Hex())
		}
	}
	if cs.PoolParams != nil {
		if err := queueParams(batch, "pool", cs.PoolParams); err != nil {
			return err
		}
	}
	if cs.OrderBookParams != nil {
		if err := queueParams(batch, "orderbook", cs.OrderBookParams); err != nil {
			return err
		}
	}
	batch.Queue(`INSERT INTO pool_globals (id, next_order_id, last_funding_time, event_seq) VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET next_order_id = EXCLUDED.next_order_id,
			last_funding_time = EXCLUDED.last_funding_time, event_seq = EXCLUDED.event_seq`,
		int64(cs.Globals.NextOrderID), cs.Globals.LastFundingTime, int64(cs.Globals.EventSeq))
	for _, e := range cs.Events {
		attrs, err := json.Marshal(e.Attrs)
		if err != nil {
			return fmt.Errorf("postgres: encode event %d: %w", e.Seq, err)
		}
		batch.Queue(`INSERT INTO pool_events (seq, type, time, order_id, account, attrs) VALUES ($1, $2, $3, $4, $5, $6)`,
			int64(e.Seq), string(e.Type), e.Time, int64(e.OrderID), e.Account.Hex(), attrs)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		n := batch.Len()
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < n; i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: apply change set item %d: %w", i, err)
			}
		}
		return br.Close()
	})
}

func queueParams(batch *pgx.Batch, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("postgres: encode %s params: %w", name, err)
	}
	batch.Queue(`INSERT INTO pool_params (name, data) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data`, name, data)
	return nil
}

// Load reads the full persisted state. The globals row marks a store that
// has seen at least one change set.
func (s *PostgresStore) Load(ctx context.Context) (model.Snapshot, bool, error) {
	var snap model.Snapshot
	var nextOrderID, eventSeq int64
	err := s.pool.QueryRow(ctx,
		`SELECT next_order_id, last_funding_time, event_seq FROM pool_globals WHERE id = 1`).
		Scan(&nextOrderID, &snap.Globals.LastFundingTime, &eventSeq)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("postgres: load globals: %w", err)
	}
	snap.Globals.NextOrderID = uint64(nextOrderID)
	snap.Globals.EventSeq = uint64(eventSeq)
	snap.Globals.LastFundingTime = snap.Globals.LastFundingTime.UTC()

	if err := loadJSON(ctx, s.pool, `SELECT data FROM pool_assets ORDER BY id`, &snap.Assets); err != nil {
		return snap, false, fmt.Errorf("postgres: load assets: %w", err)
	}
	if err := loadJSON(ctx, s.pool, `SELECT data FROM sub_accounts ORDER BY id`, &snap.SubAccounts); err != nil {
		return snap, false, fmt.Errorf("postgres: load sub-accounts: %w", err)
	}
	if err := loadJSON(ctx, s.pool, `SELECT data FROM pending_orders ORDER BY id`, &snap.Orders); err != nil {
		return snap, false, fmt.Errorf("postgres: load orders: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT token, holder, amount::TEXT FROM token_balances ORDER BY token, holder`)
	if err != nil {
		return snap, false, fmt.Errorf("postgres: load balances: %w", err)
	}
	snap.Balances, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Balance, error) {
		var token, holder, amount string
		if err := row.Scan(&token, &holder, &amount); err != nil {
			return model.Balance{}, err
		}
		return model.Balance{Token: common.HexToAddress(token), Holder: common.HexToAddress(holder), Amount: amount}, nil
	})
	if err != nil {
		return snap, false, fmt.Errorf("postgres: load balances: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT token, amount::TEXT FROM token_supplies ORDER BY token`)
	if err != nil {
		return snap, false, fmt.Errorf("postgres: load supplies: %w", err)
	}
	snap.Supplies, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Supply, error) {
		var token, amount string
		if err := row.Scan(&token, &amount); err != nil {
			return model.Supply{}, err
		}
		return model.Supply{Token: common.HexToAddress(token), Amount: amount}, nil
	})
	if err != nil {
		return snap, false, fmt.Errorf("postgres: load supplies: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT broker, fills FROM broker_fills ORDER BY broker`)
	if err != nil {
		return snap, false, fmt.Errorf("postgres: load broker fills: %w", err)
	}
	snap.BrokerFills, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.BrokerFills, error) {
		var broker string
		var fills int64
		if err := row.Scan(&broker, &fills); err != nil {
			return model.BrokerFills{}, err
		}
		return model.BrokerFills{Broker: common.HexToAddress(broker), Fills: uint64(fills)}, nil
	})
	if err != nil {
		return snap, false, fmt.Errorf("postgres: load broker fills: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT role, account FROM role_members ORDER BY role, account`)
	if err != nil {
		return snap, false, fmt.Errorf("postgres: load roles: %w", err)
	}
	snap.Roles, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.RoleGrant, error) {
		var role, account string
		if err := row.Scan(&role, &account); err != nil {
			return model.RoleGrant{}, err
		}
		return model.RoleGrant{Role: model.Role(role), Account: common.HexToAddress(account), Granted: true}, nil
	})
	if err != nil {
		return snap, false, fmt.Errorf("postgres: load roles: %w", err)
	}

	params := map[string]any{"pool": &snap.PoolParams, "orderbook": &snap.OrderBookParams}
	for name, dst := range params {
		var data []byte
		err := s.pool.QueryRow(ctx, `SELECT data FROM pool_params WHERE name = $1`, name).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return snap, false, fmt.Errorf("postgres: load %s params: %w", name, err)
		}
		if err := json.Unmarshal(data, dst); err != nil {
			return snap, false, fmt.Errorf("postgres: decode %s params: %w", name, err)
		}
	}
	return snap, true, nil
}

// loadJSON decodes one JSONB column of every row into dst, a pointer to a slice.
func loadJSON[T any](ctx context.Context, pool *pgxpool.Pool, query string, dst *[]T) error {
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) {
		var v T
		var data []byte
		if err := row.Scan(&data); err != nil {
			return v, err
		}
		return v, json.Unmarshal(data, &v)
	})
	if err != nil {
		return err
	}
	*dst = out
	return nil
}

// ListEvents queries the event history with the filter pushed into SQL.
func (s *PostgresStore) ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error) {
	query := `SELECT seq, type, time, order_id, account, attrs FROM pool_events WHERE TRUE`
	var args []any
	if f.OrderID != 0 {
		args = append(args, int64(f.OrderID))
		query += fmt.Sprintf(" AND order_id = $%d", len(args))
	}
	if f.Account != nil {
		args = append(args, f.Account.Hex())
		query += fmt.Sprintf(" AND account = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	query += " ORDER BY seq"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Event, error) {
		var (
			e            model.Event
			seq, orderID int64
			typ, account string
			ts           time.Time
			attrs        []byte
		)
		if err := row.Scan(&seq, &typ, &ts, &orderID, &account, &attrs); err != nil {
			return e, err
		}
		e = model.Event{
			Seq:     uint64(seq),
			Type:    model.EventType(typ),
			Time:    ts.UTC(),
			OrderID: uint64(orderID),
			Account: common.HexToAddress(account),
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &e.Attrs); err != nil {
				return e, err
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	return events, nil
}
