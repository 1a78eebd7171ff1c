// Package postgres persists committed registry slots to PostgreSQL and
// restores them into a state.Store on startup.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/sirupsen/logrus"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/state"
	"github.com/R3E-Network/modular_accounts/pkg/logger"
)

// DefaultTable holds the slots when no table name is configured.
const DefaultTable = "module_slots"

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Store is a state.Persister backed by one table of (slot, value) rows.
type Store struct {
	db    *sqlx.DB
	table string
	log   *logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// Open connects to dsn and returns a Store over table.
func Open(ctx context.Context, dsn, table string, opts ...Option) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := New(db, table, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle.
func New(db *sqlx.DB, table string, opts ...Option) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", table)
	}
	s := &Store{db: db, table: table, log: logger.NewDefault("storage")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Table returns the table name.
func (s *Store) Table() string { return s.table }

func (s *Store) migrations() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	slot BYTEA PRIMARY KEY,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_updated_at_idx ON %s (updated_at)`, s.table, s.table),
	}
}

// Migrate creates the slot table if needed.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range s.migrations() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Persist implements state.Persister. Zero values delete the row. All
// changes land in one transaction.
func (s *Store) Persist(ctx context.Context, changes []state.Change) (err error) {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	upsert := fmt.Sprintf(`INSERT INTO %s (slot, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (slot) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, s.table)
	del := fmt.Sprintf(`DELETE FROM %s WHERE slot = $1`, s.table)

	var written, deleted int
	for _, c := range changes {
		slot := c.Slot
		if c.Value.IsZero() {
			if _, err = tx.ExecContext(ctx, del, slot[:]); err != nil {
				return fmt.Errorf("delete slot %s: %w", c.Slot, err)
			}
			deleted++
			continue
		}
		value := c.Value
		if _, err = tx.ExecContext(ctx, upsert, slot[:], value[:]); err != nil {
			return fmt.Errorf("upsert slot %s: %w", c.Slot, err)
		}
		written++
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.log.WithContext(ctx).WithFields(logrus.Fields{
		"written": written,
		"deleted": deleted,
	}).Debug("slots persisted")
	return nil
}

type slotRow struct {
	Slot  []byte `db:"slot"`
	Value []byte `db:"value"`
}

// Load reads every stored slot.
func (s *Store) Load(ctx context.Context) (map[state.Slot]state.Word, error) {
	var rows []slotRow
	query := fmt.Sprintf(`SELECT slot, value FROM %s`, s.table)
	if err := s.db.SelectContext(ctx, &rows, query); err != nil && err != sql.ErrNoRows {
		return nil, apperrors.NewStorageError("load slots", err)
	}

	out := make(map[state.Slot]state.Word, len(rows))
	for _, r := range rows {
		if len(r.Slot) != len(state.Slot{}) || len(r.Value) != len(state.Word{}) {
			return nil, apperrors.NewStorageError("load slots",
				fmt.Errorf("row has %d-byte slot and %d-byte value", len(r.Slot), len(r.Value)))
		}
		var slot state.Slot
		var word state.Word
		copy(slot[:], r.Slot)
		copy(word[:], r.Value)
		out[slot] = word
	}
	return out, nil
}

// Restore loads every slot into st, replacing its contents.
func (s *Store) Restore(ctx context.Context, st *state.Store) error {
	slots, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if err := st.Import(ctx, slots); err != nil {
		return err
	}
	s.log.WithContext(ctx).WithField("slots", len(slots)).Info("state restored")
	return nil
}

var _ state.Persister = (*Store)(nil)
