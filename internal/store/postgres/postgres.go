// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an already-open database without running migrations.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) GetZapLedgerEvent(ctx context.Context, eventID string) (*model.ZapLedgerEvent, error) {
	return queryGetZapLedgerEvent(ctx, s.db, eventID)
}

func (s *PostgresStore) InsertZapLedgerEvent(ctx context.Context, ev *model.ZapLedgerEvent) (bool, error) {
	return queryInsertZapLedgerEvent(ctx, s.db, ev)
}

func (s *PostgresStore) ApplyZapContribution(ctx context.Context, c model.ZapContribution, eventID string, eventAt time.Time) (*model.ZapLedgerTotal, error) {
	return queryApplyZapContribution(ctx, s.db, c, eventID, eventAt)
}

func (s *PostgresStore) GetZapLedgerTotal(ctx context.Context, key model.TotalKey) (*model.ZapLedgerTotal, error) {
	return queryGetZapLedgerTotal(ctx, s.db, key)
}

func (s *PostgresStore) ListZapLedgerTotals(ctx context.Context, filter model.TotalFilter) ([]*model.ZapLedgerTotal, error) {
	return queryListZapLedgerTotals(ctx, s.db, filter)
}

func (s *PostgresStore) ListZapLedgerEvents(ctx context.Context, since time.Time, limit int) ([]*model.ZapLedgerEvent, error) {
	return queryListZapLedgerEvents(ctx, s.db, since, limit)
}

func (s *PostgresStore) GetRelayQueueEntry(ctx context.Context, contentID, relayURL string) (*model.RelayPublishQueueEntry, error) {
	return queryGetRelayQueueEntry(ctx, s.db, contentID, relayURL)
}

func (s *PostgresStore) CreateRelayQueueEntry(ctx context.Context, e *model.RelayPublishQueueEntry) (bool, error) {
	return queryCreateRelayQueueEntry(ctx, s.db, e)
}

func (s *PostgresStore) UpdateRelayQueueEntry(ctx context.Context, e *model.RelayPublishQueueEntry, expectedAttempts int) (bool, error) {
	return queryUpdateRelayQueueEntry(ctx, s.db, e, expectedAttempts)
}

func (s *PostgresStore) DeleteRelayQueueEntry(ctx context.Context, contentID, relayURL string) error {
	return queryDeleteRelayQueueEntry(ctx, s.db, contentID, relayURL)
}

func (s *PostgresStore) ListDueRelayQueueEntries(ctx context.Context, now time.Time, limit int) ([]*model.RelayPublishQueueEntry, error) {
	return queryListDueRelayQueueEntries(ctx, s.db, now, limit)
}

func (s *PostgresStore) GetRelayCheckpoint(ctx context.Context, relayURL string) (*model.RelayCheckpoint, error) {
	return queryGetRelayCheckpoint(ctx, s.db, relayURL)
}

func (s *PostgresStore) AdvanceRelayCheckpoint(ctx context.Context, cp *model.RelayCheckpoint) (bool, error) {
	return queryAdvanceRelayCheckpoint(ctx, s.db, cp)
}

func (s *PostgresStore) InsertReply(ctx context.Context, r *model.IngestedReply) (bool, error) {
	return queryInsertReply(ctx, s.db, r)
}

func (s *PostgresStore) ListReplies(ctx context.Context, gameID string) ([]*model.IngestedReply, error) {
	return queryListReplies(ctx, s.db, gameID)
}

func (s *PostgresStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	return queryGetGame(ctx, s.db, id)
}

func (s *PostgresStore) StampReleaseNote(ctx context.Context, gameID, eventID string, publishedAt time.Time) error {
	return queryStampReleaseNote(ctx, s.db, gameID, eventID, publishedAt)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) GetZapLedgerEvent(ctx context.Context, eventID string) (*model.ZapLedgerEvent, error) {
	return queryGetZapLedgerEvent(ctx, s.tx, eventID)
}

func (s *txStore) InsertZapLedgerEvent(ctx context.Context, ev *model.ZapLedgerEvent) (bool, error) {
	return queryInsertZapLedgerEvent(ctx, s.tx, ev)
}

func (s *txStore) ApplyZapContribution(ctx context.Context, c model.ZapContribution, eventID string, eventAt time.Time) (*model.ZapLedgerTotal, error) {
	return queryApplyZapContribution(ctx, s.tx, c, eventID, eventAt)
}

func (s *txStore) GetZapLedgerTotal(ctx context.Context, key model.TotalKey) (*model.ZapLedgerTotal, error) {
	return queryGetZapLedgerTotal(ctx, s.tx, key)
}

func (s *txStore) ListZapLedgerTotals(ctx context.Context, filter model.TotalFilter) ([]*model.ZapLedgerTotal, error) {
	return queryListZapLedgerTotals(ctx, s.tx, filter)
}

func (s *txStore) ListZapLedgerEvents(ctx context.Context, since time.Time, limit int) ([]*model.ZapLedgerEvent, error) {
	return queryListZapLedgerEvents(ctx, s.tx, since, limit)
}

func (s *txStore) GetRelayQueueEntry(ctx context.Context, contentID, relayURL string) (*model.RelayPublishQueueEntry, error) {
	return queryGetRelayQueueEntry(ctx, s.tx, contentID, relayURL)
}

func (s *txStore) CreateRelayQueueEntry(ctx context.Context, e *model.RelayPublishQueueEntry) (bool, error) {
	return queryCreateRelayQueueEntry(ctx, s.tx, e)
}

func (s *txStore) UpdateRelayQueueEntry(ctx context.Context, e *model.RelayPublishQueueEntry, expectedAttempts int) (bool, error) {
	return queryUpdateRelayQueueEntry(ctx, s.tx, e, expectedAttempts)
}

func (s *txStore) DeleteRelayQueueEntry(ctx context.Context, contentID, relayURL string) error {
	return queryDeleteRelayQueueEntry(ctx, s.tx, contentID, relayURL)
}

func (s *txStore) ListDueRelayQueueEntries(ctx context.Context, now time.Time, limit int) ([]*model.RelayPublishQueueEntry, error) {
	return queryListDueRelayQueueEntries(ctx, s.tx, now, limit)
}

func (s *txStore) GetRelayCheckpoint(ctx context.Context, relayURL string) (*model.RelayCheckpoint, error) {
	return queryGetRelayCheckpoint(ctx, s.tx, relayURL)
}

func (s *txStore) AdvanceRelayCheckpoint(ctx context.Context, cp *model.RelayCheckpoint) (bool, error) {
	return queryAdvanceRelayCheckpoint(ctx, s.tx, cp)
}

func (s *txStore) InsertReply(ctx context.Context, r *model.IngestedReply) (bool, error) {
	return queryInsertReply(ctx, s.tx, r)
}

func (s *txStore) ListReplies(ctx context.Context, gameID string) ([]*model.IngestedReply, error) {
	return queryListReplies(ctx, s.tx, gameID)
}

func (s *txStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	return queryGetGame(ctx, s.tx, id)
}

func (s *txStore) StampReleaseNote(ctx context.Context, gameID, eventID string, publishedAt time.Time) error {
	return queryStampReleaseNote(ctx, s.tx, gameID, eventID, publishedAt)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
