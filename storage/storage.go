package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"memberlock.app/cloud/internal/version"
	"memberlock.app/cloud/lock"
	"memberlock.app/cloud/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Storage interface {
	GetLock(ctx context.Context, id string) (*models.LockSnapshot, error)
	SaveLock(ctx context.Context, snap *models.LockSnapshot) error
	ListLocks(ctx context.Context) ([]string, error)

	AppendEvents(ctx context.Context, events []models.Event) error
	EventsForLock(ctx context.Context, lockID string) ([]models.Event, error)

	Close() error
}

type MemoryStorage struct {
	mu     sync.Mutex
	Locks  map[string]*models.LockSnapshot
	Events map[string][]models.Event
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Locks:  make(map[string]*models.LockSnapshot),
		Events: make(map[string][]models.Event),
	}
}

func (m *MemoryStorage) GetLock(ctx context.Context, id string) (*models.LockSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, exists := m.Locks[id]
	if !exists {
		return nil, nil
	}
	return reencode(snap)
}

func (m *MemoryStorage) SaveLock(ctx context.Context, snap *models.LockSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied, err := reencode(snap)
	if err != nil {
		return err
	}
	m.Locks[snap.LockID] = copied
	return nil
}

func (m *MemoryStorage) ListLocks(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.Locks))
	for id := range m.Locks {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MemoryStorage) AppendEvents(ctx context.Context, events []models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		m.Events[ev.LockID] = append(m.Events[ev.LockID], ev)
	}
	return nil
}

func (m *MemoryStorage) EventsForLock(ctx context.Context, lockID string) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Event, len(m.Events[lockID]))
	copy(out, m.Events[lockID])
	return out, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

// reencode deep-copies a snapshot through its JSON form, the same shape the
// SQLite store round-trips.
func reencode(snap *models.LockSnapshot) (*models.LockSnapshot, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	var out models.LockSnapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type SQLiteStorage struct {
	db   *sql.DB
	path string
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	storage := &SQLiteStorage{
		db:   db,
		path: path,
	}

	if err := storage.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *SQLiteStorage) GetLock(ctx context.Context, id string) (*models.LockSnapshot, error) {
	query := `SELECT schema_version, snapshot FROM locks WHERE id = ?`

	var schemaVersion int
	var raw string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&schemaVersion, &raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ok, err := version.IsCompatible(schemaVersion, lock.SchemaVersion)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lock %s written by schema %d, engine at %d", id, schemaVersion, lock.SchemaVersion)
	}

	var snap models.LockSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return lock.MigrateSnapshot(&snap)
}

func (s *SQLiteStorage) SaveLock(ctx context.Context, snap *models.LockSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	query := `INSERT OR REPLACE INTO locks (id, schema_version, snapshot, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)`
	if _, err := s.db.ExecContext(ctx, query, snap.LockID, snap.SchemaVersion, string(raw)); err != nil {
		return fmt.Errorf("failed to save lock: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ListLocks(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM locks`)
	if err != nil {
		return nil, fmt.Errorf("failed to query locks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan lock id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStorage) AppendEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	query := `INSERT INTO events (id, lock_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to encode event: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, ev.ID, ev.LockID, ev.Kind, string(payload), int64(ev.CreatedAt)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStorage) EventsForLock(ctx context.Context, lockID string) ([]models.Event, error) {
	query := `SELECT payload FROM events WHERE lock_id = ? ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, lockID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
