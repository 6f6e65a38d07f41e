package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

// Supported SQL dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

const createTable = `CREATE TABLE IF NOT EXISTS stream_cursors (
	name       TEXT PRIMARY KEY,
	entry_id   TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// SQL stores cursors in a stream_cursors table on SQLite or PostgreSQL.
type SQL struct {
	db      *sql.DB
	loadQ   string
	saveQ   string
	nowFunc func() time.Time
}

// OpenSQL connects to dsn with the given dialect and creates the cursor table
// if it does not exist.
func OpenSQL(ctx context.Context, dialect, dsn string) (*SQL, error) {
	var driver string
	switch dialect {
	case DialectSQLite:
		driver = "sqlite3"
	case DialectPostgres:
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported checkpoint dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// A single writer avoids "database is locked" between the detector and streamtail.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	s, err := newSQL(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newSQL(ctx context.Context, db *sql.DB, dialect string) (*SQL, error) {
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		return nil, fmt.Errorf("create cursor table: %w", err)
	}
	// Both dialects accept ON CONFLICT upserts; only the placeholder style differs.
	s := &SQL{
		db:      db,
		loadQ:   `SELECT entry_id FROM stream_cursors WHERE name = ?`,
		saveQ:   `INSERT INTO stream_cursors (name, entry_id, updated_at) VALUES (?, ?, ?) ON CONFLICT (name) DO UPDATE SET entry_id = excluded.entry_id, updated_at = excluded.updated_at`,
		nowFunc: time.Now,
	}
	if dialect == DialectPostgres {
		s.loadQ = `SELECT entry_id FROM stream_cursors WHERE name = $1`
		s.saveQ = `INSERT INTO stream_cursors (name, entry_id, updated_at) VALUES ($1, $2, $3) ON CONFLICT (name) DO UPDATE SET entry_id = excluded.entry_id, updated_at = excluded.updated_at`
	}
	return s, nil
}

func (s *SQL) Load(ctx context.Context, name string) (stream.EntryID, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.loadQ, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return stream.EntryID{}, false, nil
	}
	if err != nil {
		return stream.EntryID{}, false, fmt.Errorf("load cursor %s: %w", name, err)
	}
	id, err := stream.ParseEntryID(raw)
	if err != nil {
		return stream.EntryID{}, false, fmt.Errorf("load cursor %s: %w", name, err)
	}
	return id, true, nil
}

func (s *SQL) Save(ctx context.Context, name string, id stream.EntryID) error {
	if _, err := s.db.ExecContext(ctx, s.saveQ, name, id.String(), s.nowFunc().UTC()); err != nil {
		return fmt.Errorf("save cursor %s: %w", name, err)
	}
	return nil
}

func (s *SQL) Close() error { return s.db.Close() }
