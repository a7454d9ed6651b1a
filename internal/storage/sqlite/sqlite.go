package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/H4MSA/solivrah/internal/core"
	"github.com/H4MSA/solivrah/internal/storage"
)

//go:embed schema.sql
var schema string

var _ storage.DomainStore = (*Store)(nil)

var errGuestIdentity = errors.New("durable store requires an authenticated identity")

type Store struct {
	db dbHandle
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite is single-writer; one connection avoids SQLITE_BUSY and keeps
	// the PRAGMAs on the connection that does the work.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("wal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("busy timeout: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: &queryLogger{inner: db}}, nil
}

func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Each :memory: connection is its own database.
	db.SetMaxOpenConns(1)
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: &queryLogger{inner: db}}, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load is a point lookup by user id; nil, nil when the row does not exist.
func (s *Store) Load(ctx context.Context, id core.Identity) (*core.ProgressRecord, error) {
	if id.IsGuest() {
		return nil, errGuestIdentity
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT xp, streak, theme, completed_quests, updated_at FROM profiles WHERE id = ?`, id.UserID)
	var (
		rec       core.ProgressRecord
		theme     string
		updatedAt string
	)
	if err := row.Scan(&rec.XP, &rec.Streak, &theme, &rec.CompletedQuestCount, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, core.WrapOp("load", "profile", id.UserID, err)
	}
	t, err := core.ParseTheme(theme)
	if err != nil {
		return nil, core.WrapOp("load", "profile", id.UserID, err)
	}
	rec.Theme = t
	if updatedAt != "" {
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	}
	return &rec, nil
}

// Save upserts the profile row keyed by the authenticated user id.
func (s *Store) Save(ctx context.Context, id core.Identity, rec core.ProgressRecord) error {
	if id.IsGuest() {
		return errGuestIdentity
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	updated := ""
	if !rec.UpdatedAt.IsZero() {
		updated = rec.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, xp, streak, theme, completed_quests, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET xp=excluded.xp, streak=excluded.streak, theme=excluded.theme,
		   completed_quests=excluded.completed_quests, updated_at=excluded.updated_at`,
		id.UserID, rec.XP, rec.Streak, string(rec.Theme), rec.CompletedQuestCount, updated,
	)
	if err != nil {
		return core.WrapOp("save", "profile", id.UserID, err)
	}
	return nil
}
