// Package sqlite provides a SQLite-backed lifecycle event journal.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/barrersoftware/copilot-plugin-system/internal/core/domain"
	"github.com/barrersoftware/copilot-plugin-system/internal/core/ports"
)

// Store is a SQLite implementation of ports.EventStore.
type Store struct {
	db *sql.DB
}

var _ ports.EventStore = (*Store)(nil)

// New opens (or creates) the journal at dbPath. ":memory:" is accepted.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS plugin_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			plugin_id TEXT,
			source TEXT,
			message TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plugin_events_plugin ON plugin_events(plugin_id)`,
		`CREATE INDEX IF NOT EXISTS idx_plugin_events_type ON plugin_events(type)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// AppendEvent stores an event.
func (s *Store) AppendEvent(ctx context.Context, event *domain.LifecycleEvent) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	query := `INSERT INTO plugin_events (id, type, plugin_id, source, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		event.ID, string(event.Type), event.PluginID, event.Source, event.Message, ts,
	); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(ctx context.Context, opts ports.ListEventsOptions) ([]*domain.LifecycleEvent, error) {
	var (
		where []string
		args  []any
	)
	if opts.PluginID != "" {
		where = append(where, "plugin_id = ?")
		args = append(args, opts.PluginID)
	}
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(opts.Type))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = ports.DefaultEventLimit
	}

	query := `SELECT id, type, plugin_id, source, message, created_at FROM plugin_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*domain.LifecycleEvent
	for rows.Next() {
		var (
			ev                        domain.LifecycleEvent
			typ                       string
			pluginID, source, message sql.NullString
		)
		if err := rows.Scan(&ev.ID, &typ, &pluginID, &source, &message, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = domain.LifecycleEventType(typ)
		ev.PluginID = pluginID.String
		ev.Source = source.String
		ev.Message = message.String
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
