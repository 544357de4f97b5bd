package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/smukkama/metarmap-console/internal/protocol"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	return &DB{db}, nil
}

// migrationFiles lists the .sql files of a directory in execution order
func migrationFiles(migrationsDir string) ([]string, error) {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)
	return sqlFiles, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	sqlFiles, err := migrationFiles(migrationsDir)
	if err != nil {
		return err
	}

	for _, filename := range sqlFiles {
		fmt.Printf("Running migration: %s\n", filename)

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	fmt.Println("All migrations completed successfully")
	return nil
}

// InsertEvent journals a display event. Replays of an already journaled
// event are ignored, so redelivered queue messages are harmless.
func (db *DB) InsertEvent(ctx context.Context, rec *EventRecord) error {
	query := `
		INSERT INTO display_events (event_id, event_type, session_id, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`

	var payload interface{}
	if len(rec.Payload) > 0 {
		payload = string(rec.Payload)
	}

	_, err := db.ExecContext(ctx, query, rec.EventID, rec.EventType, rec.SessionID, rec.OccurredAt, payload)
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", rec.EventID, err)
	}
	return nil
}

// Publish lets the journal act as a direct event sink. Selection and reset
// events also keep the session's applied_selections row current.
func (db *DB) Publish(ctx context.Context, event *protocol.Event) error {
	if err := db.InsertEvent(ctx, NewEventRecord(event)); err != nil {
		return err
	}

	sel, clear, err := appliedSelectionFor(event)
	if err != nil {
		return err
	}
	switch {
	case clear:
		return db.ClearAppliedSelection(ctx, event.SessionID)
	case sel != nil:
		return db.UpsertAppliedSelection(ctx, sel)
	}
	return nil
}

// appliedSelectionFor decides what an event does to the applied selection of
// its session: a non-nil selection replaces the row, clear drops it. An
// applied selection with no filters and no codes is a map reset.
func appliedSelectionFor(event *protocol.Event) (*AppliedSelection, bool, error) {
	switch event.Type {
	case protocol.EventKioskReset:
		return nil, true, nil
	case protocol.EventSelectionApplied:
		if len(event.Payload) == 0 {
			return nil, false, nil
		}
		var sel protocol.SelectionPayload
		if err := json.Unmarshal(event.Payload, &sel); err != nil {
			return nil, false, fmt.Errorf("failed to decode selection payload: %w", err)
		}
		if len(sel.Filters) == 0 && len(sel.Codes) == 0 {
			return nil, true, nil
		}
		return &AppliedSelection{
			SessionID: event.SessionID,
			Filters:   sel.Filters,
			Codes:     sel.Codes,
			Count:     sel.Count,
			AppliedAt: event.At,
		}, false, nil
	}
	return nil, false, nil
}

// RecentEvents returns up to limit events, newest first. An empty eventType
// matches every type.
func (db *DB) RecentEvents(ctx context.Context, limit int, eventType string) ([]*EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, event_id, event_type, session_id, occurred_at, payload, recorded_at
		FROM display_events
		WHERE ($1 = '' OR event_type = $1)
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := db.QueryContext(ctx, query, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var records []*EventRecord
	for rows.Next() {
		var rec EventRecord
		var payload sql.NullString
		if err := rows.Scan(
			&rec.ID,
			&rec.EventID,
			&rec.EventType,
			&rec.SessionID,
			&rec.OccurredAt,
			&payload,
			&rec.RecordedAt,
		); err != nil {
			return nil, err
		}
		if payload.Valid {
			rec.Payload = []byte(payload.String)
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// UpsertAppliedSelection records the selection a session has on its map
func (db *DB) UpsertAppliedSelection(ctx context.Context, sel *AppliedSelection) error {
	query := `
		INSERT INTO applied_selections (session_id, filters, codes, count, applied_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE
		SET filters = EXCLUDED.filters,
		    codes = EXCLUDED.codes,
		    count = EXCLUDED.count,
		    applied_at = EXCLUDED.applied_at,
		    updated_at = CURRENT_TIMESTAMP
	`

	_, err := db.ExecContext(ctx, query,
		sel.SessionID,
		pq.Array(sel.Filters),
		pq.Array(sel.Codes),
		sel.Count,
		sel.AppliedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert applied selection: %w", err)
	}
	return nil
}

// ClearAppliedSelection drops the selection of a session after its map was reset
func (db *DB) ClearAppliedSelection(ctx context.Context, sessionID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM applied_selections WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to clear applied selection: %w", err)
	}
	return nil
}

// GetAppliedSelection returns the last selection of a session, or nil
func (db *DB) GetAppliedSelection(ctx context.Context, sessionID string) (*AppliedSelection, error) {
	query := `
		SELECT session_id, filters, codes, count, applied_at, updated_at
		FROM applied_selections
		WHERE session_id = $1
	`

	var sel AppliedSelection
	err := db.QueryRowContext(ctx, query, sessionID).Scan(
		&sel.SessionID,
		pq.Array(&sel.Filters),
		pq.Array(&sel.Codes),
		&sel.Count,
		&sel.AppliedAt,
		&sel.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &sel, nil
}

// HourlyActivity returns the rolled-up event counts since a point in time,
// newest hour first
func (db *DB) HourlyActivity(ctx context.Context, since time.Time) ([]*HourlyCount, error) {
	query := `
		SELECT session_id, event_type, hour_timestamp, event_count
		FROM display_event_hourly
		WHERE hour_timestamp >= $1
		ORDER BY hour_timestamp DESC, session_id, event_type
	`

	rows, err := db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly activity: %w", err)
	}
	defer rows.Close()

	var counts []*HourlyCount
	for rows.Next() {
		var c HourlyCount
		if err := rows.Scan(&c.SessionID, &c.EventType, &c.Hour, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, &c)
	}

	return counts, rows.Err()
}
