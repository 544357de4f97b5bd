package aggregation

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Execer runs a statement; *database.DB satisfies it
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// HourlyAggregator rolls the event journal up into per-hour counts
type HourlyAggregator struct {
	db  Execer
	now func() time.Time
}

// NewHourlyAggregator creates a new hourly aggregator
func NewHourlyAggregator(db Execer) *HourlyAggregator {
	return &HourlyAggregator{db: db, now: time.Now}
}

// Aggregate counts the events of one hour per session and type
func (h *HourlyAggregator) Aggregate(ctx context.Context, targetHour time.Time) error {
	// Truncate to the beginning of the hour
	startTime := targetHour.Truncate(time.Hour)
	endTime := startTime.Add(time.Hour)

	fmt.Printf("Running hourly event rollup for %s\n", startTime.Format("2006-01-02 15:04:05"))

	query := `
		INSERT INTO display_event_hourly (
			session_id, event_type, hour_timestamp, event_count
		)
		SELECT
			session_id,
			event_type,
			$1 AS hour_timestamp,
			COUNT(*) AS event_count
		FROM
			display_events
		WHERE
			occurred_at >= $1 AND occurred_at < $2
		GROUP BY
			session_id, event_type
		ON CONFLICT (session_id, event_type, hour_timestamp) DO UPDATE
		SET
			event_count = EXCLUDED.event_count
	`

	result, err := h.db.ExecContext(ctx, query, startTime, endTime)
	if err != nil {
		return fmt.Errorf("failed to roll up hourly events: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	fmt.Printf("Hourly event rollup completed: %d session/type rows\n", rowsAffected)

	return nil
}

// AggregatePreviousHour rolls up the previous full hour
func (h *HourlyAggregator) AggregatePreviousHour(ctx context.Context) error {
	previousHour := h.now().Add(-1 * time.Hour).Truncate(time.Hour)
	return h.Aggregate(ctx, previousHour)
}

// CalculateNextRunTime returns the next HH:00 + delay still ahead of now
func (h *HourlyAggregator) CalculateNextRunTime(delay time.Duration) time.Time {
	now := h.now()

	nextRun := now.Truncate(time.Hour).Add(delay)

	// If we're past this hour's run time, use the next hour
	if !nextRun.After(now) {
		nextRun = nextRun.Add(time.Hour)
	}

	return nextRun
}
