package aggregation

import (
	"context"
	"fmt"
	"time"
)

// RetentionPruner deletes journaled events once their hour has been rolled up
// and they are older than the retention window
type RetentionPruner struct {
	db        Execer
	retention time.Duration
	now       func() time.Time
}

// NewRetentionPruner creates a pruner keeping raw events for retention
func NewRetentionPruner(db Execer, retention time.Duration) *RetentionPruner {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RetentionPruner{db: db, retention: retention, now: time.Now}
}

// Prune removes raw events older than the retention window. The hourly
// counts are kept.
func (p *RetentionPruner) Prune(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention).Truncate(time.Hour)

	result, err := p.db.ExecContext(ctx, `DELETE FROM display_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	fmt.Printf("Pruned %d events older than %s\n", rowsAffected, cutoff.Format("2006-01-02 15:04"))
	return rowsAffected, nil
}

// CalculateNextRunTime calculates when pruning should next run
// It runs at a specific time each day (e.g., 03:30)
func (p *RetentionPruner) CalculateNextRunTime(timeOfDay string) (time.Time, error) {
	now := p.now()

	// Parse time of day (format: "HH:MM")
	var hour, minute int
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid time of day: %s", timeOfDay)
	}

	todayRun := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	// If we're past today's run time, schedule for tomorrow
	if now.After(todayRun) {
		return todayRun.AddDate(0, 0, 1), nil
	}

	return todayRun, nil
}
