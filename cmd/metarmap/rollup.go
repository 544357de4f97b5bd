package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/smukkama/metarmap-console/internal/aggregation"
	"github.com/smukkama/metarmap-console/internal/timer"
)

func scheduleHourlyRollup(s *timer.Scheduler, agg *aggregation.HourlyAggregator, delay time.Duration) error {
	taskID := "hourly-rollup"

	var scheduleNext func() error
	scheduleNext = func() error {
		nextRun := agg.CalculateNextRunTime(delay)
		fmt.Printf("Next hourly rollup scheduled for: %s\n", nextRun.Format("2006-01-02 15:04:05"))

		callback := func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := agg.AggregatePreviousHour(ctx); err != nil {
				log.Printf("Hourly rollup failed: %v", err)
			}
			if err := scheduleNext(); err != nil {
				log.Printf("Failed to schedule hourly rollup: %v", err)
			}
		}
		return s.Schedule(taskID, nextRun, callback)
	}
	return scheduleNext()
}

func schedulePruning(s *timer.Scheduler, pruner *aggregation.RetentionPruner, timeOfDay string) error {
	taskID := "event-pruning"

	var scheduleNext func() error
	scheduleNext = func() error {
		nextRun, err := pruner.CalculateNextRunTime(timeOfDay)
		if err != nil {
			return err
		}
		fmt.Printf("Next event pruning scheduled for: %s\n", nextRun.Format("2006-01-02 15:04:05"))

		callback := func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := pruner.Prune(ctx); err != nil {
				log.Printf("Event pruning failed: %v", err)
			}
			if err := scheduleNext(); err != nil {
				log.Printf("Failed to schedule event pruning: %v", err)
			}
		}
		return s.Schedule(taskID, nextRun, callback)
	}
	return scheduleNext()
}
