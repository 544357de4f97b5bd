package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/smukkama/metarmap-console/internal/aggregation"
	"github.com/smukkama/metarmap-console/internal/backend"
	"github.com/smukkama/metarmap-console/internal/database"
	"github.com/smukkama/metarmap-console/internal/protocol"
	"github.com/smukkama/metarmap-console/internal/queue"
	"github.com/smukkama/metarmap-console/internal/selection"
	"github.com/smukkama/metarmap-console/internal/state"
	"github.com/smukkama/metarmap-console/internal/status"
	"github.com/smukkama/metarmap-console/internal/timer"
	"github.com/smukkama/metarmap-console/pkg/config"
)

var (
	statsInterval time.Duration
	migrationsDir string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "metarmap",
		Short: "Display console for a METAR LED map",
		Long: `metarmap serves the kiosk and settings console of a METAR LED map.
It talks to the device backend that owns weather data and the LED strip.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().DurationVar(&statsInterval, "stats-interval", 30*time.Second, "Interval between statistics blocks (0 disables)")
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "migrations", "migrations", "Directory of SQL migrations")

	rootCmd.AddCommand(
		displayCmd(modeKiosk, "Serve the touch kiosk: filters, preview and idle reset"),
		displayCmd(modeConsole, "Serve the settings console: map view, services and LEDs"),
		statusCmd(),
		validateCmd(),
		journalCmd(),
		eventsCmd(),
		migrateCmd(),
		legendCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func displayCmd(mode displayMode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   mode.String(),
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			fmt.Printf("Starting METAR map %s...\n", mode)
			d, err := newDisplay(ctx, cfg, mode)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Start(ctx); err != nil {
				return err
			}

			fmt.Printf("\n✓ METAR map %s is running (session %s)\n", mode, d.sessionID)
			fmt.Printf("✓ Backend: %s\n", d.client.BaseURL())
			fmt.Printf("✓ Listening on %s\n", cfg.Display.Addr())
			fmt.Println("✓ Press Ctrl+C to stop")

			var statsC <-chan time.Time
			if statsInterval > 0 {
				ticker := time.NewTicker(statsInterval)
				defer ticker.Stop()
				statsC = ticker.C
			}

			for {
				select {
				case <-statsC:
					d.printStats()
				case <-ctx.Done():
					fmt.Println("\nShutting down gracefully...")
					return nil
				}
			}
		},
	}
}

func statusCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check weather data freshness once",
		Long: `status asks the backend how old the weather data is and prints the
freshness indicator. With --session the last state a display recorded in
Redis is printed as well, along with its journaled selection when postgres
is enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.RequestTimeout)
			defer cancel()

			client := backend.NewClient(&cfg.Backend)
			ws, err := client.WeatherStatus(ctx)
			var f status.Freshness
			if err != nil {
				f = status.Stale(time.Now(), cfg.Poller.DefaultThreshold, err)
			} else {
				f = status.Evaluate(ws, time.Now(), cfg.Poller.DefaultThreshold, cfg.Display.Location())
			}

			cmd.Println(fmt.Sprintf("Indicator: %s", f.Indicator()))
			if f.Err != nil {
				cmd.Println(fmt.Sprintf("Error: %v", f.Err))
			} else {
				cmd.Println(fmt.Sprintf("Last updated: %s (%.1f min ago, threshold %.0f min)", f.Display, f.AgeMinutes, f.Threshold))
			}

			if session == "" {
				return nil
			}
			store, closeStore := newStore(ctx, cfg, session)
			if closeStore != nil {
				defer closeStore()
			}
			snapshot, err := state.Snapshot(ctx, store)
			if err != nil {
				return fmt.Errorf("failed to read display state: %w", err)
			}
			if snapshot.Freshness != nil {
				cmd.Println(fmt.Sprintf("Display %s last saw fresh=%v", session, snapshot.Freshness.Fresh))
			}
			if snapshot.Selection != nil {
				cmd.Println(fmt.Sprintf("Display %s selection: %s (%d airports)", session,
					strings.Join(snapshot.Selection.Filters, ", "), snapshot.Selection.Count))
			}

			if !cfg.Database.Enabled {
				return nil
			}
			db, err := database.Connect(cfg.Database.ConnectionString())
			if err != nil {
				return err
			}
			defer db.Close()

			sel, err := db.GetAppliedSelection(ctx, session)
			if err != nil {
				return fmt.Errorf("failed to read journaled selection: %w", err)
			}
			if sel == nil {
				cmd.Println(fmt.Sprintf("Display %s journal: no selection applied", session))
				return nil
			}
			cmd.Println(fmt.Sprintf("Display %s journal: %s (%d airports, applied %s)", session,
				strings.Join(sel.Codes, " "), sel.Count, sel.AppliedAt.Format(time.RFC3339)))
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Display session whose shared state to print")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [codes...]",
		Short: "Validate manual airport codes the way the kiosk does",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := selection.ValidateManualCodes(strings.Join(args, " "))
			cmd.Println(fmt.Sprintf("Valid: %s", selection.ListText(result.Valid)))
			if len(result.Invalid) > 0 {
				return &selection.ValidationError{Invalid: result.Invalid}
			}
			return nil
		},
	}
}

func journalCmd() *cobra.Command {
	var (
		groupID     string
		batchSize   int
		flush       time.Duration
		rollupDelay time.Duration
		retention   time.Duration
		pruneAt     string
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Write display events from Kafka into postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := database.Connect(cfg.Database.ConnectionString())
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Println("Connected to database")

			consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, groupID)
			defer consumer.Close()

			ctx, stop := signalContext()
			defer stop()

			scheduler := timer.NewScheduler()
			scheduler.Start()
			defer scheduler.Stop()

			if err := scheduleHourlyRollup(scheduler, aggregation.NewHourlyAggregator(db), rollupDelay); err != nil {
				return err
			}
			if err := schedulePruning(scheduler, aggregation.NewRetentionPruner(db, retention), pruneAt); err != nil {
				return err
			}

			writer := queue.NewJournalWriter(consumer, db, batchSize, flush)
			writer.Start(ctx)
			fmt.Printf("Journaling %s into postgres (group %s)\n", cfg.Kafka.TopicEvents, groupID)

			<-ctx.Done()
			fmt.Println("\nShutting down gracefully...")
			writer.Stop()

			written, failed := writer.Stats()
			fmt.Printf("Journaled %d events, %d rejected\n", written, failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "metarmap-journal", "Kafka consumer group")
	cmd.Flags().IntVar(&batchSize, "batch-size", 50, "Events per database batch")
	cmd.Flags().DurationVar(&flush, "flush-interval", 5*time.Second, "Maximum time an event waits in a batch")
	cmd.Flags().DurationVar(&rollupDelay, "rollup-delay", 5*time.Minute, "Delay past each hour before rolling it up")
	cmd.Flags().DurationVar(&retention, "retention", 30*24*time.Hour, "How long raw events are kept")
	cmd.Flags().StringVar(&pruneAt, "prune-at", "03:30", "Daily time (HH:MM) to prune old events")
	return cmd
}

func eventsCmd() *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Manage the display event topic",
	}

	var partitions int
	createCmd := &cobra.Command{
		Use:   "create-topic",
		Short: "Create the display event topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, partitions, 1)
		},
	}
	createCmd.Flags().IntVar(&partitions, "partitions", 3, "Number of partitions")

	var eventType string
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Print display events as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// a throwaway group sees every partition from the current end
			consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, "metarmap-tail-"+uuid.New().String())
			defer consumer.Close()

			ctx, stop := signalContext()
			defer stop()

			for {
				msg, err := consumer.Consume(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				event, err := protocol.DecodeEvent(msg.Value)
				if err != nil {
					cmd.PrintErrln(fmt.Errorf("skipping offset %d: %w", msg.Offset, err))
					continue
				}
				if eventType != "" && string(event.Type) != eventType {
					continue
				}
				cmd.Println(fmt.Sprintf("%s %-20s %s %s", event.At.Format(time.RFC3339), event.Type, event.SessionID, event.Payload))
			}
		},
	}
	tailCmd.Flags().StringVar(&eventType, "type", "", "Only print events of this type")

	var window time.Duration
	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Print hourly event counts from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := database.Connect(cfg.Database.ConnectionString())
			if err != nil {
				return err
			}
			defer db.Close()

			counts, err := db.HourlyActivity(cmd.Context(), time.Now().Add(-window))
			if err != nil {
				return err
			}
			if len(counts) == 0 {
				cmd.Println("No display activity recorded.")
				return nil
			}
			for _, c := range counts {
				cmd.Println(fmt.Sprintf("%s %-36s %-20s %d", c.Hour.Format("2006-01-02 15:00"), c.SessionID, c.EventType, c.Count))
			}
			return nil
		},
	}
	summaryCmd.Flags().DurationVar(&window, "window", 24*time.Hour, "How far back to report")

	eventsCmd.AddCommand(createCmd, tailCmd, summaryCmd)
	return eventsCmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQL migrations to postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := database.Connect(cfg.Database.ConnectionString())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.RunMigrations(migrationsDir); err != nil {
				return err
			}
			fmt.Println("Migrations applied")
			return nil
		},
	}
}

func legendCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "legend",
		Short: "Write the effective legend colors and major airport preset as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			path := output
			if path == "" {
				path = cfg.Display.LegendFile
			}
			if err := cfg.Legend.Save(path); err != nil {
				return fmt.Errorf("failed to write legend: %w", err)
			}
			fmt.Printf("Legend written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (defaults to METARMAP_LEGEND_FILE)")
	return cmd
}
