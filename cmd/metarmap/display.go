package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/smukkama/metarmap-console/internal/backend"
	"github.com/smukkama/metarmap-console/internal/database"
	"github.com/smukkama/metarmap-console/internal/events"
	"github.com/smukkama/metarmap-console/internal/kiosk"
	"github.com/smukkama/metarmap-console/internal/mapview"
	"github.com/smukkama/metarmap-console/internal/queue"
	"github.com/smukkama/metarmap-console/internal/selection"
	"github.com/smukkama/metarmap-console/internal/state"
	"github.com/smukkama/metarmap-console/internal/status"
	"github.com/smukkama/metarmap-console/internal/timer"
	"github.com/smukkama/metarmap-console/internal/web"
	"github.com/smukkama/metarmap-console/pkg/config"
)

// displayMode selects which surface a display process serves
type displayMode int

const (
	modeKiosk displayMode = iota
	modeConsole
)

func (m displayMode) String() string {
	if m == modeKiosk {
		return "kiosk"
	}
	return "console"
}

// display is one running display process and everything it owns
type display struct {
	cfg       *config.Config
	sessionID string
	scheduler *timer.Scheduler
	client    *backend.Client
	maps      *mapview.Holder
	poller    *status.Poller
	engine    *selection.Engine
	kiosk     *kiosk.Session
	hub       *web.Hub
	logTail   *web.LogTail
	server    *web.Server

	closers []func() error
}

// newStore picks the shared Redis store when enabled and reachable
func newStore(ctx context.Context, cfg *config.Config, scope string) (state.Store, func() error) {
	if !cfg.Redis.Enabled {
		return state.NewMemoryStore(), nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("Redis unavailable at %s, keeping display state in memory: %v", cfg.Redis.Addr, err)
		redisClient.Close()
		return state.NewMemoryStore(), nil
	}

	fmt.Printf("Connected to Redis at %s\n", cfg.Redis.Addr)
	return state.NewRedisStore(redisClient, scope), redisClient.Close
}

func newDisplay(ctx context.Context, cfg *config.Config, mode displayMode) (*display, error) {
	d := &display{cfg: cfg, sessionID: cfg.Display.SessionID}
	if d.sessionID == "" {
		d.sessionID = uuid.New().String()
	}

	d.scheduler = timer.NewScheduler()
	d.scheduler.Start()
	d.closers = append(d.closers, func() error { d.scheduler.Stop(); return nil })

	d.client = backend.NewClient(&cfg.Backend)

	// Sinks: the ring buffer and websocket hub always, kafka and postgres when enabled
	recent := events.NewBuffer(200)
	d.hub = web.NewHub(64)
	fanout := events.NewFanout()
	fanout.Add("buffer", recent)
	fanout.Add("websocket", d.hub)

	var journal web.Journal
	if cfg.Kafka.Enabled {
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		fanout.Add("kafka", producer)
		d.closers = append(d.closers, producer.Close)
	}
	if cfg.Database.Enabled {
		db, err := database.Connect(cfg.Database.ConnectionString())
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, db.Close)
		journal = db
		// with kafka on, the journal command writes the table from the topic
		if !cfg.Kafka.Enabled {
			fanout.Add("postgres", db)
		}
	}
	fmt.Printf("Event sinks: %v\n", fanout.Sinks())

	store, closeStore := newStore(ctx, cfg, d.sessionID)
	if closeStore != nil {
		d.closers = append(d.closers, closeStore)
	}

	d.maps = mapview.NewHolder()
	settingsCtx, cancel := context.WithTimeout(ctx, cfg.Backend.RequestTimeout)
	m := d.maps.InitializeFromSettings(settingsCtx, d.client, cfg.Display.ContainerID, mapview.ColorsFromLegend(cfg.Legend))
	cancel()

	d.poller = status.NewPoller(d.client, m, d.scheduler, fanout, store, status.Options{
		Interval:         cfg.Poller.Interval,
		DefaultThreshold: cfg.Poller.DefaultThreshold,
		Location:         cfg.Display.Location(),
		SessionID:        d.sessionID,
		RequestTimeout:   cfg.Backend.RequestTimeout,
	})

	deps := web.Deps{
		SessionID: d.sessionID,
		Backend:   d.client,
		Maps:      d.maps,
		Poller:    d.poller,
		Recent:    recent,
		Journal:   journal,
		Store:     store,
		Hub:       d.hub,
		Publisher: fanout,
	}

	switch mode {
	case modeKiosk:
		d.engine = selection.NewEngine(d.client, m, fanout, store, selection.Options{
			MajorAirports: cfg.Legend.Major,
			SessionID:     d.sessionID,
		})
		d.kiosk = kiosk.NewSession(d.client, d.engine, m, d.scheduler, fanout, kiosk.Options{
			SessionID:       d.sessionID,
			IdleDuration:    cfg.Kiosk.IdleDuration,
			TickInterval:    cfg.Kiosk.TickInterval,
			MessageLifetime: cfg.Kiosk.MessageLifetime,
			ResetTimeout:    cfg.Backend.RequestTimeout * 2,
		})
		deps.Engine = d.engine
		deps.Kiosk = d.kiosk
	case modeConsole:
		d.logTail = web.NewLogTail(d.client, d.scheduler, 5*time.Second)
		deps.LogTail = d.logTail
		deps.LEDTest = web.NewLEDTest(d.client, cfg.Legend)
	}

	d.server = web.NewServer(cfg.Display.Addr(), deps)
	return d, nil
}

// Start runs the first status check and arms the recurring tasks
func (d *display) Start(ctx context.Context) error {
	if f, ok := d.poller.Poll(ctx); ok {
		fmt.Printf("Weather data last updated %s (%s)\n", f.Display, f.Indicator())
	}
	if err := d.poller.Start(); err != nil {
		return err
	}
	if err := d.hub.Start(d.scheduler); err != nil {
		return err
	}
	if d.kiosk != nil {
		if err := d.kiosk.Start(); err != nil {
			return err
		}
	}
	return d.server.Start()
}

// Close shuts the display down in reverse order of construction
func (d *display) Close() {
	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.server.Shutdown(ctx); err != nil {
			log.Printf("%v", err)
		}
		cancel()
	}
	if d.kiosk != nil {
		d.kiosk.Stop()
	}
	if d.logTail != nil {
		d.logTail.StopAll()
	}
	if d.poller != nil {
		d.poller.Stop()
	}

	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}
	d.closers = nil
}

// printStats mirrors the periodic statistics block of the server processes
func (d *display) printStats() {
	mapStats := d.maps.Current().Stats()
	pollStats := d.poller.Stats()
	schedStats := d.scheduler.Stats()
	hubStats := d.hub.Stats()

	fmt.Printf("\n--- Display Statistics ---\n")
	if mapStats.Filtered {
		fmt.Printf("Markers: %d (%d highlighted, filtered)\n", mapStats.TotalMarkers, mapStats.VisibleMarkers)
	} else {
		fmt.Printf("Markers: %d (%d highlighted)\n", mapStats.TotalMarkers, mapStats.VisibleMarkers)
	}
	fmt.Printf("Status polls: %d (%d dropped)\n", pollStats.Polls, pollStats.Dropped)
	fmt.Printf("Scheduled tasks: %d (%d recurring)\n", schedStats.ScheduledTasks, schedStats.RecurringTasks)
	fmt.Printf("Live subscribers: %d / %d\n", hubStats.TotalConnections, hubStats.MaxConnections)
	if d.kiosk != nil {
		fmt.Printf("Idle reset in: %s\n", d.kiosk.Countdown().Display())
	}
	fmt.Printf("--------------------------\n\n")
}
