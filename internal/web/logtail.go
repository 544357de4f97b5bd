package web

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/smukkama/metarmap-console/internal/backend"
	"github.com/smukkama/metarmap-console/internal/protocol"
	"github.com/smukkama/metarmap-console/internal/timer"
)

// LogSource fetches the journal tail of a managed service
type LogSource interface {
	ServiceLogs(ctx context.Context, name string) (*protocol.ServiceLogs, error)
}

// TailedLogs is the latest fetch of one service's logs
type TailedLogs struct {
	Service   string    `json:"service"`
	Logs      string    `json:"logs"`
	FetchedAt time.Time `json:"fetched_at"`
	Error     string    `json:"error,omitempty"`
	Active    bool      `json:"active"`
}

// LogTail refreshes service logs on an interval, one scheduler task per service
type LogTail struct {
	source    LogSource
	scheduler *timer.Scheduler
	interval  time.Duration

	mu   sync.RWMutex
	logs map[string]*TailedLogs
}

// NewLogTail creates a tailer refreshing every interval (default 5s)
func NewLogTail(source LogSource, scheduler *timer.Scheduler, interval time.Duration) *LogTail {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &LogTail{
		source:    source,
		scheduler: scheduler,
		interval:  interval,
		logs:      make(map[string]*TailedLogs),
	}
}

func tailTaskID(service string) string {
	return "log-tail:" + service
}

// Start fetches the service logs now and then on every interval. Starting a
// service that is already tailed restarts its interval.
func (t *LogTail) Start(service string) error {
	if !backend.ValidService(service) {
		return fmt.Errorf("%w: %s", backend.ErrUnknownService, service)
	}

	t.mu.Lock()
	entry, ok := t.logs[service]
	if !ok {
		entry = &TailedLogs{Service: service}
		t.logs[service] = entry
	}
	entry.Active = true
	t.mu.Unlock()

	if err := t.scheduler.Every(tailTaskID(service), t.interval, func() { t.fetch(service) }); err != nil {
		return fmt.Errorf("failed to start log tail: %w", err)
	}
	go t.fetch(service)
	return nil
}

// Stop ends the tail of one service; the last fetch stays readable
func (t *LogTail) Stop(service string) {
	t.scheduler.Cancel(tailTaskID(service))

	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.logs[service]; ok {
		entry.Active = false
	}
}

// StopAll ends every tail
func (t *LogTail) StopAll() {
	for _, service := range t.Active() {
		t.Stop(service)
	}
}

func (t *LogTail) fetch(service string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.interval)
	defer cancel()

	result, err := t.source.ServiceLogs(ctx, service)

	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.logs[service]
	if !ok || !entry.Active {
		return
	}
	entry.FetchedAt = time.Now()
	if err != nil {
		log.Printf("Failed to fetch %s logs: %v", service, err)
		entry.Error = err.Error()
		return
	}
	entry.Error = ""
	entry.Logs = result.Logs
}

// Latest returns the most recent fetch for a service
func (t *LogTail) Latest(service string) (TailedLogs, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.logs[service]
	if !ok {
		return TailedLogs{}, false
	}
	return *entry, true
}

// Active lists the services currently tailed
func (t *LogTail) Active() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var services []string
	for service, entry := range t.logs {
		if entry.Active {
			services = append(services, service)
		}
	}
	sort.Strings(services)
	return services
}
