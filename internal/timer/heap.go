package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Task is a callback scheduled for a point in time
type Task struct {
	ID       string
	ExpiryAt time.Time
	Callback func()
	index    int // index in the heap (for heap.Interface)
}

// taskHeap is a min-heap of Tasks ordered by ExpiryAt
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].ExpiryAt.Before(h[j].ExpiryAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	n := len(*h)
	task := x.(*Task)
	task.index = n
	*h = append(*h, task)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil  // avoid memory leak
	task.index = -1 // for safety
	*h = old[0 : n-1]
	return task
}

// Scheduler runs one-shot and recurring tasks keyed by ID. Scheduling an ID
// that is already pending replaces it, so every ID has at most one timer.
type Scheduler struct {
	heap      taskHeap
	mu        sync.Mutex
	wakeup    chan struct{}
	tasks     map[string]*Task  // for O(1) lookup by ID
	recurring map[string]uint64 // ID -> generation of the live recurring task
	nextGen   uint64
	running   sync.WaitGroup
	started   bool
	stopped   bool
	stopCh    chan struct{}
}

// NewScheduler creates a scheduler; call Start before tasks can fire
func NewScheduler() *Scheduler {
	s := &Scheduler{
		heap:      make(taskHeap, 0),
		wakeup:    make(chan struct{}, 1),
		tasks:     make(map[string]*Task),
		recurring: make(map[string]uint64),
		stopCh:    make(chan struct{}),
	}
	heap.Init(&s.heap)
	return s
}

// Start launches the dispatch loop. Calling it more than once is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	go s.run()
}

// Stop halts dispatching and waits for callbacks already running
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.running.Wait()
}

// Schedule adds a one-shot task, replacing any pending task with the same ID
func (s *Scheduler) Schedule(id string, expiryAt time.Time, callback func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	delete(s.recurring, id)
	s.pushLocked(id, expiryAt, callback)
	return nil
}

// Every runs callback every interval until Cancel(id). Any pending task with
// the same ID, one-shot or recurring, is cancelled first so the new series
// starts a full interval from now.
func (s *Scheduler) Every(id string, interval time.Duration, callback func()) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	s.nextGen++
	gen := s.nextGen
	s.recurring[id] = gen
	s.pushLocked(id, time.Now().Add(interval), s.recurringCallback(id, gen, interval, callback))
	return nil
}

// recurringCallback queues the next occurrence before running the callback,
// so a callback that cancels or restarts its own ID wins over the re-arm.
func (s *Scheduler) recurringCallback(id string, gen uint64, interval time.Duration, callback func()) func() {
	var fire func()
	fire = func() {
		s.mu.Lock()
		if s.stopped || s.recurring[id] != gen {
			s.mu.Unlock()
			return
		}
		s.pushLocked(id, time.Now().Add(interval), fire)
		s.mu.Unlock()

		callback()
	}
	return fire
}

func (s *Scheduler) pushLocked(id string, expiryAt time.Time, callback func()) {
	if existing, ok := s.tasks[id]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.tasks, id)
	}

	task := &Task{
		ID:       id,
		ExpiryAt: expiryAt,
		Callback: callback,
	}

	heap.Push(&s.heap, task)
	s.tasks[id] = task

	// Wake up the dispatcher if this is the earliest task
	if s.heap[0] == task {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
}

// Cancel removes a pending task and ends its recurring series
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, wasRecurring := s.recurring[id]
	delete(s.recurring, id)

	task, ok := s.tasks[id]
	if !ok {
		return wasRecurring
	}

	heap.Remove(&s.heap, task.index)
	delete(s.tasks, id)
	return true
}

// Pending reports whether a task with the ID is waiting to fire
func (s *Scheduler) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// run is the dispatch loop
func (s *Scheduler) run() {
	for {
		s.mu.Lock()

		if s.stopped {
			s.mu.Unlock()
			return
		}

		var waitDuration time.Duration
		if s.heap.Len() == 0 {
			// No tasks, wait for a wakeup
			waitDuration = 24 * time.Hour
		} else {
			next := s.heap[0]
			waitDuration = time.Until(next.ExpiryAt)

			if waitDuration <= 0 {
				task := heap.Pop(&s.heap).(*Task)
				delete(s.tasks, task.ID)

				s.running.Add(1)
				go func() {
					defer s.running.Done()
					task.Callback()
				}()

				s.mu.Unlock()
				continue
			}
		}

		s.mu.Unlock()

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

// Stats returns statistics about the scheduler
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		ScheduledTasks: len(s.tasks),
		RecurringTasks: len(s.recurring),
	}
}

// Stats contains statistics about the scheduler
type Stats struct {
	ScheduledTasks int
	RecurringTasks int
}

var (
	ErrSchedulerStopped = &TimerError{"scheduler is stopped"}
	ErrInvalidInterval  = &TimerError{"interval must be positive"}
)

// TimerError represents a timer error
type TimerError struct {
	msg string
}

func (e *TimerError) Error() string {
	return e.msg
}
