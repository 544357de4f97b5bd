package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/metarmap-console/internal/protocol"
)

// MessageReader is the consumer side the journal writer drains
type MessageReader interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// errUndecodable marks a message that can never be journaled
var errUndecodable = errors.New("undecodable event")

// JournalWriter consumes display events from Kafka and batch-writes them to
// a sink, normally the postgres journal. Offsets are committed in partition
// order: when the sink fails, the message and everything after it on the same
// partition are held and retried on the next flush. Undecodable messages are
// dropped and committed past.
type JournalWriter struct {
	consumer      MessageReader
	sink          EventSink
	batchSize     int
	maxHeld       int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup

	mu      sync.Mutex
	written int
	failed  int
}

// EventSink stores one decoded event
type EventSink interface {
	Publish(ctx context.Context, event *protocol.Event) error
}

// NewJournalWriter creates a new journal writer
func NewJournalWriter(consumer MessageReader, sink EventSink, batchSize int, flushInterval time.Duration) *JournalWriter {
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &JournalWriter{
		consumer:      consumer,
		sink:          sink,
		batchSize:     batchSize,
		maxHeld:       10 * batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing
func (jw *JournalWriter) Start(ctx context.Context) {
	jw.wg.Add(1)
	go jw.run(ctx)
}

// Stop flushes what is buffered and waits for the writer to exit
func (jw *JournalWriter) Stop() {
	close(jw.stopCh)
	jw.wg.Wait()
}

func (jw *JournalWriter) run(ctx context.Context) {
	defer jw.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var batch []kafka.Message
	held := 0
	ticker := time.NewTicker(jw.flushInterval)
	defer ticker.Stop()

	msgChan := make(chan kafka.Message, jw.batchSize)
	go func() {
		defer close(msgChan)
		for {
			msg, err := jw.consumer.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				log.Printf("Consumer error: %v", err)
				time.Sleep(time.Second)
				continue
			}
			select {
			case msgChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		// stop reading while too much is held for a failing sink
		in := msgChan
		if held >= jw.maxHeld {
			in = nil
		}

		select {
		case <-jw.stopCh:
			// flush on a fresh context; ctx is cancelled on the way out.
			// Anything still held is uncommitted and redelivered on restart.
			if rest := jw.flush(context.Background(), batch); len(rest) > 0 {
				log.Printf("Leaving %d events uncommitted", len(rest))
			}
			return

		case <-ticker.C:
			if len(batch) > 0 {
				batch = jw.flush(ctx, batch)
				held = len(batch)
			}

		case msg, ok := <-in:
			if !ok {
				jw.flush(context.Background(), batch)
				return
			}
			batch = append(batch, msg)

			if len(batch)-held >= jw.batchSize {
				batch = jw.flush(ctx, batch)
				held = len(batch)
			}
		}
	}
}

// flush journals a batch and returns the messages held for the next flush
func (jw *JournalWriter) flush(ctx context.Context, batch []kafka.Message) []kafka.Message {
	if len(batch) == 0 {
		return nil
	}

	var held []kafka.Message
	blocked := make(map[int]bool) // partitions with a sink failure in this batch
	successCount := 0
	for _, msg := range batch {
		if blocked[msg.Partition] {
			held = append(held, msg)
			continue
		}

		if err := jw.processMessage(ctx, msg); err != nil {
			jw.mu.Lock()
			jw.failed++
			jw.mu.Unlock()

			if !errors.Is(err, errUndecodable) {
				log.Printf("Failed to journal message at partition %d offset %d, holding partition: %v",
					msg.Partition, msg.Offset, err)
				blocked[msg.Partition] = true
				held = append(held, msg)
				continue
			}
			log.Printf("Dropping message at partition %d offset %d: %v", msg.Partition, msg.Offset, err)
		} else {
			successCount++
		}

		if err := jw.consumer.Commit(ctx, msg); err != nil {
			log.Printf("Failed to commit offset: %v", err)
		}
	}

	jw.mu.Lock()
	jw.written += successCount
	jw.mu.Unlock()

	log.Printf("Journaled batch of %d events", successCount)
	return held
}

func (jw *JournalWriter) processMessage(ctx context.Context, msg kafka.Message) error {
	event, err := protocol.DecodeEvent(msg.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", errUndecodable, err)
	}
	if event.ID == "" || event.Type == "" {
		return fmt.Errorf("%w: event without id or type", errUndecodable)
	}

	if err := jw.sink.Publish(ctx, event); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// Stats returns counts of journaled messages and failed attempts
func (jw *JournalWriter) Stats() (written, failed int) {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.written, jw.failed
}
