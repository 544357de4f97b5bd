package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/metarmap-console/internal/protocol"
)

// Store shares the display state of one device between its kiosk and
// console processes
type Store interface {
	SetFreshness(ctx context.Context, f protocol.FreshnessPayload) error
	GetFreshness(ctx context.Context) (*protocol.FreshnessPayload, error)
	SetSelection(ctx context.Context, s protocol.SelectionPayload) error
	GetSelection(ctx context.Context) (*protocol.SelectionPayload, error)
	ClearSelection(ctx context.Context) error
}

// DisplayState is everything a Store holds for a device
type DisplayState struct {
	Freshness *protocol.FreshnessPayload `json:"freshness,omitempty"`
	Selection *protocol.SelectionPayload `json:"selection,omitempty"`
}

// Snapshot reads the whole display state. Missing parts are nil.
func Snapshot(ctx context.Context, store Store) (*DisplayState, error) {
	freshness, err := store.GetFreshness(ctx)
	if err != nil {
		return nil, err
	}
	selection, err := store.GetSelection(ctx)
	if err != nil {
		return nil, err
	}
	return &DisplayState{Freshness: freshness, Selection: selection}, nil
}

const (
	kindFreshness = "freshness"
	kindSelection = "selection"

	// entries expire so an abandoned display does not leave stale state behind
	stateTTL = 24 * time.Hour
)

// RedisStore keeps display state in Redis as JSON, one key per kind
type RedisStore struct {
	redis *redis.Client
	scope string
}

// NewRedisStore creates a store for one device scope
func NewRedisStore(redisClient *redis.Client, scope string) *RedisStore {
	return &RedisStore{redis: redisClient, scope: scope}
}

func (rs *RedisStore) key(kind string) string {
	return fmt.Sprintf("metarmap_state:%s:%s", rs.scope, kind)
}

// SetFreshness saves the last poll result
func (rs *RedisStore) SetFreshness(ctx context.Context, f protocol.FreshnessPayload) error {
	return rs.set(ctx, kindFreshness, f)
}

// GetFreshness returns the last poll result, or nil if none was saved
func (rs *RedisStore) GetFreshness(ctx context.Context) (*protocol.FreshnessPayload, error) {
	var f protocol.FreshnessPayload
	ok, err := rs.get(ctx, kindFreshness, &f)
	if err != nil || !ok {
		return nil, err
	}
	return &f, nil
}

// SetSelection saves the applied selection
func (rs *RedisStore) SetSelection(ctx context.Context, s protocol.SelectionPayload) error {
	return rs.set(ctx, kindSelection, s)
}

// GetSelection returns the applied selection, or nil when the map is unfiltered
func (rs *RedisStore) GetSelection(ctx context.Context) (*protocol.SelectionPayload, error) {
	var s protocol.SelectionPayload
	ok, err := rs.get(ctx, kindSelection, &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

// ClearSelection returns the shared state to unfiltered
func (rs *RedisStore) ClearSelection(ctx context.Context) error {
	if err := rs.redis.Del(ctx, rs.key(kindSelection)).Err(); err != nil {
		return fmt.Errorf("failed to clear selection in Redis: %w", err)
	}
	return nil
}

func (rs *RedisStore) set(ctx context.Context, kind string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}

	if err := rs.redis.Set(ctx, rs.key(kind), data, stateTTL).Err(); err != nil {
		return fmt.Errorf("failed to set %s in Redis: %w", kind, err)
	}
	return nil
}

func (rs *RedisStore) get(ctx context.Context, kind string, v interface{}) (bool, error) {
	data, err := rs.redis.Get(ctx, rs.key(kind)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s from Redis: %w", kind, err)
	}

	if err := json.Unmarshal([]byte(data), v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", kind, err)
	}
	return true, nil
}

// MemoryStore is a process-local Store used when Redis is disabled
type MemoryStore struct {
	mu        sync.RWMutex
	freshness *protocol.FreshnessPayload
	selection *protocol.SelectionPayload
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (ms *MemoryStore) SetFreshness(ctx context.Context, f protocol.FreshnessPayload) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.freshness = &f
	return nil
}

func (ms *MemoryStore) GetFreshness(ctx context.Context) (*protocol.FreshnessPayload, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if ms.freshness == nil {
		return nil, nil
	}
	cp := *ms.freshness
	return &cp, nil
}

func (ms *MemoryStore) SetSelection(ctx context.Context, s protocol.SelectionPayload) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	s.Filters = append([]string(nil), s.Filters...)
	s.Codes = append([]string(nil), s.Codes...)
	ms.selection = &s
	return nil
}

func (ms *MemoryStore) GetSelection(ctx context.Context) (*protocol.SelectionPayload, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if ms.selection == nil {
		return nil, nil
	}
	cp := *ms.selection
	return &cp, nil
}

func (ms *MemoryStore) ClearSelection(ctx context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.selection = nil
	return nil
}
