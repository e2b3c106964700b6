// Package progress tracks how far asynchronous import tasks have got. Task
// runners write to a progress key; the pipeline polls it.
package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownKey is returned for keys that were never started or have expired.
var ErrUnknownKey = errors.New("unknown progress key")

// State is the coarse state of a tracked task.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "success"
	StateFailed    State = "failed"
)

// Status is a snapshot of one progress key.
type Status struct {
	Key       string    `json:"progressKey"`
	Progress  int       `json:"progress"`
	State     State     `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Done reports whether the task reached 100 percent.
func (s Status) Done() bool { return s.Progress >= 100 }

// Tracker reports the progress of a key.
type Tracker interface {
	Get(ctx context.Context, key string) (Status, error)
}

// NewKey returns a fresh progress key for the given task kind.
func NewKey(kind string) string {
	return fmt.Sprintf(":1:autoload:%s:%s", kind, uuid.New().String())
}

type entry struct {
	status     Status
	expiresAt  time.Time
	insertedAt time.Time
}

// CacheTracker is a thread-safe in-memory Tracker with TTL and max-size
// eviction. When full, the entry inserted first is evicted. Expired entries
// are removed lazily on Get.
type CacheTracker struct {
	mu         sync.Mutex
	items      map[string]*entry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// NewCacheTracker creates a tracker from cfg (nil uses the defaults).
func NewCacheTracker(cfg *TrackerConfig) *CacheTracker {
	if cfg == nil {
		cfg = DefaultTrackerConfig()
	}
	maxEntries := cfg.MaxEntries
	if maxEntries < 1 {
		maxEntries = 1
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CacheTracker{
		items:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns the status of key.
func (t *CacheTracker) Get(ctx context.Context, key string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.items[key]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if t.now().After(e.expiresAt) {
		delete(t.items, key)
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return e.status, nil
}

// Start registers key at 0 percent.
func (t *CacheTracker) Start(key string) {
	t.put(key, func(s *Status) {
		s.Progress = 0
		s.State = StateRunning
		s.Message = ""
	})
}

// Set records progress for key, clamped to 0..100.
func (t *CacheTracker) Set(key string, pct int) {
	t.put(key, func(s *Status) {
		s.Progress = clamp(pct)
		if s.State == "" {
			s.State = StateRunning
		}
	})
}

// SetFraction records done out of total as a percentage. A zero total counts
// as no progress.
func (t *CacheTracker) SetFraction(key string, done, total int) {
	if total <= 0 {
		t.Set(key, 0)
		return
	}
	t.Set(key, done*100/total)
}

// Complete marks key as finished at 100 percent.
func (t *CacheTracker) Complete(key string) {
	t.put(key, func(s *Status) {
		s.Progress = 100
		s.State = StateSucceeded
	})
}

// Fail marks key as failed with a message. Progress is left where it was.
func (t *CacheTracker) Fail(key, message string) {
	t.put(key, func(s *Status) {
		s.State = StateFailed
		s.Message = message
	})
}

// Len returns the number of entries, including expired ones not yet removed.
func (t *CacheTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *CacheTracker) put(key string, update func(*Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	e, ok := t.items[key]
	if !ok || now.After(e.expiresAt) {
		if !ok && len(t.items) >= t.maxEntries {
			t.evictOldest()
		}
		e = &entry{status: Status{Key: key}, insertedAt: now}
		t.items[key] = e
	}
	update(&e.status)
	e.status.UpdatedAt = now
	e.expiresAt = now.Add(t.ttl)
}

// evictOldest removes the entry inserted first. Must be called with t.mu held.
func (t *CacheTracker) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range t.items {
		if first || e.insertedAt.Before(oldest) {
			oldestKey = k
			oldest = e.insertedAt
			first = false
		}
	}
	if !first {
		delete(t.items, oldestKey)
	}
}

func clamp(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
