// Package idempotency replays the stored response of a request that is
// retried with the same Idempotency-Key, so a client retrying intent
// creation never opens a second payment.
package idempotency

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/akkaui/payments/internal/config"
)

// Response is a cached response.
type Response struct {
	StatusCode int               `json:"status"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
	CachedAt   time.Time         `json:"cached_at"`
}

// Store keeps idempotency keys and their responses.
type Store interface {
	// Get returns the cached response for key, if any.
	Get(ctx context.Context, key string) (*Response, bool, error)

	// Reserve claims key for an in-flight request. It returns false when
	// another request holds the key or a response is already cached.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Set stores the response and releases the reservation.
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error

	// Delete drops the response and any reservation.
	Delete(ctx context.Context, key string) error

	Close() error
}

// NewStore builds the store selected by cfg.Backend.
func NewStore(cfg config.IdempotencyConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(cfg.RedisURL, cfg.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown idempotency backend: %s", cfg.Backend)
	}
}

const defaultMaxEntries = 10000

// MemoryStore is an in-process Store with LRU eviction and a periodic sweep
// of expired entries. Suitable for a single replica.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	reserved map[string]time.Time
	maxSize  int
	now      func() time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type memoryEntry struct {
	key      string
	response *Response
	expires  time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSize(defaultMaxEntries)
}

// NewMemoryStoreWithSize creates a store holding at most maxSize responses.
func NewMemoryStoreWithSize(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = defaultMaxEntries
	}
	s := &MemoryStore{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		reserved: make(map[string]time.Time),
		maxSize:  maxSize,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.sweepLoop(5 * time.Minute)
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Response, bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	entry := el.Value.(*memoryEntry)
	if now.After(entry.expires) {
		s.removeLocked(el)
		return nil, false, nil
	}
	s.order.MoveToFront(el)
	return entry.response, true, nil
}

func (s *MemoryStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok && !now.After(el.Value.(*memoryEntry).expires) {
		return false, nil
	}
	if until, ok := s.reserved[key]; ok && now.Before(until) {
		return false, nil
	}
	s.reserved[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, response *Response, ttl time.Duration) error {
	expires := s.now().Add(ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.reserved, key)
	if el, ok := s.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.response = response
		entry.expires = expires
		s.order.MoveToFront(el)
		return nil
	}
	// Evict first so concurrent writers never push the map past maxSize.
	for len(s.entries) >= s.maxSize {
		s.removeLocked(s.order.Back())
	}
	s.entries[key] = s.order.PushFront(&memoryEntry{key: key, response: response, expires: expires})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, key)
	if el, ok := s.entries[key]; ok {
		s.removeLocked(el)
	}
	return nil
}

// removeLocked drops an entry; s.mu must be held.
func (s *MemoryStore) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	s.order.Remove(el)
	delete(s.entries, el.Value.(*memoryEntry).key)
}

func (s *MemoryStore) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*memoryEntry).expires) {
			s.removeLocked(el)
		}
		el = prev
	}
	for key, until := range s.reserved {
		if !now.Before(until) {
			delete(s.reserved, key)
		}
	}
}

// Len reports the number of cached responses.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the sweep goroutine. Safe to call more than once.
func (s *MemoryStore) Close() error {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}
