// pkg/memcache/ttl_store.go
package mem

import (
	"context"
	"sync"
	"time"
)

// Deduper remembers keys for a while so replayed requests can be short-circuited. It is a fast
// path only: correctness never depends on it.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string, ttl time.Duration) error
}

// Lease grants a named, expiring lock to one holder at a time.
type Lease interface {
	// Acquire returns ok=false if someone else holds key. token identifies this holder.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release drops key only if it is still held with token.
	Release(ctx context.Context, key, token string) error
}

type entry struct {
	value     string
	expiresAt time.Time
}

// TTLStore is the single-process Deduper and Lease, used when Redis is not configured.
type TTLStore struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time

	stop chan struct{}
	done chan struct{}
}

func NewTTLStore() *TTLStore {
	return &TTLStore{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

func (s *TTLStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	return ok && s.now().Before(e.expiresAt), nil
}

func (s *TTLStore) Remember(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = entry{value: "1", expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *TTLStore) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.data[key]; ok && now.Before(e.expiresAt) {
		return "", false, nil
	}
	token := newToken(now)
	s.data[key] = entry{value: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (s *TTLStore) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[key]; ok && e.value == token {
		delete(s.data, key)
	}
	return nil
}

// Start runs a janitor that drops expired entries every interval until Stop.
func (s *TTLStore) Start(interval time.Duration) {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *TTLStore) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
}

func (s *TTLStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.data {
		if !now.Before(e.expiresAt) {
			delete(s.data, k)
		}
	}
}

func (s *TTLStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
