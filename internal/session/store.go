package session

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RemovalCause tells the eviction hook why a session left the store.
type RemovalCause string

const (
	CauseDeleted  RemovalCause = "deleted"
	CauseExpired  RemovalCause = "expired"
	CauseCapacity RemovalCause = "capacity"
)

// entry values are never mutated after insertion; updates swap in a new one.
type entry struct {
	sess    *Session
	deleted atomic.Bool
}

// MemoryStore keeps sessions in an expiring LRU. Every write refreshes the
// session's TTL, so the TTL behaves as an inactivity timeout.
type MemoryStore struct {
	mu      sync.Mutex
	cache   *expirable.LRU[string, *entry]
	ttl     time.Duration
	locks   keyedMutex
	onEvict atomic.Pointer[func(*Session, RemovalCause)]
}

func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	s := &MemoryStore{ttl: ttl, locks: keyedMutex{locks: make(map[string]*refLock)}}
	s.cache = expirable.NewLRU[string, *entry](capacity, s.handleEvict, ttl)
	return s
}

// SetEvictHook registers a callback invoked whenever a session is removed.
// The hook runs under the cache lock and must not call back into the store.
func (m *MemoryStore) SetEvictHook(hook func(*Session, RemovalCause)) {
	if hook == nil {
		m.onEvict.Store(nil)
		return
	}
	m.onEvict.Store(&hook)
}

func (m *MemoryStore) GetOrCreate(id string, flow Flow) (*Session, bool) {
	id = strings.TrimSpace(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" {
		if e, ok := m.cache.Get(id); ok {
			return clone(e.sess), false
		}
	}
	return clone(m.createLocked(Session{ID: id, Flow: flow})), true
}

func (m *MemoryStore) Create(s Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.createLocked(s))
}

func (m *MemoryStore) createLocked(s Session) *Session {
	if strings.TrimSpace(s.ID) == "" {
		s.ID = uuid.NewString()
	}
	if s.Flow == "" {
		s.Flow = FlowGeneral
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	stored := clone(&s)
	m.cache.Add(stored.ID, &entry{sess: stored})
	return stored
}

func (m *MemoryStore) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(e.sess), nil
}

func (m *MemoryStore) AppendTurn(id string, role Role, text string) error {
	return m.Update(id, func(s *Session) {
		s.History = append(s.History, Turn{Role: role, Text: text, Timestamp: time.Now().UTC()})
	})
}

func (m *MemoryStore) Update(id string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := clone(e.sess)
	fn(next)
	next.ID, next.Flow, next.CreatedAt = e.sess.ID, e.sess.Flow, e.sess.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	// Re-adding an existing key renews its expiry.
	m.cache.Add(id, &entry{sess: next})
	return nil
}

func (m *MemoryStore) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache.Peek(id)
	if !ok {
		return false
	}
	e.deleted.Store(true)
	return m.cache.Remove(id)
}

func (m *MemoryStore) Lock(id string) func() {
	return m.locks.lock(id)
}

func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

func (m *MemoryStore) handleEvict(_ string, e *entry) {
	cause := CauseCapacity
	switch {
	case e.deleted.Load():
		cause = CauseDeleted
	case time.Since(e.sess.UpdatedAt) >= m.ttl:
		cause = CauseExpired
	}
	// Called with m.mu held (Delete, Add) or from the LRU's expiry goroutine;
	// must not take m.mu.
	if hook := m.onEvict.Load(); hook != nil {
		(*hook)(clone(e.sess), cause)
	}
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
