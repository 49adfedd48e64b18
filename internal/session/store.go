package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSessionNotFound is returned when a session ID has no stored session.
var ErrSessionNotFound = errors.New("session not found")

// Store manages session lifecycle. The server layer owns creation and
// teardown; pipeline components never talk to the store directly.
type Store interface {
	Create(ctx context.Context) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// InMemoryStore keeps sessions in process memory. Entries expire after the
// configured TTL; zero TTL means sessions live until deleted.
type InMemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[string]*memEntry
}

type memEntry struct {
	session  *Session
	deadline time.Time
}

// NewInMemoryStore creates an in-memory session store.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{ttl: ttl, sessions: make(map[string]*memEntry)}
}

func (st *InMemoryStore) Create(ctx context.Context) (*Session, error) {
	s := New()
	if err := st.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (st *InMemoryStore) Get(_ context.Context, id string) (*Session, error) {
	st.mu.RLock()
	entry, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !entry.deadline.IsZero() && time.Now().After(entry.deadline) {
		st.mu.Lock()
		delete(st.sessions, id)
		st.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return entry.session, nil
}

func (st *InMemoryStore) Save(_ context.Context, s *Session) error {
	entry := &memEntry{session: s}
	if st.ttl > 0 {
		entry.deadline = time.Now().Add(st.ttl)
	}
	st.mu.Lock()
	st.sessions[s.ID()] = entry
	st.mu.Unlock()
	return nil
}

func (st *InMemoryStore) Delete(_ context.Context, id string) error {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
	return nil
}
