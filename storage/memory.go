package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/c360studio/sessionflow/session"
)

// MemoryStore is an in-memory session store for tests and offline runs. It
// round-trips documents through JSON so state bags behave exactly as they
// do after a KV read.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]byte)}
}

// Create assigns an ID and persists a new session.
func (m *MemoryStore) Create(_ context.Context, sess *session.Session) error {
	sess.ID = NewEntityID().String()
	sess.CreatedAt = time.Now().UTC()
	sess.UpdatedAt = sess.CreatedAt

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = data
	return nil
}

// Get retrieves a session by ID.
func (m *MemoryStore) Get(_ context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	data, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Update persists a new snapshot of an existing session.
func (m *MemoryStore) Update(_ context.Context, sess *session.Session) error {
	sess.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.ID]; !ok {
		return ErrNotFound
	}
	m.sessions[sess.ID] = data
	return nil
}

// List returns all sessions owned by an account, oldest first.
func (m *MemoryStore) List(_ context.Context, accountID string) ([]*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*session.Session, 0)
	for _, data := range m.sessions {
		var sess session.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		if sess.AccountID == accountID {
			sessions = append(sessions, &sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}
