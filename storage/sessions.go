// Package storage provides session persistence for sessionflow using NATS KV.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/sessionflow/session"
)

// EntityTypeSession is the typed-id prefix for session documents.
const EntityTypeSession = "session"

// BucketSessions is the KV bucket holding every session document, keyed by
// the session's bare uuid.
const BucketSessions = "SESSIONFLOW_SESSIONS"

// EntityID represents a typed session identifier (session:{uuid}).
type EntityID struct {
	ID string
}

// String returns the string representation of the entity ID.
func (e EntityID) String() string {
	return fmt.Sprintf("%s:%s", EntityTypeSession, e.ID)
}

// ParseEntityID parses a session ID string into its key component.
func ParseEntityID(s string) (EntityID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[0] != EntityTypeSession || parts[1] == "" {
		return EntityID{}, fmt.Errorf("invalid session ID format: %s", s)
	}
	return EntityID{ID: parts[1]}, nil
}

// NewEntityID generates a new unique session ID.
func NewEntityID() EntityID {
	return EntityID{ID: uuid.New().String()}
}

// SessionStore persists session aggregates in a NATS KV bucket. Each
// persisted snapshot is the full document; KV history keeps recent
// revisions for debugging.
type SessionStore struct {
	sessions jetstream.KeyValue
}

// NewSessionStore creates a SessionStore with the given JetStream context,
// creating the sessions bucket if it doesn't exist.
func NewSessionStore(ctx context.Context, js jetstream.JetStream) (*SessionStore, error) {
	kv, err := getOrCreateBucket(ctx, js, BucketSessions)
	if err != nil {
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}
	return &SessionStore{sessions: kv}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "Sessionflow session storage",
		History:     5, // Keep last 5 revisions
	})
}

// Create assigns an ID and persists a new session.
func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	id := NewEntityID()
	sess.ID = id.String()
	sess.CreatedAt = time.Now().UTC()
	sess.UpdatedAt = sess.CreatedAt

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if _, err := s.sessions.Create(ctx, id.ID, data); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	parsed, err := ParseEntityID(id)
	if err != nil {
		return nil, err
	}

	entry, err := s.sessions.Get(ctx, parsed.ID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess session.Session
	if err := json.Unmarshal(entry.Value(), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Update persists a new snapshot of an existing session.
func (s *SessionStore) Update(ctx context.Context, sess *session.Session) error {
	parsed, err := ParseEntityID(sess.ID)
	if err != nil {
		return fmt.Errorf("parse session ID: %w", err)
	}

	sess.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if _, err := s.sessions.Put(ctx, parsed.ID, data); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// List returns all sessions owned by an account.
func (s *SessionStore) List(ctx context.Context, accountID string) ([]*session.Session, error) {
	keys, err := s.sessions.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list session keys: %w", err)
	}

	sessions := make([]*session.Session, 0, len(keys))
	for _, key := range keys {
		entry, err := s.sessions.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var sess session.Session
		if err := json.Unmarshal(entry.Value(), &sess); err != nil {
			continue
		}
		if sess.AccountID == accountID {
			sessions = append(sessions, &sess)
		}
	}

	return sessions, nil
}

// Watch returns a KV watcher observing every session mutation. Used by the
// orchestrator to react to persisted snapshots.
func (s *SessionStore) Watch(ctx context.Context) (jetstream.KeyWatcher, error) {
	watcher, err := s.sessions.Watch(ctx, ">")
	if err != nil {
		return nil, fmt.Errorf("watch sessions bucket: %w", err)
	}
	return watcher, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
