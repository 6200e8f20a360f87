package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
)

// DefaultSessionTTL is how long an idle session survives in Redis before
// eviction.
const DefaultSessionTTL = 24 * time.Hour

// SessionStore persists conversation sessions between turns.
type SessionStore interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, session *Session) error
}

// MemorySessionStore keeps sessions in process memory. Used in tests and
// single-instance deployments without Redis.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore builds an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

var _ SessionStore = (*MemorySessionStore)(nil)

// Load returns a deep-enough copy that callers can mutate freely.
func (s *MemorySessionStore) Load(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySession(session), nil
}

// Save stores a snapshot of the session.
func (s *MemorySessionStore) Save(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = copySession(session)
	return nil
}

func copySession(in *Session) *Session {
	out := *in
	out.Stack = append([]Frame(nil), in.Stack...)
	out.Turns = append([]Turn(nil), in.Turns...)
	out.OfferedSlots = append([]calendar.CandidateSlot(nil), in.OfferedSlots...)
	if in.Draft.Slot != nil {
		slot := *in.Draft.Slot
		out.Draft.Slot = &slot
	}
	if in.Draft.PreferredDate != nil {
		date := *in.Draft.PreferredDate
		out.Draft.PreferredDate = &date
	}
	return &out
}

// RedisSessionStore persists sessions as JSON blobs with a sliding TTL, so
// abandoned sessions age out without an explicit cleanup job.
type RedisSessionStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisSessionStore wraps a Redis client as a session store.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("clinic.internal.conversation.sessions"),
	}
}

var _ SessionStore = (*RedisSessionStore)(nil)

func (s *RedisSessionStore) Load(ctx context.Context, id string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.load_session")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSessionNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: decode session: %w", err)
	}
	return &session, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, session *Session) error {
	ctx, span := s.tracer.Start(ctx, "conversation.save_session")
	defer span.End()

	data, err := json.Marshal(session)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: encode session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(session.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: persist session: %w", err)
	}
	return nil
}

func sessionKey(id string) string {
	return "session:" + id
}
