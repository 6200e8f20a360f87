package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
)

func sampleSession() *Session {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	s := NewSession("sess-1", now)
	s.Phase = PhaseCollectingInfo
	s.Draft = Draft{
		Type: calendar.TypeConsultation,
		Name: "Jordan Fields",
		Slot: &calendar.CandidateSlot{
			Date:  time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
			Start: 600,
			End:   630,
		},
	}
	s.Stack = []Frame{{Phase: PhaseCollectingInfo, Draft: s.Draft}}
	s.AppendTurn(RoleUser, "hi", now)
	return s
}

func TestMemorySessionStoreRoundTrip(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	original := sampleSession()
	require.NoError(t, store.Save(ctx, original))

	loaded, err := store.Load(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, original.Phase, loaded.Phase)
	assert.Equal(t, original.Draft, loaded.Draft)
	assert.Len(t, loaded.Turns, 1)
}

func TestMemorySessionStoreIsolatesCopies(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleSession()))

	loaded, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	loaded.Draft.Name = "Someone Else"
	loaded.Draft.Slot.Start = 0
	loaded.Stack = nil

	again, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Jordan Fields", again.Draft.Name)
	assert.Equal(t, calendar.MinuteOfDay(600), again.Draft.Slot.Start)
	assert.Len(t, again.Stack, 1)
}

func TestRedisSessionStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisSessionStore(client, time.Hour)
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	original := sampleSession()
	require.NoError(t, store.Save(ctx, original))

	loaded, err := store.Load(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, original.ID, loaded.ID)
	assert.Equal(t, PhaseCollectingInfo, loaded.Phase)
	assert.Equal(t, original.Draft, loaded.Draft)
	assert.Equal(t, original.Stack, loaded.Stack)
	require.Len(t, loaded.Turns, 1)
	assert.Equal(t, "hi", loaded.Turns[0].Content)
}

func TestRedisSessionStoreAppliesTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisSessionStore(client, time.Minute)

	require.NoError(t, store.Save(context.Background(), sampleSession()))
	assert.Equal(t, time.Minute, mr.TTL("session:sess-1"))

	mr.FastForward(2 * time.Minute)
	_, err := store.Load(context.Background(), "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
