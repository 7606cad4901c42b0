package moderator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tullo/moderation/internal/models"
	"go.uber.org/zap"
)

func TestBot_HandleDispatchesEvents(t *testing.T) {
	e := newEngine(1)
	bot := NewBot(nil, "test", e.intake, zap.NewNop())
	post := e.content.add(models.SourcePost, nil, "body")

	flag, err := json.Marshal(models.WSMessage{Event: models.EventFlagCreated, Payload: flagEvent(post, "spam")})
	require.NoError(t, err)
	bot.handle(context.Background(), string(flag))

	signal, err := json.Marshal(models.WSMessage{Event: models.EventSignalDetected, Payload: models.AutoSignalEvent{
		SourceType: "comment",
		SourceID:   uuid.New(),
		Evidence:   models.AutoFlagEvidence{Label: "self-harm"},
	}})
	require.NoError(t, err)
	bot.handle(context.Background(), string(signal))

	bot.handle(context.Background(), "not json")
	bot.handle(context.Background(), `{"event":"something.else","payload":{}}`)

	assert.Equal(t, 1, e.content.get(post.ID).FlagCount)
	assert.Len(t, e.cases.all(), 2)
}

func TestBot_RunWithoutRedis(t *testing.T) {
	bot := NewBot(nil, "test", nil, zap.NewNop())
	bot.Run(context.Background())
}

// memStream is a single consumer group over an in-memory stream: each entry
// is handed to one reader and stays pending until acked.
type memStream struct {
	mu       sync.Mutex
	entries  []models.IntakeMessage
	next     int
	pending  map[string]string
	acked    map[string]int
	readErrs int
	ensured  int
}

func newMemStream() *memStream {
	return &memStream{pending: map[string]string{}, acked: map[string]int{}}
}

func (s *memStream) add(t *testing.T, msg models.WSMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, models.IntakeMessage{ID: fmt.Sprintf("%d-0", len(s.entries)+1), Data: string(data)})
}

func (s *memStream) EnsureIntakeGroup(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured++
	return nil
}

func (s *memStream) ReadIntake(ctx context.Context, consumer string, count int64, block time.Duration) ([]models.IntakeMessage, error) {
	s.mu.Lock()
	if s.readErrs > 0 {
		s.readErrs--
		s.mu.Unlock()
		return nil, errors.New("NOGROUP")
	}
	var out []models.IntakeMessage
	for s.next < len(s.entries) && int64(len(out)) < count {
		m := s.entries[s.next]
		s.next++
		s.pending[m.ID] = consumer
		out = append(out, m)
	}
	s.mu.Unlock()

	if len(out) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return out, nil
}

func (s *memStream) ClaimStaleIntake(context.Context, string, time.Duration, int64) ([]models.IntakeMessage, error) {
	return nil, nil
}

func (s *memStream) AckIntake(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.pending, id)
		s.acked[id]++
	}
	return nil
}

func (s *memStream) ackedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acked)
}

func runBots(ctx context.Context, bots ...*Bot) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, b := range bots {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Run(ctx)
		}()
	}
	return &wg
}

func TestBot_TwoInstancesHandleEachEventOnce(t *testing.T) {
	e := newEngine(2)
	stream := newMemStream()

	// queued before any bot is running
	var posts []*models.Content
	for i := 0; i < 6; i++ {
		post := e.content.add(models.SourcePost, nil, "body")
		posts = append(posts, post)
		stream.add(t, models.WSMessage{Event: models.EventFlagCreated, Payload: flagEvent(post, "spam")})
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := runBots(ctx,
		NewBot(stream, "instance-a", e.intake, zap.NewNop()),
		NewBot(stream, "instance-b", e.intake, zap.NewNop()),
	)

	require.Eventually(t, func() bool { return stream.ackedCount() == len(posts) }, 2*time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()

	for _, post := range posts {
		assert.Equal(t, 1, e.content.get(post.ID).FlagCount)
	}
	e.flags.mu.Lock()
	assert.Len(t, e.flags.flags, len(posts))
	e.flags.mu.Unlock()
	assert.Len(t, e.cases.all(), len(posts))
	for id, n := range stream.acked {
		assert.Equal(t, 1, n, "entry %s acked more than once", id)
	}
	assert.Empty(t, stream.pending)
}

func TestBot_AcksMalformedEntries(t *testing.T) {
	e := newEngine(1)
	stream := newMemStream()
	stream.mu.Lock()
	stream.entries = append(stream.entries, models.IntakeMessage{ID: "1-0", Data: "not json"})
	stream.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	wg := runBots(ctx, NewBot(stream, "instance-a", e.intake, zap.NewNop()))
	require.Eventually(t, func() bool { return stream.ackedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()
	assert.Empty(t, e.cases.all())
}

func TestBot_RecreatesGroupAfterReadError(t *testing.T) {
	e := newEngine(1)
	stream := newMemStream()
	stream.readErrs = 1
	post := e.content.add(models.SourcePost, nil, "body")
	stream.add(t, models.WSMessage{Event: models.EventFlagCreated, Payload: flagEvent(post, "spam")})

	ctx, cancel := context.WithCancel(context.Background())
	wg := runBots(ctx, NewBot(stream, "instance-a", e.intake, zap.NewNop()))
	require.Eventually(t, func() bool { return stream.ackedCount() == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()

	assert.Equal(t, 1, e.content.get(post.ID).FlagCount)
	stream.mu.Lock()
	assert.Equal(t, 2, stream.ensured)
	stream.mu.Unlock()
}
