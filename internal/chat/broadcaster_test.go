package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"scene_chat/internal/domain"
	"scene_chat/pkg/logger"
	"scene_chat/pkg/protocol"
)

type fakeMessageRepo struct {
	mu        sync.Mutex
	created   []*domain.Message
	latestSeq int64
	createErr error
}

func (f *fakeMessageRepo) CreateMessage(_ context.Context, msg *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, msg)
	return nil
}

func (f *fakeMessageRepo) ListVisibleBefore(_ context.Context, _, _ uuid.UUID, _ bool, _ int64, _ int) ([]*domain.Message, error) {
	return nil, nil
}

func (f *fakeMessageRepo) LatestSequence(_ context.Context, _ uuid.UUID) (int64, error) {
	return f.latestSeq, nil
}

type fakeAuditRepo struct {
	mu   sync.Mutex
	logs []*domain.AuditLog
}

func (f *fakeAuditRepo) CreateLog(_ context.Context, entry *domain.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

type fakeSubscriber struct {
	id     string
	userID uuid.UUID
	full   bool

	mu       sync.Mutex
	received []*protocol.Envelope
}

func newFakeSubscriber(userID uuid.UUID) *fakeSubscriber {
	return &fakeSubscriber{id: uuid.NewString(), userID: userID}
}

func (s *fakeSubscriber) ID() string        { return s.id }
func (s *fakeSubscriber) UserID() uuid.UUID { return s.userID }

func (s *fakeSubscriber) Enqueue(env *protocol.Envelope) bool {
	if s.full {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, env)
	return true
}

func (s *fakeSubscriber) envelopes() []*protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*protocol.Envelope(nil), s.received...)
}

func newTestBroadcaster(messages *fakeMessageRepo, audit *fakeAuditRepo) *Broadcaster {
	return NewBroadcaster(messages, audit, logger.New("error"))
}

func publicMsg(sceneID, sender uuid.UUID, content string) *domain.Message {
	return &domain.Message{
		SceneID:      sceneID,
		SenderUserID: sender,
		Type:         domain.MessageTypeOOC,
		Content:      content,
	}
}

func TestBroadcastAssignsMonotonicSequence(t *testing.T) {
	ctx := context.Background()
	b := newTestBroadcaster(&fakeMessageRepo{}, &fakeAuditRepo{})
	sceneID := uuid.New()
	sender := uuid.New()

	sub := newFakeSubscriber(uuid.New())
	require.NoError(t, b.Subscribe(ctx, sceneID, sub, domain.RolePlayer))

	for i := 0; i < 5; i++ {
		msg := b.Broadcast(ctx, publicMsg(sceneID, sender, "m"))
		assert.Equal(t, int64(i+1), msg.Sequence)
		assert.NotEqual(t, uuid.Nil, msg.ID)
		assert.False(t, msg.CreatedAt.IsZero())
	}

	envs := sub.envelopes()
	require.Len(t, envs, 5)
	for i, env := range envs {
		assert.Equal(t, int64(i+1), env.Message.Sequence, "delivery order must match sequence")
	}
}

func TestBroadcastSequenceSeededFromStore(t *testing.T) {
	ctx := context.Background()
	repo := &fakeMessageRepo{latestSeq: 41}
	b := newTestBroadcaster(repo, &fakeAuditRepo{})
	sceneID := uuid.New()

	sub := newFakeSubscriber(uuid.New())
	require.NoError(t, b.Subscribe(ctx, sceneID, sub, domain.RolePlayer))

	msg := b.Broadcast(ctx, publicMsg(sceneID, uuid.New(), "after restart"))
	assert.Equal(t, int64(42), msg.Sequence)
}

func TestBroadcastPrivateReachesExactSet(t *testing.T) {
	ctx := context.Background()
	b := newTestBroadcaster(&fakeMessageRepo{}, &fakeAuditRepo{})
	sceneID := uuid.New()

	sender := newFakeSubscriber(uuid.New())
	recipient := newFakeSubscriber(uuid.New())
	gm := newFakeSubscriber(uuid.New())
	outsider := newFakeSubscriber(uuid.New())

	require.NoError(t, b.Subscribe(ctx, sceneID, sender, domain.RolePlayer))
	require.NoError(t, b.Subscribe(ctx, sceneID, recipient, domain.RolePlayer))
	require.NoError(t, b.Subscribe(ctx, sceneID, gm, domain.RoleGM))
	require.NoError(t, b.Subscribe(ctx, sceneID, outsider, domain.RolePlayer))

	b.Broadcast(ctx, &domain.Message{
		SceneID:          sceneID,
		SenderUserID:     sender.userID,
		Type:             domain.MessageTypePrivate,
		Content:          "secret",
		RecipientUserIDs: []uuid.UUID{recipient.userID},
	})

	assert.Len(t, sender.envelopes(), 1)
	assert.Len(t, recipient.envelopes(), 1)
	assert.Len(t, gm.envelopes(), 1)
	assert.Empty(t, outsider.envelopes(), "uninvolved participant must not receive private message")
}

func TestBroadcastSystemStaffOnly(t *testing.T) {
	ctx := context.Background()
	b := newTestBroadcaster(&fakeMessageRepo{}, &fakeAuditRepo{})
	sceneID := uuid.New()

	gm := newFakeSubscriber(uuid.New())
	player := newFakeSubscriber(uuid.New())
	require.NoError(t, b.Subscribe(ctx, sceneID, gm, domain.RoleGM))
	require.NoError(t, b.Subscribe(ctx, sceneID, player, domain.RolePlayer))

	b.Broadcast(ctx, &domain.Message{
		SceneID:      sceneID,
		SenderUserID: gm.userID,
		Type:         domain.MessageTypeSystem,
		Content:      "initiative order changed",
	})

	assert.Len(t, gm.envelopes(), 1)
	assert.Empty(t, player.envelopes())
}

func TestBroadcastSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	b := newTestBroadcaster(&fakeMessageRepo{}, &fakeAuditRepo{})
	sceneID := uuid.New()

	slow := newFakeSubscriber(uuid.New())
	slow.full = true
	healthy := newFakeSubscriber(uuid.New())

	require.NoError(t, b.Subscribe(ctx, sceneID, slow, domain.RolePlayer))
	require.NoError(t, b.Subscribe(ctx, sceneID, healthy, domain.RolePlayer))

	b.Broadcast(ctx, publicMsg(sceneID, uuid.New(), "hello"))

	assert.Len(t, healthy.envelopes(), 1)
	assert.Empty(t, slow.envelopes())
}

func TestBroadcastPersistFailureStillDelivers(t *testing.T) {
	ctx := context.Background()
	repo := &fakeMessageRepo{createErr: errors.New("connection refused")}
	audit := &fakeAuditRepo{}
	b := newTestBroadcaster(repo, audit)
	sceneID := uuid.New()

	sub := newFakeSubscriber(uuid.New())
	require.NoError(t, b.Subscribe(ctx, sceneID, sub, domain.RolePlayer))

	msg := b.Broadcast(ctx, publicMsg(sceneID, uuid.New(), "still delivered"))

	require.Len(t, sub.envelopes(), 1)
	assert.Equal(t, msg.Sequence, sub.envelopes()[0].Message.Sequence)

	audit.mu.Lock()
	defer audit.mu.Unlock()
	require.Len(t, audit.logs, 1)
	assert.Equal(t, domain.EventTypePersistFailed, audit.logs[0].EventType)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	b := newTestBroadcaster(&fakeMessageRepo{}, &fakeAuditRepo{})
	sceneA := uuid.New()
	sceneB := uuid.New()

	sub := newFakeSubscriber(uuid.New())
	require.NoError(t, b.Subscribe(ctx, sceneA, sub, domain.RolePlayer))
	require.NoError(t, b.Subscribe(ctx, sceneB, sub, domain.RolePlayer))

	b.Unsubscribe(sceneA, sub.ID())
	b.Broadcast(ctx, publicMsg(sceneA, uuid.New(), "a"))
	b.Broadcast(ctx, publicMsg(sceneB, uuid.New(), "b"))
	assert.Len(t, sub.envelopes(), 1, "only scene B delivery expected")

	b.UnsubscribeAll(sub.ID())
	b.Broadcast(ctx, publicMsg(sceneB, uuid.New(), "b2"))
	assert.Len(t, sub.envelopes(), 1)
}
