package protocol_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/safechat/internal/membership"
	"github.com/Tyrowin/safechat/internal/protocol"
	"github.com/Tyrowin/safechat/internal/protocol/mocks"
)

const (
	public  = protocol.DefaultTopic
	private = "/topic/private.alice.bob"
)

func newHandler(t *testing.T, scope protocol.LeaveScope) (*protocol.Handler, *membership.Registry, *mocks.MockGateway) {
	t.Helper()
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockGateway(ctrl)
	registry := membership.NewRegistry(membership.DefaultPolicy())
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	h := protocol.NewHandler(registry, gateway, log, protocol.Options{LeaveScope: scope})
	return h, registry, gateway
}

func joinEvent(identity, topic string) protocol.Event {
	return protocol.Event{Sender: identity, Type: protocol.TypeJoin, Topic: topic}
}

func leaveEvent(identity, topic string) protocol.Event {
	return protocol.Event{Sender: identity, Type: protocol.TypeLeave, Topic: topic}
}

// expectAdmission sets up the calls an admitted join produces.
func expectAdmission(gateway *mocks.MockGateway, sessionID, identity, topic string) {
	gateway.EXPECT().Subscribe(gomock.Any(), sessionID, topic).Return(nil)
	gateway.EXPECT().BroadcastToTopic(gomock.Any(), topic, joinEvent(identity, topic)).Return(nil)
}

func connect(t *testing.T, h *protocol.Handler, sessionID, identity string) {
	t.Helper()
	require.NoError(t, h.Connected(context.Background(), sessionID, identity))
}

func TestHandler_Scenario_RoomFullThenSlotFreed(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h, registry, gateway := newHandler(t, protocol.LeaveScopePublic)

	connect(t, h, "s-alice", "alice")
	connect(t, h, "s-bob", "bob")
	connect(t, h, "s-carol", "carol")

	expectAdmission(gateway, "s-alice", "alice", public)
	outcome, err := h.Join(ctx, "s-alice", public, protocol.Event{})
	req.NoError(err)
	req.Equal(membership.Admitted, outcome)
	req.Equal(1, registry.MemberCount(public))

	expectAdmission(gateway, "s-bob", "bob", public)
	outcome, err = h.Join(ctx, "s-bob", public, protocol.Event{})
	req.NoError(err)
	req.Equal(membership.Admitted, outcome)
	req.Equal(2, registry.MemberCount(public))

	gateway.EXPECT().SendToSession(gomock.Any(), "s-carol", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, event protocol.Event) error {
			req.Equal(protocol.TypeError, event.Type)
			req.Equal(protocol.StatusRoomFull, event.Status)
			req.Equal(protocol.SystemSender, event.Sender)
			return nil
		})
	outcome, err = h.Join(ctx, "s-carol", public, protocol.Event{})
	req.NoError(err, "a full room is a normal outcome")
	req.Equal(membership.RoomFull, outcome)
	req.Equal(2, registry.MemberCount(public))

	gateway.EXPECT().BroadcastToTopic(gomock.Any(), public, leaveEvent("alice", public)).Return(nil)
	req.NoError(h.Disconnected(ctx, "s-alice"))
	req.Equal(1, registry.MemberCount(public))
	req.False(registry.IsMember(public, "alice"))

	expectAdmission(gateway, "s-carol", "carol", public)
	outcome, err = h.Join(ctx, "s-carol", public, protocol.Event{})
	req.NoError(err)
	req.Equal(membership.Admitted, outcome)
	req.Equal(2, registry.MemberCount(public))
}

func TestHandler_Chat_SpoofedSenderIsReplaced(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h, _, gateway := newHandler(t, protocol.LeaveScopePublic)

	connect(t, h, "s-eve", "eve")
	expectAdmission(gateway, "s-eve", "eve", public)
	_, err := h.Join(ctx, "s-eve", public, protocol.Event{Sender: "alice"})
	req.NoError(err)

	gateway.EXPECT().BroadcastToTopic(gomock.Any(), public, protocol.Event{
		Content: "hi, it's alice",
		Sender:  "eve",
		Type:    protocol.TypeChat,
		Topic:   public,
	}).Return(nil)
	req.NoError(h.Chat(ctx, "s-eve", public, protocol.Event{Content: "hi, it's alice", Sender: "alice"}))
}

func TestHandler_Join_DuplicateIsNotRebroadcast(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h, registry, gateway := newHandler(t, protocol.LeaveScopePublic)

	connect(t, h, "s1", "alice")
	expectAdmission(gateway, "s1", "alice", public)
	_, err := h.Join(ctx, "s1", public, protocol.Event{})
	req.NoError(err)

	// Resubmission on the same session: subscribed again, no broadcast.
	gateway.EXPECT().Subscribe(gomock.Any(), "s1", public).Return(nil)
	outcome, err := h.Join(ctx, "s1", public, protocol.Event{})
	req.NoError(err)
	req.Equal(membership.Rejoined, outcome)

	// Page refresh: a second session of the same identity.
	connect(t, h, "s2", "alice")
	gateway.EXPECT().Subscribe(gomock.Any(), "s2", public).Return(nil)
	outcome, err = h.Join(ctx, "s2", public, protocol.Event{})
	req.NoError(err)
	req.Equal(membership.Rejoined, outcome)
	req.Equal(1, registry.MemberCount(public))
}

func TestHandler_Disconnected_StaleSessionKeepsMember(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h, registry, gateway := newHandler(t, protocol.LeaveScopePublic)

	connect(t, h, "old", "alice")
	expectAdmission(gateway, "old", "alice", public)
	_, err := h.Join(ctx, "old", public, protocol.Event{})
	req.NoError(err)

	connect(t, h, "new", "alice")
	gateway.EXPECT().Subscribe(gomock.Any(), "new", public).Return(nil)
	_, err = h.Join(ctx, "new", public, protocol.Event{})
	req.NoError(err)

	// The old connection's teardown arrives late: alice is still present
	// through the new session, so nobody is told she left.
	req.NoError(h.Disconnected(ctx, "old"))
	req.True(registry.IsMember(public, "alice"))

	gateway.EXPECT().BroadcastToTopic(gomock.Any(), public, leaveEvent("alice", public)).Return(nil)
	req.NoError(h.Disconnected(ctx, "new"))
	req.False(registry.IsMember(public, "alice"))
}

func TestHandler_Disconnected_UnknownSessionIsNoop(t *testing.T) {
	h, _, _ := newHandler(t, protocol.LeaveScopePublic)
	// No gateway expectations: any call fails the test.
	require.NoError(t, h.Disconnected(context.Background(), "ghost"))
}

func TestHandler_Disconnected_Twice(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h, _, gateway := newHandler(t, protocol.LeaveScopePublic)

	connect(t, h, "s1", "alice")
	expectAdmission(gateway, "s1", "alice", public)
	_, err := h.Join(ctx, "s1", public, protocol.Event{})
	req.NoError(err)

	gateway.EXPECT().BroadcastToTopic(gomock.Any(), public, leaveEvent("alice", public)).Return(nil).Times(1)
	req.NoError(h.Disconnected(ctx, "s1"))
	req.NoError(h.Disconnected(ctx, "s1"))
}

func TestHandler_Disconnected_ConnectedButNeverJoined(t *testing.T) {
	h, _, _ := newHandler(t, protocol.LeaveScopePublic)
	connect(t, h, "s1", "alice")
	require.NoError(t, h.Disconnected(context.Background(), "s1"))
}

func TestHandler_LeaveScope(t *testing.T) {
	setup := func(t *testing.T, scope protocol.LeaveScope) (*protocol.Handler, *mocks.MockGateway) {
		h, _, gateway := newHandler(t, scope)
		ctx := context.Background()
		connect(t, h, "s-alice", "alice")
		connect(t, h, "s-bob", "bob")

		expectAdmission(gateway, "s-alice", "alice", public)
		expectAdmission(gateway, "s-alice", "alice", private)
		expectAdmission(gateway, "s-bob", "bob", private)
		for _, j := range []struct{ session, topic string }{
			{"s-alice", public}, {"s-alice", private}, {"s-bob", private},
		} {
			_, err := h.Join(ctx, j.session, j.topic, protocol.Event{})
			require.NoError(t, err)
		}
		return h, gateway
	}

	t.Run("public scope announces on the default topic only", func(t *testing.T) {
		h, gateway := setup(t, protocol.LeaveScopePublic)
		gateway.EXPECT().BroadcastToTopic(gomock.Any(), public, leaveEvent("alice", public)).Return(nil).Times(1)
		require.NoError(t, h.Disconnected(context.Background(), "s-alice"))
	})

	t.Run("public scope announces even if the default topic was never joined", func(t *testing.T) {
		h, gateway := setup(t, protocol.LeaveScopePublic)
		gateway.EXPECT().BroadcastToTopic(gomock.Any(), public, leaveEvent("bob", public)).Return(nil).Times(1)
		require.NoError(t, h.Disconnected(context.Background(), "s-bob"))
	})

	t.Run("vacated scope announces on every vacated topic", func(t *testing.T) {
		h, gateway := setup(t, protocol.LeaveScopeVacated)
		gateway.EXPECT().BroadcastToTopic(gomock.Any(), private, leaveEvent("alice", private)).Return(nil).Times(1)
		gateway.EXPECT().BroadcastToTopic(gomock.Any(), public, leaveEvent("alice", public)).Return(nil).Times(1)
		require.NoError(t, h.Disconnected(context.Background(), "s-alice"))
	})

	t.Run("vacated scope skips topics never joined", func(t *testing.T) {
		h, gateway := setup(t, protocol.LeaveScopeVacated)
		gateway.EXPECT().BroadcastToTopic(gomock.Any(), private, leaveEvent("bob", private)).Return(nil).Times(1)
		require.NoError(t, h.Disconnected(context.Background(), "s-bob"))
	})
}

func TestHandler_Chat_RequiresJoin(t *testing.T) {
	req := require.New(t)
	h, _, gateway := newHandler(t, protocol.LeaveScopePublic)
	connect(t, h, "s1", "alice")

	gateway.EXPECT().SendToSession(gomock.Any(), "s1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, event protocol.Event) error {
			req.Equal(protocol.StatusNotJoined, event.Status)
			return nil
		})
	err := h.Chat(context.Background(), "s1", public, protocol.Event{Content: "hello"})
	req.ErrorIs(err, protocol.ErrNotJoined)
}

func TestHandler_Part_IsTerminalForTheSession(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h, registry, gateway := newHandler(t, protocol.LeaveScopePublic)
	connect(t, h, "s1", "alice")

	expectAdmission(gateway, "s1", "alice", public)
	_, err := h.Join(ctx, "s1", public, protocol.Event{})
	req.NoError(err)

	gateway.EXPECT().Unsubscribe(gomock.Any(), "s1", public).Return(nil)
	gateway.EXPECT().BroadcastToTopic(gomock.Any(), public, leaveEvent("alice", public)).Return(nil)
	req.NoError(h.Part(ctx, "s1", public))
	req.False(registry.IsMember(public, "alice"))

	gateway.EXPECT().SendToSession(gomock.Any(), "s1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, event protocol.Event) error {
			req.Equal(protocol.StatusTopicLeft, event.Status)
			return nil
		})
	_, err = h.Join(ctx, "s1", public, protocol.Event{})
	req.ErrorIs(err, protocol.ErrTopicLeft)
	req.False(registry.IsMember(public, "alice"))

	// Nothing left to announce on disconnect.
	req.NoError(h.Disconnected(ctx, "s1"))
}

func TestHandler_MalformedInput(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h, registry, gateway := newHandler(t, protocol.LeaveScopePublic)

	req.ErrorIs(h.Connected(ctx, "", "alice"), protocol.ErrInvalidInput)
	req.ErrorIs(h.Connected(ctx, "s1", ""), protocol.ErrInvalidInput)

	_, err := h.Join(ctx, "never-connected", public, protocol.Event{})
	req.ErrorIs(err, protocol.ErrUnknownSession)

	connect(t, h, "s1", "alice")
	req.ErrorIs(h.Connected(ctx, "s1", "alice"), protocol.ErrSessionExists)

	gateway.EXPECT().SendToSession(gomock.Any(), "s1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, event protocol.Event) error {
			req.Equal(protocol.StatusBadRequest, event.Status)
			return nil
		})
	_, err = h.Join(ctx, "s1", "", protocol.Event{})
	req.ErrorIs(err, protocol.ErrInvalidInput)
	req.Empty(registry.Snapshot())
}

func TestHandler_GatewayFailureIsReturned(t *testing.T) {
	ctx := context.Background()
	h, registry, gateway := newHandler(t, protocol.LeaveScopePublic)
	connect(t, h, "s1", "alice")

	boom := errors.New("boom")
	gateway.EXPECT().Subscribe(gomock.Any(), "s1", public).Return(nil)
	gateway.EXPECT().BroadcastToTopic(gomock.Any(), public, gomock.Any()).Return(boom)

	_, err := h.Join(ctx, "s1", public, protocol.Event{})
	require.ErrorIs(t, err, boom)
	// Admission stands; only the announcement failed.
	require.True(t, registry.IsMember(public, "alice"))
}

func TestHandler_ConcurrentJoins_AdmitExactlyCapacity(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h, registry, gateway := newHandler(t, protocol.LeaveScopePublic)

	const racers = 20
	gateway.EXPECT().Subscribe(gomock.Any(), gomock.Any(), public).Return(nil).Times(membership.DefaultCapacity)
	gateway.EXPECT().BroadcastToTopic(gomock.Any(), public, gomock.Any()).Return(nil).Times(membership.DefaultCapacity)
	gateway.EXPECT().SendToSession(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(racers - membership.DefaultCapacity)

	for i := 0; i < racers; i++ {
		connect(t, h, fmt.Sprintf("s-%d", i), fmt.Sprintf("user-%d", i))
	}

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := h.Join(ctx, fmt.Sprintf("s-%d", i), public, protocol.Event{})
			if err == nil && outcome == membership.Admitted {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	req.EqualValues(membership.DefaultCapacity, admitted.Load())
	req.Equal(membership.DefaultCapacity, registry.MemberCount(public))
}

func TestHandler_Join_RefusesTopicsNotOpenToIdentity(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h, registry, gateway := newHandler(t, protocol.LeaveScopePublic)
	connect(t, h, "s-mallory", "mallory")

	topics := []string{private, "/topic/private.mallory", "/topic/private.mallory.mallory"}
	for i := 0; i < 100; i++ {
		topics = append(topics, fmt.Sprintf("/topic/junk-%d", i))
	}

	gateway.EXPECT().SendToSession(gomock.Any(), "s-mallory", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, event protocol.Event) error {
			req.Equal(protocol.StatusUnknownTopic, event.Status)
			return nil
		}).Times(len(topics))

	for _, topic := range topics {
		outcome, err := h.Join(ctx, "s-mallory", topic, protocol.Event{})
		req.ErrorIs(err, protocol.ErrUnknownTopic, topic)
		req.Equal(membership.Invalid, outcome)
	}

	req.Empty(registry.Snapshot(), "refused joins must not create topics")
	req.NoError(h.Disconnected(ctx, "s-mallory"))
	req.Empty(registry.Snapshot())
}

func TestHandler_Join_PrivateTopicOpenToBothPeers(t *testing.T) {
	ctx := context.Background()
	h, registry, gateway := newHandler(t, protocol.LeaveScopePublic)

	for _, name := range []string{"alice", "bob"} {
		connect(t, h, "s-"+name, name)
		expectAdmission(gateway, "s-"+name, name, private)
		outcome, err := h.Join(ctx, "s-"+name, private, protocol.Event{})
		require.NoError(t, err)
		require.Equal(t, membership.Admitted, outcome)
	}
	require.Equal(t, []string{"alice", "bob"}, registry.Members(private))
	require.Len(t, registry.Snapshot(), 1)
}

func TestHandler_Disconnected_AfterPartingDefaultTopic(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h, registry, gateway := newHandler(t, protocol.LeaveScopePublic)
	connect(t, h, "s-alice", "alice")

	expectAdmission(gateway, "s-alice", "alice", public)
	expectAdmission(gateway, "s-alice", "alice", private)
	for _, topic := range []string{public, private} {
		_, err := h.Join(ctx, "s-alice", topic, protocol.Event{})
		req.NoError(err)
	}

	gateway.EXPECT().Unsubscribe(gomock.Any(), "s-alice", public).Return(nil)
	gateway.EXPECT().BroadcastToTopic(gomock.Any(), public, leaveEvent("alice", public)).Return(nil).Times(1)
	req.NoError(h.Part(ctx, "s-alice", public))

	// The default topic already saw the LEAVE; disconnecting announces nothing more.
	req.NoError(h.Disconnected(ctx, "s-alice"))
	req.False(registry.IsMember(private, "alice"))
}

func TestHandler_Disconnected_AnnouncesEveryVacatedTopicDespiteFailures(t *testing.T) {
	ctx := context.Background()
	h, _, gateway := newHandler(t, protocol.LeaveScopeVacated)
	connect(t, h, "s-alice", "alice")

	expectAdmission(gateway, "s-alice", "alice", public)
	expectAdmission(gateway, "s-alice", "alice", private)
	for _, topic := range []string{public, private} {
		_, err := h.Join(ctx, "s-alice", topic, protocol.Event{})
		require.NoError(t, err)
	}

	boom := errors.New("boom")
	gateway.EXPECT().BroadcastToTopic(gomock.Any(), public, leaveEvent("alice", public)).Return(boom).Times(1)
	gateway.EXPECT().BroadcastToTopic(gomock.Any(), private, leaveEvent("alice", private)).Return(nil).Times(1)

	require.ErrorIs(t, h.Disconnected(ctx, "s-alice"), boom)
}
