// Package protocol turns transport events (connect, join, chat, leave,
// disconnect) into membership registry operations and outbound events.
//
// The identity of a session is fixed at Connected time by the identity
// provider. Any sender a client puts in an inbound event is replaced with it.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/Tyrowin/safechat/internal/membership"
)

// LeaveScope selects where LEAVE events go when a session disconnects.
type LeaveScope string

const (
	// LeaveScopePublic announces the departure on the default topic only.
	LeaveScopePublic LeaveScope = "public"
	// LeaveScopeVacated announces the departure on every topic the identity
	// vacated.
	LeaveScopeVacated LeaveScope = "vacated"
)

// DefaultTopic is the public room.
const DefaultTopic = "/topic/public"

const roomFullMessage = "The public chat is full. Try again later."

// Options configures a Handler.
type Options struct {
	DefaultTopic string
	LeaveScope   LeaveScope
}

type phase int

const (
	joined phase = iota + 1
	left
)

type session struct {
	identity string
	topics   map[string]phase
}

type connectRequest struct {
	SessionID string `validate:"required"`
	Identity  string `validate:"required"`
}

type topicRequest struct {
	SessionID string `validate:"required"`
	Topic     string `validate:"required,max=256"`
}

// Handler applies the join/leave protocol on top of a membership Registry.
type Handler struct {
	registry *membership.Registry
	gateway  Gateway
	log      *slog.Logger
	opts     Options
	validate *validator.Validate

	mu       sync.Mutex
	sessions map[string]*session
}

// NewHandler creates a Handler. Zero Options fields fall back to DefaultTopic
// and LeaveScopePublic.
func NewHandler(registry *membership.Registry, gateway Gateway, log *slog.Logger, opts Options) *Handler {
	if opts.DefaultTopic == "" {
		opts.DefaultTopic = DefaultTopic
	}
	if opts.LeaveScope == "" {
		opts.LeaveScope = LeaveScopePublic
	}
	return &Handler{
		registry: registry,
		gateway:  gateway,
		log:      log,
		opts:     opts,
		validate: validator.New(),
		sessions: make(map[string]*session),
	}
}

// DefaultTopic returns the topic used when a client names none.
func (h *Handler) DefaultTopic() string {
	return h.opts.DefaultTopic
}

// Connected records a live session for an authenticated identity. It does not
// join any topic.
func (h *Handler) Connected(_ context.Context, sessionID, identity string) error {
	if err := h.validate.Struct(connectRequest{SessionID: sessionID, Identity: identity}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.sessions[sessionID]; exists {
		return ErrSessionExists
	}
	h.sessions[sessionID] = &session{identity: identity, topics: make(map[string]phase)}
	h.log.Debug("Session connected", "session", sessionID, "identity", identity)
	return nil
}

// lookup returns the identity of sessionID and its phase on topic.
func (h *Handler) lookup(sessionID, topic string) (string, phase, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return "", 0, ErrUnknownSession
	}
	return s.identity, s.topics[topic], nil
}

// setPhase records the phase of sessionID on topic. It returns false if the
// session disconnected in the meantime.
func (h *Handler) setPhase(sessionID, topic string, p phase) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	s.topics[topic] = p
	return true
}

func (h *Handler) checkTopic(ctx context.Context, sessionID, topic string) error {
	if err := h.validate.Struct(topicRequest{SessionID: sessionID, Topic: topic}); err != nil {
		h.notify(ctx, sessionID, ErrorEvent(topic, StatusBadRequest, "A topic is required."))
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// admissible reports whether identity may join topic: the default topic, or a
// private pairwise topic that names identity as one of its two peers. Every
// other name is refused so clients cannot mint topics.
func (h *Handler) admissible(identity, topic string) bool {
	if topic == h.opts.DefaultTopic {
		return true
	}
	a, b, ok := h.registry.Policy().Peers(topic)
	return ok && (identity == a || identity == b)
}

// notify sends a point-to-point event. Delivery failures are logged only:
// the session is usually on its way out when they happen.
func (h *Handler) notify(ctx context.Context, sessionID string, event Event) {
	if err := h.gateway.SendToSession(ctx, sessionID, event); err != nil {
		h.log.Warn("Failed to notify session", "session", sessionID, "status", event.Status, "error", err)
	}
}

// stampSender replaces whatever sender the client claimed with the
// authenticated identity.
func (h *Handler) stampSender(sessionID, identity string, in Event) Event {
	if in.Sender != "" && in.Sender != identity {
		h.log.Warn("Client-supplied sender replaced", "session", sessionID, "claimed", in.Sender, "identity", identity)
	}
	in.Sender = identity
	return in
}

// Join handles a join request. Rejections are reported to the requesting
// session and returned as an Outcome with a nil error.
func (h *Handler) Join(ctx context.Context, sessionID, topic string, in Event) (membership.Outcome, error) {
	identity, p, err := h.lookup(sessionID, topic)
	if err != nil {
		return membership.Invalid, err
	}
	if err := h.checkTopic(ctx, sessionID, topic); err != nil {
		return membership.Invalid, err
	}
	in = h.stampSender(sessionID, identity, in)

	if !h.admissible(identity, topic) {
		h.log.Warn("Join rejected, topic not open to identity", "identity", identity, "topic", topic, "session", sessionID)
		h.notify(ctx, sessionID, ErrorEvent(topic, StatusUnknownTopic, "No such topic."))
		return membership.Invalid, ErrUnknownTopic
	}
	if p == left {
		h.notify(ctx, sessionID, ErrorEvent(topic, StatusTopicLeft, "Reconnect to join this topic again."))
		return membership.Invalid, ErrTopicLeft
	}

	outcome := h.registry.Join(topic, identity, sessionID)
	switch outcome {
	case membership.RoomFull:
		h.log.Info("Join rejected, topic is full", "identity", identity, "topic", topic, "session", sessionID)
		h.notify(ctx, sessionID, ErrorEvent(topic, StatusRoomFull, roomFullMessage))
		return outcome, nil
	case membership.SessionConflict:
		h.log.Warn("Join rejected, session bound to another identity", "identity", identity, "session", sessionID)
		h.notify(ctx, sessionID, ErrorEvent(topic, StatusSessionConflict, "Session is bound to another user."))
		return outcome, nil
	case membership.Invalid:
		return outcome, ErrInvalidInput
	}

	if !h.setPhase(sessionID, topic, joined) {
		// Disconnected raced this join; undo what the registry just recorded.
		h.registry.Leave(sessionID)
		return membership.Invalid, ErrUnknownSession
	}

	if err := h.gateway.Subscribe(ctx, sessionID, topic); err != nil {
		return outcome, fmt.Errorf("subscribe %s to %s: %w", sessionID, topic, err)
	}

	if outcome == membership.Rejoined {
		h.log.Info("Duplicate join ignored", "identity", identity, "topic", topic, "session", sessionID)
		return outcome, nil
	}

	h.log.Info("User joined", "identity", identity, "topic", topic,
		"session", sessionID, "members", h.registry.MemberCount(topic))
	event := Event{Content: in.Content, Sender: in.Sender, Type: TypeJoin, Topic: topic}
	if err := h.gateway.BroadcastToTopic(ctx, topic, event); err != nil {
		return outcome, fmt.Errorf("broadcast join to %s: %w", topic, err)
	}
	return outcome, nil
}

// Chat broadcasts a chat message to topic on behalf of sessionID. Content is
// passed through untouched.
func (h *Handler) Chat(ctx context.Context, sessionID, topic string, in Event) error {
	identity, p, err := h.lookup(sessionID, topic)
	if err != nil {
		return err
	}
	if err := h.checkTopic(ctx, sessionID, topic); err != nil {
		return err
	}
	in = h.stampSender(sessionID, identity, in)

	if p != joined {
		h.notify(ctx, sessionID, ErrorEvent(topic, StatusNotJoined, "Join the topic before sending messages."))
		return ErrNotJoined
	}

	event := Event{Content: in.Content, Sender: in.Sender, Type: TypeChat, Topic: topic}
	if err := h.gateway.BroadcastToTopic(ctx, topic, event); err != nil {
		return fmt.Errorf("broadcast chat to %s: %w", topic, err)
	}
	return nil
}

// Part leaves a single topic. The session stays connected but can no longer
// join that topic.
func (h *Handler) Part(ctx context.Context, sessionID, topic string) error {
	_, p, err := h.lookup(sessionID, topic)
	if err != nil {
		return err
	}
	if err := h.checkTopic(ctx, sessionID, topic); err != nil {
		return err
	}
	if p != joined {
		h.notify(ctx, sessionID, ErrorEvent(topic, StatusNotJoined, "Not a member of this topic."))
		return ErrNotJoined
	}

	h.setPhase(sessionID, topic, left)
	identity, vacated, ok := h.registry.LeaveTopic(topic, sessionID)
	if err := h.gateway.Unsubscribe(ctx, sessionID, topic); err != nil {
		h.log.Warn("Failed to unsubscribe session", "session", sessionID, "topic", topic, "error", err)
	}
	if !ok || !vacated {
		return nil
	}

	h.log.Info("User left topic", "identity", identity, "topic", topic, "session", sessionID)
	if err := h.gateway.BroadcastToTopic(ctx, topic, Event{Sender: identity, Type: TypeLeave, Topic: topic}); err != nil {
		return fmt.Errorf("broadcast leave to %s: %w", topic, err)
	}
	return nil
}

// Disconnected tears down sessionID. Unknown sessions are ignored. Every
// LEAVE announcement is attempted; failures are joined.
func (h *Handler) Disconnected(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	s := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	departure, ok := h.registry.Leave(sessionID)
	if !ok {
		return nil
	}
	h.log.Info("User disconnected", "identity", departure.Identity, "session", sessionID, "vacated", departure.Vacated)

	partedDefault := s != nil && s.topics[h.opts.DefaultTopic] == left
	var errs []error
	for _, topic := range h.leaveTargets(departure, partedDefault) {
		event := Event{Sender: departure.Identity, Type: TypeLeave, Topic: topic}
		if err := h.gateway.BroadcastToTopic(ctx, topic, event); err != nil {
			errs = append(errs, fmt.Errorf("broadcast leave to %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

// leaveTargets lists the topics a disconnect is announced on. partedDefault
// is true when the session already announced its leave of the default topic.
func (h *Handler) leaveTargets(departure membership.Departure, partedDefault bool) []string {
	if h.opts.LeaveScope == LeaveScopeVacated {
		return departure.Vacated
	}
	if partedDefault {
		return nil
	}
	// Another live session may still hold the identity in the public topic.
	if h.registry.IsMember(h.opts.DefaultTopic, departure.Identity) {
		return nil
	}
	return []string{h.opts.DefaultTopic}
}
