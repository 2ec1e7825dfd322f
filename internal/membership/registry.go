// Package membership tracks which authenticated identities occupy each chat
// topic, which live session backs each occupancy, and enforces the capacity
// of bounded topic classes.
//
// The Registry performs no I/O. Every admission decision is made under the
// lock of the topic concerned, so two concurrent joins competing for the last
// slot of a bounded topic can never both be admitted.
package membership

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Outcome is the result of a join attempt.
type Outcome int

const (
	// Invalid means a required argument was empty. Nothing was mutated.
	Invalid Outcome = iota
	// Admitted means the identity was added to the topic.
	Admitted
	// Rejoined means the identity was already a member; the session now
	// also backs that membership.
	Rejoined
	// RoomFull means the topic is at capacity. Nothing was mutated.
	RoomFull
	// SessionConflict means the session is bound to another identity.
	// Nothing was mutated.
	SessionConflict
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "ADMITTED"
	case Rejoined:
		return "REJOINED"
	case RoomFull:
		return "ROOM_FULL"
	case SessionConflict:
		return "SESSION_CONFLICT"
	default:
		return "INVALID"
	}
}

// Accepted reports whether the identity is a member after the attempt.
func (o Outcome) Accepted() bool {
	return o == Admitted || o == Rejoined
}

// Departure describes a torn-down session.
type Departure struct {
	Identity string
	// Vacated lists, sorted, the topics the identity no longer occupies.
	// Topics still held through another session are not listed.
	Vacated []string
}

// TopicStats is a point-in-time view of one topic.
type TopicStats struct {
	Topic    string   `json:"topic"`
	Class    string   `json:"class"`
	Members  []string `json:"members"`
	Count    int      `json:"count"`
	Capacity int      `json:"capacity"`
}

type topicState struct {
	mu    sync.RWMutex
	class Class
	// identity -> ids of the sessions holding that membership
	members map[string]map[string]struct{}
}

type binding struct {
	identity string
	topics   map[string]struct{}
}

// Registry owns topic membership sets and session bindings.
//
// Lock order is topic then sessions. Leave never holds both.
type Registry struct {
	policy Policy

	mu     sync.RWMutex
	topics map[string]*topicState

	sessionsMu sync.Mutex
	sessions   map[string]*binding
}

// NewRegistry creates an empty registry governed by policy.
func NewRegistry(policy Policy) *Registry {
	return &Registry{
		policy:   policy,
		topics:   make(map[string]*topicState),
		sessions: make(map[string]*binding),
	}
}

// Policy returns the capacity policy the registry was built with.
func (r *Registry) Policy() Policy {
	return r.policy
}

func (r *Registry) lookup(name string) (*topicState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topics[name]
	return t, ok
}

// topic returns the state of name, creating an empty topic on first use.
func (r *Registry) topic(name string) *topicState {
	if t, ok := r.lookup(name); ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.topics[name]; ok {
		return t
	}
	t := &topicState{
		class:   r.policy.ClassOf(name),
		members: make(map[string]map[string]struct{}),
	}
	r.topics[name] = t
	return t
}

func (r *Registry) boundElsewhere(identity, sessionID string) bool {
	r.sessionsMu.Lock()
	defer r.sessionsMu.Unlock()
	b, ok := r.sessions[sessionID]
	return ok && b.identity != identity
}

// TryJoin admits identity to topic on behalf of sessionID and reports whether
// the identity is a member afterwards.
func (r *Registry) TryJoin(topic, identity, sessionID string) bool {
	return r.Join(topic, identity, sessionID).Accepted()
}

// Join is TryJoin with the reason for the decision.
func (r *Registry) Join(topic, identity, sessionID string) Outcome {
	if topic == "" || identity == "" || sessionID == "" {
		return Invalid
	}
	if r.boundElsewhere(identity, sessionID) {
		return SessionConflict
	}

	t := r.topic(topic)
	t.mu.Lock()
	defer t.mu.Unlock()

	r.sessionsMu.Lock()
	defer r.sessionsMu.Unlock()

	b, bound := r.sessions[sessionID]
	if bound && b.identity != identity {
		return SessionConflict
	}

	holders, present := t.members[identity]
	if !present && t.class.Bounded() && len(t.members) >= t.class.Capacity {
		return RoomFull
	}

	if !bound {
		b = &binding{identity: identity, topics: make(map[string]struct{})}
		r.sessions[sessionID] = b
	}
	b.topics[topic] = struct{}{}

	if !present {
		holders = make(map[string]struct{})
		t.members[identity] = holders
	}
	holders[sessionID] = struct{}{}

	if present {
		return Rejoined
	}
	return Admitted
}

// Leave removes the binding of sessionID and withdraws the session from every
// topic it joined. It returns false if the session was never bound or has
// already been torn down.
func (r *Registry) Leave(sessionID string) (Departure, bool) {
	r.sessionsMu.Lock()
	b, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.sessionsMu.Unlock()
	if !ok {
		return Departure{}, false
	}

	// b is unreachable from the sessions map now, no lock needed to read it.
	departure := Departure{Identity: b.identity}
	for name := range b.topics {
		t, exists := r.lookup(name)
		if !exists {
			continue
		}
		if t.release(b.identity, sessionID) {
			departure.Vacated = append(departure.Vacated, name)
		}
	}
	sort.Strings(departure.Vacated)
	return departure, true
}

// LeaveTopic withdraws sessionID from a single topic. vacated is true when no
// other session still holds the identity there. ok is false if the session
// had not joined topic.
func (r *Registry) LeaveTopic(topic, sessionID string) (identity string, vacated bool, ok bool) {
	t, exists := r.lookup(topic)
	if !exists {
		return "", false, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r.sessionsMu.Lock()
	defer r.sessionsMu.Unlock()

	b, bound := r.sessions[sessionID]
	if !bound {
		return "", false, false
	}
	if _, joined := b.topics[topic]; !joined {
		return "", false, false
	}

	delete(b.topics, topic)
	if len(b.topics) == 0 {
		delete(r.sessions, sessionID)
	}
	return b.identity, t.releaseLocked(b.identity, sessionID), true
}

func (t *topicState) release(identity, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.releaseLocked(identity, sessionID)
}

func (t *topicState) releaseLocked(identity, sessionID string) bool {
	holders, ok := t.members[identity]
	if !ok {
		return false
	}
	delete(holders, sessionID)
	if len(holders) > 0 {
		return false
	}
	delete(t.members, identity)
	return true
}

// IsMember reports whether identity currently occupies topic.
func (r *Registry) IsMember(topic, identity string) bool {
	t, ok := r.lookup(topic)
	if !ok {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok = t.members[identity]
	return ok
}

// MemberCount returns the number of identities in topic, 0 for unknown topics.
func (r *Registry) MemberCount(topic string) int {
	t, ok := r.lookup(topic)
	if !ok {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

// Members returns the sorted identities of topic.
func (r *Registry) Members(topic string) []string {
	t, ok := r.lookup(topic)
	if !ok {
		return nil
	}
	return t.memberList()
}

func (t *topicState) memberList() []string {
	t.mu.RLock()
	members := lo.Keys(t.members)
	t.mu.RUnlock()
	sort.Strings(members)
	return members
}

// SessionIdentity returns the identity bound to sessionID.
func (r *Registry) SessionIdentity(sessionID string) (string, bool) {
	r.sessionsMu.Lock()
	defer r.sessionsMu.Unlock()
	b, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	return b.identity, true
}

// Snapshot returns every known topic, sorted by name. Topics are read one at
// a time, so the result is not a single atomic cut across topics.
func (r *Registry) Snapshot() []TopicStats {
	r.mu.RLock()
	names := lo.Keys(r.topics)
	states := make(map[string]*topicState, len(r.topics))
	for name, t := range r.topics {
		states[name] = t
	}
	r.mu.RUnlock()
	sort.Strings(names)

	stats := make([]TopicStats, 0, len(names))
	for _, name := range names {
		t := states[name]
		members := t.memberList()
		stats = append(stats, TopicStats{
			Topic:    name,
			Class:    t.class.Name,
			Members:  members,
			Count:    len(members),
			Capacity: t.class.Capacity,
		})
	}
	return stats
}
