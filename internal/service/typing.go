package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/liveline/presence-engine/internal/channel"
	"github.com/liveline/presence-engine/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

const typingTopicPrefix = "typing:"

// TypingView is one conversation's current typing state, keyed by user.
type TypingView map[uint]models.TypingState

// TypingObserver receives the full view after every change. The transport
// couples membership and state, so a member that disconnects simply drops
// out of the view; there is no timeout layered on top.
type TypingObserver func(conversationID string, view TypingView)

// TypingChannels manages the ephemeral per-conversation signal channels.
// Nothing here touches the durable store or the global presence topic:
// typing state lives only as tracked channel state and dies with the
// member's connection.
type TypingChannels struct {
	transport channel.Transport
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*typingSession
}

type typingSession struct {
	ch             channel.Channel
	conversationID string
	userID         uint
	observer       TypingObserver

	mu    sync.Mutex
	state map[string][]byte
}

func NewTypingChannels(transport channel.Transport) *TypingChannels {
	return &TypingChannels{
		transport: transport,
		now:       time.Now,
		sessions:  make(map[string]*typingSession),
	}
}

func typingTopic(conversationID string) string {
	return typingTopicPrefix + conversationID
}

func sessionKey(conversationID string, userID uint) string {
	return conversationID + "|" + strconv.FormatUint(uint64(userID), 10)
}

// Join attaches the user to a conversation's typing channel. Idempotent per
// (conversation, user); a second Join keeps the first observer.
func (t *TypingChannels) Join(ctx context.Context, conversationID string, userID uint, observer TypingObserver) error {
	key := sessionKey(conversationID, userID)

	t.mu.Lock()
	if _, ok := t.sessions[key]; ok {
		t.mu.Unlock()
		return nil
	}
	sess := &typingSession{
		ch:             t.transport.Channel(typingTopic(conversationID), strconv.FormatUint(uint64(userID), 10)),
		conversationID: conversationID,
		userID:         userID,
		observer:       observer,
		state:          make(map[string][]byte),
	}
	t.sessions[key] = sess
	t.mu.Unlock()

	sess.ch.On(channel.EventSync, sess.handleSync).
		On(channel.EventJoin, sess.handleChange).
		On(channel.EventLeave, sess.handleLeave)

	if err := sess.ch.Subscribe(ctx); err != nil {
		t.mu.Lock()
		delete(t.sessions, key)
		t.mu.Unlock()
		return err
	}
	return nil
}

// SetTyping publishes the user's typing flag into the conversation channel.
// Every member sees the union of last-published records.
func (t *TypingChannels) SetTyping(ctx context.Context, conversationID string, userID uint, typing bool) error {
	sess := t.lookup(conversationID, userID)
	if sess == nil {
		return fmt.Errorf("user %d has not joined conversation %s", userID, conversationID)
	}

	meta, err := msgpack.Marshal(models.TypingState{
		UserID:    userID,
		Typing:    typing,
		Timestamp: t.now(),
	})
	if err != nil {
		return err
	}
	return sess.ch.Track(ctx, meta)
}

// Leave detaches the user; their tracked state disappears from every other
// member's view.
func (t *TypingChannels) Leave(ctx context.Context, conversationID string, userID uint) error {
	key := sessionKey(conversationID, userID)

	t.mu.Lock()
	sess, ok := t.sessions[key]
	delete(t.sessions, key)
	t.mu.Unlock()

	if !ok {
		return nil
	}
	return sess.ch.Unsubscribe()
}

// LeaveAll detaches the user from every conversation they joined. Used on
// final session teardown.
func (t *TypingChannels) LeaveAll(ctx context.Context, userID uint) {
	t.mu.Lock()
	var doomed []*typingSession
	for key, sess := range t.sessions {
		if sess.userID == userID {
			doomed = append(doomed, sess)
			delete(t.sessions, key)
		}
	}
	t.mu.Unlock()

	for _, sess := range doomed {
		sess.ch.Unsubscribe()
	}
}

// View returns the user's current view of a conversation's typing state.
func (t *TypingChannels) View(conversationID string, userID uint) TypingView {
	sess := t.lookup(conversationID, userID)
	if sess == nil {
		return nil
	}
	return sess.view()
}

func (t *TypingChannels) lookup(conversationID string, userID uint) *typingSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[sessionKey(conversationID, userID)]
}

func (s *typingSession) handleSync(ev channel.Event) {
	s.mu.Lock()
	s.state = make(map[string][]byte, len(ev.State))
	for k, v := range ev.State {
		s.state[k] = v
	}
	s.mu.Unlock()
	s.notify()
}

func (s *typingSession) handleChange(ev channel.Event) {
	s.mu.Lock()
	s.state[ev.Key] = ev.Meta
	s.mu.Unlock()
	s.notify()
}

func (s *typingSession) handleLeave(ev channel.Event) {
	s.mu.Lock()
	delete(s.state, ev.Key)
	s.mu.Unlock()
	s.notify()
}

func (s *typingSession) view() TypingView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := make(TypingView, len(s.state))
	for _, meta := range s.state {
		var ts models.TypingState
		if err := msgpack.Unmarshal(meta, &ts); err != nil {
			continue
		}
		view[ts.UserID] = ts
	}
	return view
}

func (s *typingSession) notify() {
	if s.observer == nil {
		return
	}
	s.observer(s.conversationID, s.view())
}
