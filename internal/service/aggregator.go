package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/liveline/presence-engine/internal/channel"
	"github.com/liveline/presence-engine/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// GlobalPresenceTopic is the single broadcast topic every session announces
// itself on. Global, not per-user: one channel serves all observers.
const GlobalPresenceTopic = "presence:global"

type PresenceNotification struct {
	UserID uint `json:"user_id"`
	Online bool `json:"is_online"`
}

type PresenceObserver func(PresenceNotification)

// Aggregator folds the global presence channel's events into one shared
// snapshot of who has a live connection. It tracks transport-level
// connectedness, which is a narrower population than "has a fresh durable
// record"; callers wanting the heartbeat-based view use PresenceService.
//
// Events are applied exactly as received: no de-duplication, no debouncing.
// A flapping connection makes the visible state flicker and that is
// accepted.
type Aggregator struct {
	transport channel.Transport

	mu           sync.RWMutex
	online       map[uint]struct{}
	observers    map[int]PresenceObserver
	nextObserver int
	ch           channel.Channel
}

func NewAggregator(transport channel.Transport) *Aggregator {
	return &Aggregator{
		transport: transport,
		online:    make(map[uint]struct{}),
		observers: make(map[int]PresenceObserver),
	}
}

// Subscribe joins the global topic. The subscription is shared: every
// observer reads through this one Aggregator, so the process holds a single
// channel no matter how many readers there are. Idempotent.
func (a *Aggregator) Subscribe(ctx context.Context) error {
	a.mu.Lock()
	if a.ch != nil {
		a.mu.Unlock()
		return nil
	}
	ch := a.transport.Channel(GlobalPresenceTopic, "observer:"+uuid.NewString())
	a.ch = ch
	a.mu.Unlock()

	ch.On(channel.EventSync, a.handleSync).
		On(channel.EventJoin, a.handleJoin).
		On(channel.EventLeave, a.handleLeave)

	return ch.Subscribe(ctx)
}

// Unsubscribe leaves the topic and releases the snapshot.
func (a *Aggregator) Unsubscribe() error {
	a.mu.Lock()
	ch := a.ch
	a.ch = nil
	a.online = make(map[uint]struct{})
	a.mu.Unlock()

	if ch == nil {
		return nil
	}
	return ch.Unsubscribe()
}

// Notify registers an observer for became-online/became-offline changes.
// The returned func removes it.
func (a *Aggregator) Notify(obs PresenceObserver) func() {
	a.mu.Lock()
	id := a.nextObserver
	a.nextObserver++
	a.observers[id] = obs
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.observers, id)
		a.mu.Unlock()
	}
}

// IsOnline is an O(1) membership check against the current snapshot.
func (a *Aggregator) IsOnline(userID uint) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.online[userID]
	return ok
}

// OnlineUsers returns a copy of the current snapshot.
func (a *Aggregator) OnlineUsers() []uint {
	a.mu.RLock()
	defer a.mu.RUnlock()
	users := make([]uint, 0, len(a.online))
	for id := range a.online {
		users = append(users, id)
	}
	return users
}

// handleSync replaces the snapshot wholesale. Diffing against the previous
// snapshot would accumulate drift across reconnects; replacement cannot.
func (a *Aggregator) handleSync(ev channel.Event) {
	next := make(map[uint]struct{}, len(ev.State))
	for _, meta := range ev.State {
		if userID, ok := decodePresenceMeta(meta); ok {
			next[userID] = struct{}{}
		}
	}

	a.mu.Lock()
	a.online = next
	a.mu.Unlock()
}

func (a *Aggregator) handleJoin(ev channel.Event) {
	userID, ok := decodePresenceMeta(ev.Meta)
	if !ok {
		return
	}

	a.mu.Lock()
	a.online[userID] = struct{}{}
	observers := a.observerList()
	a.mu.Unlock()

	for _, obs := range observers {
		obs(PresenceNotification{UserID: userID, Online: true})
	}
}

func (a *Aggregator) handleLeave(ev channel.Event) {
	userID, ok := decodePresenceMeta(ev.Meta)
	if !ok {
		return
	}

	a.mu.Lock()
	delete(a.online, userID)
	observers := a.observerList()
	a.mu.Unlock()

	for _, obs := range observers {
		obs(PresenceNotification{UserID: userID, Online: false})
	}
}

// observerList must be called with a.mu held.
func (a *Aggregator) observerList() []PresenceObserver {
	observers := make([]PresenceObserver, 0, len(a.observers))
	for _, obs := range a.observers {
		observers = append(observers, obs)
	}
	return observers
}

func decodePresenceMeta(meta []byte) (uint, bool) {
	var pm models.PresenceMeta
	if err := msgpack.Unmarshal(meta, &pm); err != nil || pm.UserID == 0 {
		return 0, false
	}
	return pm.UserID, true
}
