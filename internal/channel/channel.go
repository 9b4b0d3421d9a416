// Package channel implements broadcast/presence channels: topic-scoped
// groups where each member may track one small state blob, every subscriber
// receives join/leave deltas, and a full-state sync can arrive at any time.
// Membership and tracked state are coupled: a member that unsubscribes (or
// whose connection drops) takes its state with it.
package channel

import "context"

type EventType string

const (
	EventSync  EventType = "sync"
	EventJoin  EventType = "join"
	EventLeave EventType = "leave"
)

// Event is a single state change on a channel. Join and leave carry the
// affected member's key and its tracked state; sync carries the whole
// member table and nothing else.
type Event struct {
	Type  EventType
	Topic string
	Key   string
	Meta  []byte
	State map[string][]byte
}

type Handler func(Event)

// Channel is one member's handle on a topic. Handlers should be registered
// with On before Subscribe; events arrive on the transport's goroutine and
// handlers must not block.
type Channel interface {
	On(t EventType, h Handler) Channel
	Subscribe(ctx context.Context) error
	Track(ctx context.Context, meta []byte) error
	Untrack(ctx context.Context) error
	Resync(ctx context.Context) error
	Unsubscribe() error
	Topic() string
	Key() string
}

// Transport hands out channel handles. key identifies this member within
// the topic; two handles with the same key overwrite each other's state.
type Transport interface {
	Channel(topic, key string) Channel
}
