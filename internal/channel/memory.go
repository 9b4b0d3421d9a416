package channel

import (
	"context"
	"sync"
)

// MemoryTransport is a single-process Transport. It backs the service when
// Redis is not configured and it is what the tests drive. Delivery is
// synchronous: by the time Track returns, every subscriber's handler ran.
type MemoryTransport struct {
	mu     sync.Mutex
	topics map[string]*memoryTopic
}

type memoryTopic struct {
	members map[string][]byte
	subs    []*memoryChannel
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{topics: make(map[string]*memoryTopic)}
}

func (t *MemoryTransport) Channel(topic, key string) Channel {
	return &memoryChannel{
		transport: t,
		topic:     topic,
		key:       key,
		handlers:  make(map[EventType][]Handler),
	}
}

func (t *MemoryTransport) getTopic(topic string) *memoryTopic {
	mt, ok := t.topics[topic]
	if !ok {
		mt = &memoryTopic{members: make(map[string][]byte)}
		t.topics[topic] = mt
	}
	return mt
}

type memoryChannel struct {
	transport *MemoryTransport
	topic     string
	key       string

	handlers   map[EventType][]Handler
	subscribed bool
	tracked    bool
}

func (c *memoryChannel) On(t EventType, h Handler) Channel {
	c.transport.mu.Lock()
	c.handlers[t] = append(c.handlers[t], h)
	c.transport.mu.Unlock()
	return c
}

func (c *memoryChannel) Subscribe(ctx context.Context) error {
	c.transport.mu.Lock()
	if c.subscribed {
		c.transport.mu.Unlock()
		return nil
	}
	mt := c.transport.getTopic(c.topic)
	mt.subs = append(mt.subs, c)
	c.subscribed = true
	state := copyState(mt.members)
	c.transport.mu.Unlock()

	c.dispatch(Event{Type: EventSync, Topic: c.topic, State: state})
	return nil
}

func (c *memoryChannel) Track(ctx context.Context, meta []byte) error {
	c.transport.mu.Lock()
	mt := c.transport.getTopic(c.topic)
	mt.members[c.key] = meta
	c.tracked = true
	subs := append([]*memoryChannel(nil), mt.subs...)
	c.transport.mu.Unlock()

	ev := Event{Type: EventJoin, Topic: c.topic, Key: c.key, Meta: meta}
	for _, sub := range subs {
		sub.dispatch(ev)
	}
	return nil
}

func (c *memoryChannel) Untrack(ctx context.Context) error {
	c.transport.mu.Lock()
	mt := c.transport.getTopic(c.topic)
	meta, present := mt.members[c.key]
	if present {
		delete(mt.members, c.key)
	}
	c.tracked = false
	subs := append([]*memoryChannel(nil), mt.subs...)
	c.transport.mu.Unlock()

	if !present {
		return nil
	}
	ev := Event{Type: EventLeave, Topic: c.topic, Key: c.key, Meta: meta}
	for _, sub := range subs {
		sub.dispatch(ev)
	}
	return nil
}

// Resync re-delivers the full member table to this subscriber only.
func (c *memoryChannel) Resync(ctx context.Context) error {
	c.transport.mu.Lock()
	mt := c.transport.getTopic(c.topic)
	state := copyState(mt.members)
	c.transport.mu.Unlock()

	c.dispatch(Event{Type: EventSync, Topic: c.topic, State: state})
	return nil
}

func (c *memoryChannel) Unsubscribe() error {
	if c.tracked {
		c.Untrack(context.Background())
	}

	c.transport.mu.Lock()
	mt := c.transport.getTopic(c.topic)
	for i, sub := range mt.subs {
		if sub == c {
			mt.subs = append(mt.subs[:i], mt.subs[i+1:]...)
			break
		}
	}
	c.subscribed = false
	c.transport.mu.Unlock()
	return nil
}

func (c *memoryChannel) Topic() string { return c.topic }
func (c *memoryChannel) Key() string   { return c.key }

func (c *memoryChannel) dispatch(ev Event) {
	c.transport.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[ev.Type]...)
	subscribed := c.subscribed
	c.transport.mu.Unlock()

	if !subscribed {
		return
	}
	for _, h := range handlers {
		h(ev)
	}
}

func copyState(members map[string][]byte) map[string][]byte {
	state := make(map[string][]byte, len(members))
	for k, v := range members {
		state[k] = v
	}
	return state
}
