package channel

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	messagePrefix = "channel:msg:"
	statePrefix   = "channel:state:"

	// stateTTL caps how long a crashed process's tracked state can linger
	// in the member hash. Refreshed on every Track.
	stateTTL = 10 * time.Minute
)

// RedisTransport fans channel events out over Redis pub/sub and keeps each
// topic's member table in a Redis hash, so every process sees the same
// state and a subscriber can rebuild it with a single HGETALL.
type RedisTransport struct {
	client *redis.Client
}

func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

func (t *RedisTransport) Channel(topic, key string) Channel {
	return &redisChannel{
		client:   t.client,
		topic:    topic,
		key:      key,
		handlers: make(map[EventType][]Handler),
	}
}

// envelope is the wire format of join/leave notifications on the pub/sub
// message channel.
type envelope struct {
	Type EventType `msgpack:"type"`
	Key  string    `msgpack:"key"`
	Meta []byte    `msgpack:"meta"`
}

type redisChannel struct {
	client *redis.Client
	topic  string
	key    string

	mu         sync.Mutex
	handlers   map[EventType][]Handler
	pubsub     *redis.PubSub
	subscribed bool
	tracked    bool
}

func (c *redisChannel) messageKey() string { return messagePrefix + c.topic }
func (c *redisChannel) stateKey() string   { return statePrefix + c.topic }

func (c *redisChannel) On(t EventType, h Handler) Channel {
	c.mu.Lock()
	c.handlers[t] = append(c.handlers[t], h)
	c.mu.Unlock()
	return c
}

func (c *redisChannel) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil
	}
	pubsub := c.client.Subscribe(ctx, c.messageKey())
	c.pubsub = pubsub
	c.subscribed = true
	c.mu.Unlock()

	// Confirm the subscription before reporting success
	if _, err := pubsub.Receive(ctx); err != nil {
		c.mu.Lock()
		c.subscribed = false
		c.pubsub = nil
		c.mu.Unlock()
		pubsub.Close()
		return err
	}

	go c.readLoop(pubsub)

	// Initial full-state sync
	return c.Resync(ctx)
}

func (c *redisChannel) readLoop(pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		var env envelope
		if err := msgpack.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("channel %s: dropping malformed event: %v", c.topic, err)
			continue
		}
		c.dispatch(Event{Type: env.Type, Topic: c.topic, Key: env.Key, Meta: env.Meta})
	}
}

func (c *redisChannel) Track(ctx context.Context, meta []byte) error {
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, c.stateKey(), c.key, meta)
	pipe.Expire(ctx, c.stateKey(), stateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.tracked = true
	c.mu.Unlock()

	return c.publish(ctx, envelope{Type: EventJoin, Key: c.key, Meta: meta})
}

// untrackScript removes the member's state and returns what it was, in one
// step. Two handles sharing a key race on untrack; exactly one of them gets
// the meta back and emits the leave.
var untrackScript = redis.NewScript(`
local meta = redis.call('HGET', KEYS[1], ARGV[1])
if meta then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
return meta
`)

func (c *redisChannel) Untrack(ctx context.Context) error {
	res, err := untrackScript.Run(ctx, c.client, []string{c.stateKey()}, c.key).Result()

	c.mu.Lock()
	c.tracked = false
	c.mu.Unlock()

	if err == redis.Nil {
		// Nothing tracked under this key; someone else already removed it
		return nil
	}
	if err != nil {
		return err
	}

	meta, ok := res.(string)
	if !ok {
		return nil
	}
	return c.publish(ctx, envelope{Type: EventLeave, Key: c.key, Meta: []byte(meta)})
}

// Resync reads the full member table and delivers it to this subscriber as
// a sync event.
func (c *redisChannel) Resync(ctx context.Context) error {
	raw, err := c.client.HGetAll(ctx, c.stateKey()).Result()
	if err != nil {
		return err
	}

	state := make(map[string][]byte, len(raw))
	for k, v := range raw {
		state[k] = []byte(v)
	}
	c.dispatch(Event{Type: EventSync, Topic: c.topic, State: state})
	return nil
}

func (c *redisChannel) Unsubscribe() error {
	ctx := context.Background()

	c.mu.Lock()
	tracked := c.tracked
	pubsub := c.pubsub
	c.pubsub = nil
	c.subscribed = false
	c.mu.Unlock()

	if tracked {
		if err := c.Untrack(ctx); err != nil {
			log.Printf("channel %s: untrack on unsubscribe failed for %s: %v", c.topic, c.key, err)
		}
	}
	if pubsub != nil {
		return pubsub.Close()
	}
	return nil
}

func (c *redisChannel) Topic() string { return c.topic }
func (c *redisChannel) Key() string   { return c.key }

func (c *redisChannel) publish(ctx context.Context, env envelope) error {
	data, err := msgpack.Marshal(env)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, c.messageKey(), data).Err()
}

func (c *redisChannel) dispatch(ev Event) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[ev.Type]...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
