package service

import (
	"context"
	"log"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/liveline/presence-engine/internal/channel"
	"github.com/liveline/presence-engine/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// PresenceChangesTopic carries durable-row changes, keyed by user, as a
// second notification path independent of the session broadcast topic.
// The topic's tracked state is always the latest written row per user.
const PresenceChangesTopic = "presence:changes"

// ChangeFeed publishes durable presence row changes. Wire it as the
// NotifyingRepository hook so every successful write flows out.
type ChangeFeed struct {
	transport channel.Transport

	mu       sync.Mutex
	channels map[uint]channel.Channel
}

func NewChangeFeed(transport channel.Transport) *ChangeFeed {
	return &ChangeFeed{
		transport: transport,
		channels:  make(map[uint]channel.Channel),
	}
}

// Publish is fire-and-forget like every other presence write.
func (f *ChangeFeed) Publish(record *models.PresenceRecord) {
	data, err := msgpack.Marshal(record)
	if err != nil {
		log.Printf("changefeed: marshal failed for user %d: %v", record.UserID, err)
		return
	}

	f.mu.Lock()
	ch, ok := f.channels[record.UserID]
	if !ok {
		ch = f.transport.Channel(PresenceChangesTopic, strconv.FormatUint(uint64(record.UserID), 10))
		f.channels[record.UserID] = ch
	}
	f.mu.Unlock()

	if err := ch.Track(context.Background(), data); err != nil {
		log.Printf("changefeed: publish failed for user %d: %v", record.UserID, err)
	}
}

// Watcher delivers per-row change callbacks to observers that want row
// granularity rather than the aggregated snapshot.
type Watcher struct {
	transport channel.Transport
}

func NewWatcher(transport channel.Transport) *Watcher {
	return &Watcher{transport: transport}
}

// Watch invokes callback for the current row state of the watched users and
// then for every subsequent change. An empty filter watches everyone. The
// returned func cancels the watch.
func (w *Watcher) Watch(ctx context.Context, userIDs []uint, callback func(models.PresenceRecord)) (func(), error) {
	filter := make(map[uint]struct{}, len(userIDs))
	for _, id := range userIDs {
		filter[id] = struct{}{}
	}

	deliver := func(meta []byte) {
		var record models.PresenceRecord
		if err := msgpack.Unmarshal(meta, &record); err != nil {
			return
		}
		if len(filter) > 0 {
			if _, ok := filter[record.UserID]; !ok {
				return
			}
		}
		callback(record)
	}

	ch := w.transport.Channel(PresenceChangesTopic, "watcher:"+uuid.NewString())
	ch.On(channel.EventSync, func(ev channel.Event) {
		for _, meta := range ev.State {
			deliver(meta)
		}
	}).On(channel.EventJoin, func(ev channel.Event) {
		deliver(ev.Meta)
	})

	if err := ch.Subscribe(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := ch.Unsubscribe(); err != nil {
			log.Printf("changefeed: watcher unsubscribe failed: %v", err)
		}
	}, nil
}
