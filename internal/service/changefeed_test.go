package service

import (
	"context"
	"testing"
	"time"

	"github.com/liveline/presence-engine/internal/channel"
	"github.com/liveline/presence-engine/internal/models"
)

func TestChangeFeedDeliversWrites(t *testing.T) {
	transport := channel.NewMemoryTransport()
	feed := NewChangeFeed(transport)
	watcher := NewWatcher(transport)

	var seen []models.PresenceRecord
	stop, err := watcher.Watch(context.Background(), nil, func(r models.PresenceRecord) {
		seen = append(seen, r)
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	now := time.Now()
	feed.Publish(&models.PresenceRecord{UserID: 1, IsOnline: true, LastSeen: now})
	feed.Publish(&models.PresenceRecord{UserID: 1, IsOnline: false, LastSeen: now})

	if len(seen) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(seen))
	}
	if seen[0].UserID != 1 || !seen[0].IsOnline {
		t.Errorf("first change = %+v, want user 1 online", seen[0])
	}
	if seen[1].IsOnline {
		t.Errorf("second change should be offline, got %+v", seen[1])
	}
}

func TestWatcherFilter(t *testing.T) {
	transport := channel.NewMemoryTransport()
	feed := NewChangeFeed(transport)
	watcher := NewWatcher(transport)

	var seen []uint
	stop, err := watcher.Watch(context.Background(), []uint{2}, func(r models.PresenceRecord) {
		seen = append(seen, r.UserID)
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	feed.Publish(&models.PresenceRecord{UserID: 1, IsOnline: true})
	feed.Publish(&models.PresenceRecord{UserID: 2, IsOnline: true})
	feed.Publish(&models.PresenceRecord{UserID: 3, IsOnline: true})

	if len(seen) != 1 || seen[0] != 2 {
		t.Errorf("filter leaked: saw %v, want [2]", seen)
	}
}

func TestWatcherInitialState(t *testing.T) {
	transport := channel.NewMemoryTransport()
	feed := NewChangeFeed(transport)
	watcher := NewWatcher(transport)

	// Writes that happened before the watch started.
	feed.Publish(&models.PresenceRecord{UserID: 7, IsOnline: true})

	var seen []uint
	stop, err := watcher.Watch(context.Background(), nil, func(r models.PresenceRecord) {
		seen = append(seen, r.UserID)
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	if len(seen) != 1 || seen[0] != 7 {
		t.Errorf("expected initial state for user 7, got %v", seen)
	}
}
