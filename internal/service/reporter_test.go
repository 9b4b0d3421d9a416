package service

import (
	"testing"
	"time"
)

func newTestReporter(userID uint, repo *MockPresenceRepository) *Reporter {
	// Interval long enough that the ticker never fires during a test;
	// heartbeats are driven by hand.
	return NewReporter(userID, repo, nil, time.Hour)
}

func TestReporterStartIdempotent(t *testing.T) {
	repo := NewMockPresenceRepository()
	r := newTestReporter(1, repo)
	defer r.Stop()

	r.Start()
	r.Start()
	r.Start()

	if got := repo.RecordCount(); got != 1 {
		t.Errorf("expected exactly one record, got %d", got)
	}
	record, ok := repo.Record(1)
	if !ok || !record.IsOnline {
		t.Errorf("expected user 1 online, got %+v (found %v)", record, ok)
	}
	// Repeated Start must not re-run the start upsert path
	if got := len(repo.History()); got != 1 {
		t.Errorf("expected one write after repeated Start, got %d", got)
	}
}

func TestReporterHeartbeatRefresh(t *testing.T) {
	repo := NewMockPresenceRepository()
	r := newTestReporter(2, repo)
	defer r.Stop()

	r.Start()
	for i := 0; i < 5; i++ {
		r.heartbeat()
	}

	history := repo.History()
	if len(history) != 6 {
		t.Fatalf("expected 6 writes (start + 5 heartbeats), got %d", len(history))
	}
	var prev time.Time
	for i, write := range history {
		if !write.IsOnline {
			t.Errorf("write %d: expected is_online true", i)
		}
		if write.LastSeen.Before(prev) {
			t.Errorf("write %d: last_seen went backwards: %v < %v", i, write.LastSeen, prev)
		}
		prev = write.LastSeen
	}
}

func TestReporterSuspendResume(t *testing.T) {
	repo := NewMockPresenceRepository()
	r := newTestReporter(3, repo)
	defer r.Stop()

	r.Start()

	r.Suspend()
	record, _ := repo.Record(3)
	if record.IsOnline {
		t.Error("expected offline after suspend")
	}

	// Heartbeats are ignored while suspended
	writes := len(repo.History())
	r.heartbeat()
	if got := len(repo.History()); got != writes {
		t.Errorf("suspended heartbeat wrote: %d -> %d", writes, got)
	}

	r.Resume()
	record, _ = repo.Record(3)
	if !record.IsOnline {
		t.Error("expected online after resume")
	}

	// Resume on a running reporter must reuse the existing ticker
	r.mu.Lock()
	ticker := r.ticker
	r.mu.Unlock()
	if ticker == nil {
		t.Fatal("expected the original ticker to survive suspend/resume")
	}
}

func TestReporterStop(t *testing.T) {
	repo := NewMockPresenceRepository()
	r := newTestReporter(4, repo)

	r.Start()
	r.Stop()

	record, _ := repo.Record(4)
	if record.IsOnline {
		t.Error("expected offline after stop")
	}

	// Stop is idempotent and writes offline only once
	writes := len(repo.History())
	r.Stop()
	if got := len(repo.History()); got != writes {
		t.Errorf("second Stop wrote: %d -> %d", writes, got)
	}

	r.mu.Lock()
	ticker := r.ticker
	r.mu.Unlock()
	if ticker != nil {
		t.Error("expected ticker cleared after stop")
	}
}

func TestReporterWriteFailureSelfHeals(t *testing.T) {
	repo := NewMockPresenceRepository()
	r := newTestReporter(5, repo)
	defer r.Stop()

	repo.FailWrites(true)
	r.Start()
	if _, ok := repo.Record(5); ok {
		t.Fatal("expected no record while writes fail")
	}

	// The next tick is the retry; no explicit retry happens in between
	repo.FailWrites(false)
	r.heartbeat()
	record, ok := repo.Record(5)
	if !ok || !record.IsOnline {
		t.Errorf("expected heartbeat to self-heal, got %+v (found %v)", record, ok)
	}
}

func TestReporterMultiSession(t *testing.T) {
	repo := NewMockPresenceRepository()
	tab1 := newTestReporter(6, repo)
	tab2 := newTestReporter(6, repo)
	defer tab1.Stop()
	defer tab2.Stop()

	tab1.Start()
	tab2.Start()
	tab1.Start() // duplicate per-instance starts stay no-ops
	tab2.Start()

	if got := repo.RecordCount(); got != 1 {
		t.Errorf("two sessions of one user must share one record, got %d", got)
	}
	if got := len(repo.History()); got != 2 {
		t.Errorf("expected one write per session start, got %d", got)
	}

	// One tab closing retracts; the surviving tab's heartbeat self-heals
	tab1.Stop()
	record, _ := repo.Record(6)
	if record.IsOnline {
		t.Error("expected offline right after tab1 stop")
	}
	tab2.heartbeat()
	record, _ = repo.Record(6)
	if !record.IsOnline {
		t.Error("expected tab2 heartbeat to restore online")
	}

	if tab1.SessionID() == tab2.SessionID() {
		t.Error("sessions must have distinct IDs")
	}
}
