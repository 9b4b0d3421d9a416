package service

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liveline/presence-engine/internal/cache"
	"github.com/liveline/presence-engine/internal/lifecycle"
	"github.com/liveline/presence-engine/internal/models"
	"github.com/liveline/presence-engine/internal/repository"
)

const DefaultHeartbeatInterval = 30 * time.Second

// Reporter asserts and retracts a single session's liveness. Each session
// (one websocket connection, one browser tab) owns exactly one Reporter;
// several Reporters for the same user are independent and race to upsert
// the same row, which is safe because the upsert is idempotent and every
// session asserts the same intent.
type Reporter struct {
	userID    uint
	sessionID string
	repo      repository.PresenceRepositoryInterface
	cache     *cache.PresenceCache
	interval  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	ticker    *time.Ticker
	done      chan struct{}
	suspended bool
}

func NewReporter(userID uint, repo repository.PresenceRepositoryInterface, presenceCache *cache.PresenceCache, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Reporter{
		userID:    userID,
		sessionID: uuid.NewString(),
		repo:      repo,
		cache:     presenceCache,
		interval:  interval,
		now:       time.Now,
	}
}

func (r *Reporter) SessionID() string {
	return r.sessionID
}

// Start writes the online record immediately and begins the heartbeat.
// Calling Start again on a running Reporter is a no-op; there is never more
// than one ticker per Reporter.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.ticker != nil {
		r.mu.Unlock()
		return
	}
	r.ticker = time.NewTicker(r.interval)
	r.done = make(chan struct{})
	r.suspended = false
	ticker, done := r.ticker, r.done
	r.mu.Unlock()

	r.writeOnline()
	go r.run(ticker, done)
}

func (r *Reporter) run(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.heartbeat()
		}
	}
}

// heartbeat re-upserts the online record. A failed write is not retried
// here; the next tick is the retry.
func (r *Reporter) heartbeat() {
	r.mu.Lock()
	suspended := r.suspended
	r.mu.Unlock()

	if suspended {
		return
	}
	r.writeOnline()
}

// Stop cancels the heartbeat synchronously, then makes the best-effort
// offline write. Safe to call on a Reporter that never started.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.ticker == nil {
		r.mu.Unlock()
		return
	}
	r.ticker.Stop()
	close(r.done)
	r.ticker = nil
	r.done = nil
	r.mu.Unlock()

	r.writeOffline()
}

// Suspend pauses heartbeats and retracts the online record. The ticker
// keeps running but its ticks are ignored until Resume.
func (r *Reporter) Suspend() {
	r.mu.Lock()
	if r.ticker == nil || r.suspended {
		r.mu.Unlock()
		return
	}
	r.suspended = true
	r.mu.Unlock()

	r.writeOffline()
}

// Resume re-runs the start upsert path without creating a second ticker,
// clearing a possibly stale offline record left by Suspend.
func (r *Reporter) Resume() {
	r.mu.Lock()
	if r.ticker == nil {
		r.mu.Unlock()
		r.Start()
		return
	}
	r.suspended = false
	r.mu.Unlock()

	r.writeOnline()
}

// Bind attaches the Reporter to a lifecycle source: suspend/resume follow
// visibility, terminate stops the reporting lifecycle.
func (r *Reporter) Bind(src lifecycle.Source) {
	src.Attach(lifecycle.Listener{
		OnSuspend:   r.Suspend,
		OnResume:    r.Resume,
		OnTerminate: r.Stop,
	})
}

// writeOnline is fire-and-forget: failures are logged, never surfaced.
func (r *Reporter) writeOnline() {
	record := &models.PresenceRecord{UserID: r.userID, IsOnline: true, LastSeen: r.now()}
	if err := r.repo.Upsert(record); err != nil {
		log.Printf("presence: online upsert failed for user %d (session %s): %v", r.userID, r.sessionID, err)
	}
	if err := r.cache.SetUserOnline(record); err != nil {
		log.Printf("presence: cache online write failed for user %d: %v", r.userID, err)
	}
}

func (r *Reporter) writeOffline() {
	record := &models.PresenceRecord{UserID: r.userID, IsOnline: false, LastSeen: r.now()}
	if err := r.repo.Upsert(record); err != nil {
		log.Printf("presence: offline upsert failed for user %d (session %s): %v", r.userID, r.sessionID, err)
	}
	if err := r.cache.SetUserOffline(r.userID); err != nil {
		log.Printf("presence: cache offline write failed for user %d: %v", r.userID, err)
	}
}
