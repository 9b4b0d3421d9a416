package service

import (
	"errors"
	"log"
	"time"

	"github.com/liveline/presence-engine/internal/cache"
	"github.com/liveline/presence-engine/internal/models"
	"github.com/liveline/presence-engine/internal/repository"
	"gorm.io/gorm"
)

// PresenceService is the read side of durable presence. The write side
// never corrects a session that died without a teardown signal, so reads
// apply a staleness cutoff instead: an online record whose last_seen is
// older than two heartbeat intervals is reported offline.
type PresenceService struct {
	repo       repository.PresenceRepositoryInterface
	cache      *cache.PresenceCache
	staleAfter time.Duration
	now        func() time.Time
}

func NewPresenceService(repo repository.PresenceRepositoryInterface, presenceCache *cache.PresenceCache, heartbeatInterval time.Duration) *PresenceService {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	return &PresenceService{
		repo:       repo,
		cache:      presenceCache,
		staleAfter: 2 * heartbeatInterval,
		now:        time.Now,
	}
}

// GetPresence resolves a user's effective presence: cache first (its TTL
// already enforces the cutoff), durable store as fallback. A user with no
// record at all is simply offline, not an error.
func (s *PresenceService) GetPresence(userID uint) (*models.PresenceResponse, error) {
	if record, ok := s.cache.GetPresence(userID); ok {
		resp := s.resolve(record)
		return &resp, nil
	}

	record, err := s.repo.FindByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.PresenceResponse{UserID: userID, IsOnline: false}, nil
		}
		return nil, err
	}
	resp := s.resolve(record)
	return &resp, nil
}

// GetOnlineUsers lists users currently considered online after the
// staleness cutoff.
func (s *PresenceService) GetOnlineUsers(limit int) (*models.OnlineUsersResponse, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	// Cache path: the per-user TTL keys have already aged out stale sessions
	if ids, err := s.cache.GetOnlineUsers(); err == nil && ids != nil {
		users := make([]models.PresenceResponse, 0, len(ids))
		for _, id := range ids {
			if record, ok := s.cache.GetPresence(id); ok {
				users = append(users, s.resolve(record))
			}
			if len(users) >= limit {
				break
			}
		}
		return &models.OnlineUsersResponse{Count: len(users), Users: users}, nil
	}

	records, err := s.repo.FindOnline(limit)
	if err != nil {
		return nil, err
	}

	users := make([]models.PresenceResponse, 0, len(records))
	for i := range records {
		resp := s.resolve(&records[i])
		if resp.IsOnline {
			users = append(users, resp)
		}
	}
	return &models.OnlineUsersResponse{Count: len(users), Users: users}, nil
}

// Heartbeat is the socketless liveness path: same upsert the Reporter makes,
// driven by an HTTP call instead of a ticker.
func (s *PresenceService) Heartbeat(userID uint) error {
	record := &models.PresenceRecord{UserID: userID, IsOnline: true, LastSeen: s.now()}
	if err := s.repo.Upsert(record); err != nil {
		return err
	}
	if err := s.cache.SetUserOnline(record); err != nil {
		log.Printf("presence: cache heartbeat write failed for user %d: %v", userID, err)
	}
	return nil
}

// SetOffline is the explicit retraction path (logout).
func (s *PresenceService) SetOffline(userID uint) error {
	record := &models.PresenceRecord{UserID: userID, IsOnline: false, LastSeen: s.now()}
	if err := s.repo.Upsert(record); err != nil {
		return err
	}
	if err := s.cache.SetUserOffline(userID); err != nil {
		log.Printf("presence: cache offline write failed for user %d: %v", userID, err)
	}
	return nil
}

func (s *PresenceService) resolve(record *models.PresenceRecord) models.PresenceResponse {
	resp := record.ToResponse()
	if resp.IsOnline && s.now().Sub(record.LastSeen) > s.staleAfter {
		// Stale-online: the flag says online but the heartbeats stopped
		resp.IsOnline = false
	}
	return resp
}
