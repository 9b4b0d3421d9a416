package repository

import (
	"time"

	"github.com/liveline/presence-engine/internal/models"
)

// PresenceRepositoryInterface defines the contract for the durable
// presence store: insert-or-update keyed by user_id, last-writer-wins.
type PresenceRepositoryInterface interface {
	Upsert(record *models.PresenceRecord) error
	SetOnlineStatus(userID uint, isOnline bool, lastSeen time.Time) error
	FindByUserID(userID uint) (*models.PresenceRecord, error)
	FindOnline(limit int) ([]models.PresenceRecord, error)
}
