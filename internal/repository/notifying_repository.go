package repository

import (
	"time"

	"github.com/liveline/presence-engine/internal/models"
)

// NotifyingRepository decorates a presence repository with a post-write
// hook. Every successful upsert is reported to the hook, which feeds the
// realtime change stream without the writers knowing about it.
type NotifyingRepository struct {
	inner   PresenceRepositoryInterface
	onWrite func(*models.PresenceRecord)
}

func NewNotifyingRepository(inner PresenceRepositoryInterface, onWrite func(*models.PresenceRecord)) *NotifyingRepository {
	return &NotifyingRepository{inner: inner, onWrite: onWrite}
}

func (r *NotifyingRepository) Upsert(record *models.PresenceRecord) error {
	if err := r.inner.Upsert(record); err != nil {
		return err
	}
	if r.onWrite != nil {
		r.onWrite(record)
	}
	return nil
}

func (r *NotifyingRepository) SetOnlineStatus(userID uint, isOnline bool, lastSeen time.Time) error {
	return r.Upsert(&models.PresenceRecord{UserID: userID, IsOnline: isOnline, LastSeen: lastSeen})
}

func (r *NotifyingRepository) FindByUserID(userID uint) (*models.PresenceRecord, error) {
	return r.inner.FindByUserID(userID)
}

func (r *NotifyingRepository) FindOnline(limit int) ([]models.PresenceRecord, error) {
	return r.inner.FindOnline(limit)
}
