package service

import (
	"sync"
	"time"

	"github.com/liveline/presence-engine/internal/models"
	"gorm.io/gorm"
)

// MockPresenceRepository is an in-memory implementation of
// PresenceRepositoryInterface that records every write in order.
type MockPresenceRepository struct {
	mu      sync.Mutex
	records map[uint]models.PresenceRecord
	history []models.PresenceRecord
	failAll bool
}

func NewMockPresenceRepository() *MockPresenceRepository {
	return &MockPresenceRepository{
		records: make(map[uint]models.PresenceRecord),
	}
}

func (m *MockPresenceRepository) Upsert(record *models.PresenceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return gorm.ErrInvalidTransaction
	}
	m.records[record.UserID] = *record
	m.history = append(m.history, *record)
	return nil
}

func (m *MockPresenceRepository) SetOnlineStatus(userID uint, isOnline bool, lastSeen time.Time) error {
	return m.Upsert(&models.PresenceRecord{UserID: userID, IsOnline: isOnline, LastSeen: lastSeen})
}

func (m *MockPresenceRepository) FindByUserID(userID uint) (*models.PresenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &record, nil
}

func (m *MockPresenceRepository) FindOnline(limit int) ([]models.PresenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var online []models.PresenceRecord
	for _, record := range m.records {
		if record.IsOnline {
			online = append(online, record)
		}
		if len(online) >= limit {
			break
		}
	}
	return online, nil
}

// Record returns the current row for a user, if any.
func (m *MockPresenceRepository) Record(userID uint) (models.PresenceRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[userID]
	return record, ok
}

// RecordCount returns the number of distinct rows.
func (m *MockPresenceRepository) RecordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// History returns every write in arrival order.
func (m *MockPresenceRepository) History() []models.PresenceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PresenceRecord(nil), m.history...)
}

// FailWrites makes every subsequent write return an error.
func (m *MockPresenceRepository) FailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = fail
}
