package service

import (
	"testing"
	"time"

	"github.com/liveline/presence-engine/internal/models"
	"github.com/liveline/presence-engine/internal/testutil"
)

func TestGetPresenceStalenessCutoff(t *testing.T) {
	now := time.Now()
	interval := 30 * time.Second

	tests := []struct {
		name       string
		record     *models.PresenceRecord
		wantOnline bool
	}{
		{
			name:       "Fresh online record",
			record:     &models.PresenceRecord{UserID: 1, IsOnline: true, LastSeen: now.Add(-10 * time.Second)},
			wantOnline: true,
		},
		{
			name:       "Online at exactly the cutoff boundary",
			record:     &models.PresenceRecord{UserID: 1, IsOnline: true, LastSeen: now.Add(-2 * interval)},
			wantOnline: true,
		},
		{
			name:       "Stale online record reads offline",
			record:     &models.PresenceRecord{UserID: 1, IsOnline: true, LastSeen: now.Add(-3 * time.Minute)},
			wantOnline: false,
		},
		{
			name:       "Offline record stays offline",
			record:     &models.PresenceRecord{UserID: 1, IsOnline: false, LastSeen: now.Add(-5 * time.Second)},
			wantOnline: false,
		},
		{
			name:       "No record at all",
			record:     nil,
			wantOnline: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMockPresenceRepository()
			if tt.record != nil {
				repo.Upsert(tt.record)
			}
			svc := NewPresenceService(repo, nil, interval)
			svc.now = func() time.Time { return now }

			resp, err := svc.GetPresence(1)
			if err != nil {
				t.Fatalf("GetPresence error: %v", err)
			}
			if resp.IsOnline != tt.wantOnline {
				t.Errorf("IsOnline = %v, want %v", resp.IsOnline, tt.wantOnline)
			}
		})
	}
}

func TestGetOnlineUsersFiltersStale(t *testing.T) {
	now := time.Now()
	helper := testutil.NewTestHelper(t)
	repo := NewMockPresenceRepository()
	repo.Upsert(&models.PresenceRecord{UserID: 1, IsOnline: true, LastSeen: now.Add(-5 * time.Second)})
	repo.Upsert(&models.PresenceRecord{UserID: 2, IsOnline: true, LastSeen: now.Add(-10 * time.Minute)})
	repo.Upsert(helper.CreateTestRecord(3, false))

	svc := NewPresenceService(repo, nil, 30*time.Second)
	svc.now = func() time.Time { return now }

	resp, err := svc.GetOnlineUsers(10)
	if err != nil {
		t.Fatalf("GetOnlineUsers error: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("expected 1 online user, got %d", resp.Count)
	}
	if resp.Users[0].UserID != 1 {
		t.Errorf("expected user 1, got %d", resp.Users[0].UserID)
	}
}

func TestHeartbeatAndSetOffline(t *testing.T) {
	repo := NewMockPresenceRepository()
	svc := NewPresenceService(repo, nil, 30*time.Second)

	if err := svc.Heartbeat(4); err != nil {
		t.Fatalf("Heartbeat error: %v", err)
	}
	record, ok := repo.Record(4)
	if !ok || !record.IsOnline {
		t.Errorf("expected online record after heartbeat, got %+v (found %v)", record, ok)
	}

	if err := svc.SetOffline(4); err != nil {
		t.Fatalf("SetOffline error: %v", err)
	}
	record, _ = repo.Record(4)
	if record.IsOnline {
		t.Error("expected offline after SetOffline")
	}
	if got := repo.RecordCount(); got != 1 {
		t.Errorf("upserts must reuse one row, got %d", got)
	}
}
