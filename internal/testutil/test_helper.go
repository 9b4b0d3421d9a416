package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/liveline/presence-engine/internal/models"
)

// TestHelper provides utility functions for tests
type TestHelper struct {
	t *testing.T
}

func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// CreateTestRecord creates a presence record with default values
func (h *TestHelper) CreateTestRecord(userID uint, online bool) *models.PresenceRecord {
	if userID == 0 {
		userID = 1
	}
	return &models.PresenceRecord{
		UserID:    userID,
		IsOnline:  online,
		LastSeen:  time.Now(),
		UpdatedAt: time.Now(),
	}
}

// SetupTestEnv sets up required environment variables for testing
func (h *TestHelper) SetupTestEnv() {
	os.Setenv("JWT_SECRET", "test-secret-key-for-testing-only")
	os.Setenv("PRESENCE_HEARTBEAT_SECONDS", "30")
}

// TeardownTestEnv cleans up environment variables after testing
func (h *TestHelper) TeardownTestEnv() {
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("PRESENCE_HEARTBEAT_SECONDS")
}

// AssertError checks if an error occurred when it should (or shouldn't)
func (h *TestHelper) AssertError(err error, shouldErr bool, testName string) {
	if (err != nil) != shouldErr {
		if shouldErr {
			h.t.Errorf("%s: expected error but got nil", testName)
		} else {
			h.t.Errorf("%s: unexpected error: %v", testName, err)
		}
	}
}

// AssertEqual checks if two values are equal
func (h *TestHelper) AssertEqual(got, want interface{}, testName string) {
	if got != want {
		h.t.Errorf("%s: got %v, want %v", testName, got, want)
	}
}
