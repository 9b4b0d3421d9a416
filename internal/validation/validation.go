package validation

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var conversationIDRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

func NormalizeConversationID(id string) string {
	return strings.TrimSpace(id)
}

func ValidateConversationID(id string) bool {
	id = NormalizeConversationID(id)
	return conversationIDRe.MatchString(id)
}

func ValidateUserID(id uint) bool {
	return id > 0
}

// HeartbeatInterval reads the liveness heartbeat cadence from the
// environment, in seconds. Anything under 5s is rejected to keep the write
// rate sane.
func HeartbeatInterval() time.Duration {
	intervalStr := os.Getenv("PRESENCE_HEARTBEAT_SECONDS")
	if intervalStr == "" {
		return 30 * time.Second
	}
	seconds, err := strconv.Atoi(intervalStr)
	if err != nil || seconds < 5 {
		return 30 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

// OnlineUsersLimit caps the online-users listing page size.
func OnlineUsersLimit() int {
	limitStr := os.Getenv("PRESENCE_ONLINE_LIMIT")
	if limitStr == "" {
		return 100
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 || limit > 500 {
		return 100
	}
	return limit
}
