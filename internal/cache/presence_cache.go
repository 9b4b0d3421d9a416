package cache

import (
	"fmt"
	"strconv"
	"time"

	"github.com/liveline/presence-engine/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	onlineSetKey = "presence:online"

	// PresenceTTL bounds how long a record is trusted without a refresh.
	// Two missed heartbeats (30s interval) and the key expires on its own.
	PresenceTTL = 60 * time.Second
)

// PresenceCache keeps the hot read path for presence in Redis: a set of
// online user IDs plus one msgpack-encoded record per user with a TTL, so
// sessions that die without a teardown signal age out of the cache even
// though their durable row stays stale.
type PresenceCache struct {
	redis *RedisCache
}

// NewPresenceCache creates a new presence cache
func NewPresenceCache(redis *RedisCache) *PresenceCache {
	return &PresenceCache{redis: redis}
}

func presenceKey(userID uint) string {
	return fmt.Sprintf("presence:user:%d", userID)
}

// SetUserOnline stores the record and adds the user to the online set
func (pc *PresenceCache) SetUserOnline(record *models.PresenceRecord) error {
	if pc == nil || pc.redis == nil {
		return nil
	}
	if err := pc.redis.SetAdd(onlineSetKey, record.UserID); err != nil {
		return err
	}

	data, err := msgpack.Marshal(record)
	if err != nil {
		return err
	}
	return pc.redis.Set(presenceKey(record.UserID), data, PresenceTTL)
}

// SetUserOffline removes the user from the online set and drops the record
func (pc *PresenceCache) SetUserOffline(userID uint) error {
	if pc == nil || pc.redis == nil {
		return nil
	}
	if err := pc.redis.SetRemove(onlineSetKey, userID); err != nil {
		return err
	}
	return pc.redis.Delete(presenceKey(userID))
}

// GetPresence returns the cached record for a user, or a miss if the key
// expired or was never written.
func (pc *PresenceCache) GetPresence(userID uint) (*models.PresenceRecord, bool) {
	if pc == nil || pc.redis == nil {
		return nil, false
	}
	data, err := pc.redis.Get(presenceKey(userID))
	if err != nil || data == nil {
		return nil, false
	}

	var record models.PresenceRecord
	if err := msgpack.Unmarshal(data, &record); err != nil {
		return nil, false
	}
	return &record, true
}

// IsUserOnline checks the per-user TTL key, not the set, so an expired
// session reads as offline even before the set is cleaned up.
func (pc *PresenceCache) IsUserOnline(userID uint) bool {
	if pc == nil || pc.redis == nil {
		return false
	}
	return pc.redis.Exists(presenceKey(userID))
}

// GetOnlineUsers returns the IDs whose per-user key is still live, and
// prunes set members whose key has expired.
func (pc *PresenceCache) GetOnlineUsers() ([]uint, error) {
	if pc == nil || pc.redis == nil {
		return nil, nil
	}
	members, err := pc.redis.SetMembers(onlineSetKey)
	if err != nil {
		return nil, err
	}

	userIDs := make([]uint, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseUint(member, 10, 32)
		if err != nil {
			continue
		}
		if pc.IsUserOnline(uint(id)) {
			userIDs = append(userIDs, uint(id))
		} else {
			// Expired without an explicit offline write; drop from the set
			pc.redis.SetRemove(onlineSetKey, member)
		}
	}

	return userIDs, nil
}

// GetOnlineCount returns the size of the online set (upper bound; expired
// members may not be pruned yet)
func (pc *PresenceCache) GetOnlineCount() (int64, error) {
	if pc == nil || pc.redis == nil {
		return 0, nil
	}
	return pc.redis.SetCard(onlineSetKey)
}
