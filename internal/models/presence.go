package models

import (
	"time"
)

// PresenceRecord is the durable per-user liveness row. There is exactly one
// row per user; every session of that user upserts the same row.
type PresenceRecord struct {
	UserID    uint      `gorm:"primarykey" json:"user_id" msgpack:"user_id"`
	IsOnline  bool      `gorm:"default:false" json:"is_online" msgpack:"is_online"`
	LastSeen  time.Time `json:"last_seen" msgpack:"last_seen"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`
}

// PresenceMeta is the small state blob a session tracks on the global
// presence channel. It travels on join/leave events and in full-state syncs.
type PresenceMeta struct {
	UserID   uint      `json:"user_id" msgpack:"user_id"`
	OnlineAt time.Time `json:"online_at" msgpack:"online_at"`
}

// TypingState is the ephemeral per-(conversation, user) signal. It is never
// persisted; it lives only as tracked state on a conversation channel.
type TypingState struct {
	UserID    uint      `json:"user_id" msgpack:"user_id"`
	Typing    bool      `json:"typing" msgpack:"typing"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

type PresenceResponse struct {
	UserID   uint       `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type OnlineUsersResponse struct {
	Count int                `json:"count"`
	Users []PresenceResponse `json:"users"`
}

func (r *PresenceRecord) ToResponse() PresenceResponse {
	resp := PresenceResponse{
		UserID:   r.UserID,
		IsOnline: r.IsOnline,
	}
	if !r.LastSeen.IsZero() {
		ls := r.LastSeen
		resp.LastSeen = &ls
	}
	return resp
}
