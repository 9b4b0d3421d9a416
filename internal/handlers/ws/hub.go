package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
)

// Session wraps one WebSocket connection with liveness metadata. A user
// with several tabs has several Sessions; the hub never collapses them.
type Session struct {
	ID         string
	UserID     uint
	Conn       *websocket.Conn
	LastPong   time.Time
	PingTicker *time.Ticker
	CloseChan  chan struct{}

	writeMu sync.Mutex
}

// Hub manages all active WebSocket sessions
type Hub struct {
	sessions     map[string]*Session
	byUser       map[uint]map[string]*Session
	mu           sync.RWMutex
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	hub := &Hub{
		sessions:     make(map[string]*Session),
		byUser:       make(map[uint]map[string]*Session),
		pingInterval: 30 * time.Second,
		pongTimeout:  90 * time.Second,
	}

	go hub.connectionHealthChecker()

	return hub
}

// Register adds a session with health monitoring
func (h *Hub) Register(sessionID string, userID uint, conn *websocket.Conn) *Session {
	session := &Session{
		ID:         sessionID,
		UserID:     userID,
		Conn:       conn,
		LastPong:   time.Now(),
		PingTicker: time.NewTicker(h.pingInterval),
		CloseChan:  make(chan struct{}),
	}

	conn.SetPongHandler(func(appData string) error {
		h.mu.Lock()
		if s, exists := h.sessions[sessionID]; exists {
			s.LastPong = time.Now()
		}
		h.mu.Unlock()
		// Each pong buys the read loop another timeout window
		conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
		return nil
	})

	conn.SetReadDeadline(time.Now().Add(h.pongTimeout))

	h.mu.Lock()
	h.sessions[sessionID] = session
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[string]*Session)
	}
	h.byUser[userID][sessionID] = session
	total := len(h.sessions)
	h.mu.Unlock()

	go h.pingRoutine(session)

	log.Printf("Session %s (user %d) connected to hub (total: %d)", sessionID, userID, total)
	return session
}

// Unregister removes a session
func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	session, exists := h.sessions[sessionID]
	if exists {
		if session.PingTicker != nil {
			session.PingTicker.Stop()
		}
		close(session.CloseChan)
		delete(h.sessions, sessionID)
		if userSessions := h.byUser[session.UserID]; userSessions != nil {
			delete(userSessions, sessionID)
			if len(userSessions) == 0 {
				delete(h.byUser, session.UserID)
			}
		}
	}
	total := len(h.sessions)
	h.mu.Unlock()

	if exists {
		log.Printf("Session %s (user %d) disconnected from hub (total: %d)", sessionID, session.UserID, total)
	}
}

// UserOnline reports whether the user has at least one live session
func (h *Hub) UserOnline(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// SendToSession sends data to one session
func (h *Hub) SendToSession(sessionID string, data interface{}) error {
	h.mu.RLock()
	session, exists := h.sessions[sessionID]
	h.mu.RUnlock()

	if !exists {
		return nil
	}
	return h.write(session, data)
}

// SendToUser sends data to every session of a user
func (h *Hub) SendToUser(userID uint, data interface{}) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.byUser[userID]))
	for _, s := range h.byUser[userID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, session := range sessions {
		if err := h.write(session, data); err != nil {
			log.Printf("Error sending to session %s (user %d): %v", session.ID, userID, err)
			h.Unregister(session.ID)
		}
	}
}

// SendError sends an error frame to one session. It goes through the
// locked write path; the connection is not safe for concurrent writers.
func (h *Hub) SendError(sessionID, code, message, details string) error {
	return h.SendToSession(sessionID, ErrorResponse{
		Type:    "error",
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// Broadcast sends data to all connected sessions
func (h *Hub) Broadcast(data interface{}) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, session := range sessions {
		if err := h.write(session, data); err != nil {
			log.Printf("Error broadcasting to session %s: %v", session.ID, err)
			h.Unregister(session.ID)
		}
	}
}

// Count returns the number of connected sessions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// write serializes the frame under the session's write lock; the websocket
// connection is not safe for concurrent writers.
func (h *Hub) write(session *Session, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	session.writeMu.Lock()
	defer session.writeMu.Unlock()
	return session.Conn.WriteMessage(websocket.TextMessage, jsonData)
}

// pingRoutine sends periodic ping frames to keep the connection alive
func (h *Hub) pingRoutine(session *Session) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Ping routine recovered from panic for session %s: %v", session.ID, r)
		}
	}()

	for {
		select {
		case <-session.CloseChan:
			return
		case <-session.PingTicker.C:
			session.writeMu.Lock()
			err := session.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			session.writeMu.Unlock()

			if err != nil {
				log.Printf("Ping failed for session %s (user %d): %v", session.ID, session.UserID, err)
				h.Unregister(session.ID)
				return
			}
		}
	}
}

// connectionHealthChecker removes sessions that stopped answering pings
func (h *Hub) connectionHealthChecker() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		h.mu.RLock()
		dead := make([]string, 0)
		now := time.Now()
		for sessionID, session := range h.sessions {
			if now.Sub(session.LastPong) > h.pongTimeout {
				dead = append(dead, sessionID)
			}
		}
		h.mu.RUnlock()

		for _, sessionID := range dead {
			log.Printf("Removing dead session %s (no pong received)", sessionID)
			h.Unregister(sessionID)
		}
	}
}
