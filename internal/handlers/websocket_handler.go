package handlers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/liveline/presence-engine/internal/cache"
	"github.com/liveline/presence-engine/internal/channel"
	"github.com/liveline/presence-engine/internal/handlers/ws"
	"github.com/liveline/presence-engine/internal/lifecycle"
	"github.com/liveline/presence-engine/internal/models"
	"github.com/liveline/presence-engine/internal/repository"
	"github.com/liveline/presence-engine/internal/service"
	"github.com/vmihailenco/msgpack/v5"
)

type WebSocketHandler struct {
	hub               *ws.Hub
	transport         channel.Transport
	presenceRepo      repository.PresenceRepositoryInterface
	presenceCache     *cache.PresenceCache
	aggregator        *service.Aggregator
	typing            *service.TypingChannels
	heartbeatInterval time.Duration
}

func NewWebSocketHandler(presenceRepo repository.PresenceRepositoryInterface, presenceCache *cache.PresenceCache, transport channel.Transport, aggregator *service.Aggregator, typing *service.TypingChannels, heartbeatInterval time.Duration) *WebSocketHandler {
	h := &WebSocketHandler{
		hub:               ws.NewHub(),
		transport:         transport,
		presenceRepo:      presenceRepo,
		presenceCache:     presenceCache,
		aggregator:        aggregator,
		typing:            typing,
		heartbeatInterval: heartbeatInterval,
	}

	// One shared observer fans presence changes out to every session
	h.aggregator.Notify(func(n service.PresenceNotification) {
		h.hub.Broadcast(map[string]interface{}{
			"type":      "presence",
			"user_id":   n.UserID,
			"is_online": n.Online,
		})
	})

	return h
}

// GetHub returns the hub instance (useful for sending messages from other handlers)
func (h *WebSocketHandler) GetHub() *ws.Hub {
	return h.hub
}

// HandleWebSocket runs one session: the connection is the session's
// lifecycle carrier. Open starts liveness reporting and announces the
// session on the global presence channel; client visibility frames drive
// suspend/resume; close terminates everything.
func (h *WebSocketHandler) HandleWebSocket(c *websocket.Conn) {
	userID := c.Locals("userID").(uint)
	sessionID := uuid.NewString()
	bg := context.Background()

	h.hub.Register(sessionID, userID, c)

	// Liveness reporting bound to this session's lifecycle
	relay := lifecycle.NewRelay()
	reporter := service.NewReporter(userID, h.presenceRepo, h.presenceCache, h.heartbeatInterval)
	reporter.Bind(relay)
	reporter.Start()

	// Announce transport-level connectedness on the global presence topic
	presenceCh := h.transport.Channel(service.GlobalPresenceTopic, sessionID)
	meta, err := msgpack.Marshal(models.PresenceMeta{UserID: userID, OnlineAt: time.Now()})
	if err != nil {
		log.Printf("Session %s: presence meta marshal failed: %v", sessionID, err)
	} else {
		if err := presenceCh.Subscribe(bg); err != nil {
			log.Printf("Session %s: presence channel subscribe failed: %v", sessionID, err)
		} else if err := presenceCh.Track(bg, meta); err != nil {
			log.Printf("Session %s: presence track failed: %v", sessionID, err)
		}
	}

	defer func() {
		// Terminate stops the reporter; the offline write is best-effort
		relay.Terminate()
		// Unsubscribe untracks, which emits the leave every observer needs
		if err := presenceCh.Unsubscribe(); err != nil {
			log.Printf("Session %s: presence channel unsubscribe failed: %v", sessionID, err)
		}
		h.hub.Unregister(sessionID)
		// Typing membership is per user; drop it only with the last session
		if !h.hub.UserOnline(userID) {
			h.typing.LeaveAll(bg, userID)
		}
	}()

	log.Printf("User %d connected via WebSocket (session %s)", userID, sessionID)

	msgCtx := &ws.MessageContext{
		Ctx:       bg,
		SessionID: sessionID,
		UserID:    userID,
		Conn:      c,
		Hub:       h.hub,
		Relay:     relay,
		Typing:    h.typing,
	}

	// Handle incoming messages
	for {
		_, messageBytes, err := c.ReadMessage()
		if err != nil {
			log.Printf("Error reading message from user %d: %v", userID, err)
			break
		}

		msg, err := ws.Deserialize(messageBytes)
		if err != nil {
			log.Printf("Error deserializing message from user %d: %v", userID, err)
			h.hub.SendError(sessionID, "invalid_message", "Invalid message format", err.Error())
			continue
		}

		if err := msg.Process(msgCtx); err != nil {
			log.Printf("Error processing message %s from user %d: %v", msg.GetType(), userID, err)
			h.hub.SendError(sessionID, "processing_failed", "Failed to process message", err.Error())
		}
	}

	log.Printf("User %d disconnected from WebSocket (session %s)", userID, sessionID)
}
