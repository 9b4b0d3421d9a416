package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/liveline/presence-engine/internal/httpx"
	"github.com/liveline/presence-engine/internal/service"
	"github.com/liveline/presence-engine/internal/validation"
)

type PresenceHandler struct {
	presenceService *service.PresenceService
	aggregator      *service.Aggregator
}

func NewPresenceHandler(presenceService *service.PresenceService, aggregator *service.Aggregator) *PresenceHandler {
	return &PresenceHandler{
		presenceService: presenceService,
		aggregator:      aggregator,
	}
}

// GetPresence returns a user's effective presence from the durable view
// (staleness cutoff applied at the read layer).
func (h *PresenceHandler) GetPresence(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("user_id"), 10, 32)
	if err != nil || !validation.ValidateUserID(uint(userID)) {
		return httpx.BadRequest(c, "invalid_user_id", "Invalid user id")
	}

	resp, err := h.presenceService.GetPresence(uint(userID))
	if err != nil {
		return httpx.Internal(c, "presence_lookup_failed")
	}
	return c.JSON(resp)
}

// GetOnlineUsers lists users currently considered online.
func (h *PresenceHandler) GetOnlineUsers(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", validation.OnlineUsersLimit())

	resp, err := h.presenceService.GetOnlineUsers(limit)
	if err != nil {
		return httpx.Internal(c, "online_users_failed")
	}
	return c.JSON(resp)
}

// GetConnected reports the transport-level view: whether the user has a
// live realtime connection right now. This population differs from the
// durable one and the two are not reconciled here.
func (h *PresenceHandler) GetConnected(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("user_id"), 10, 32)
	if err != nil || !validation.ValidateUserID(uint(userID)) {
		return httpx.BadRequest(c, "invalid_user_id", "Invalid user id")
	}

	return c.JSON(fiber.Map{
		"user_id":   uint(userID),
		"connected": h.aggregator.IsOnline(uint(userID)),
	})
}

// Heartbeat is the socketless liveness assertion for the calling user.
func (h *PresenceHandler) Heartbeat(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "missing_identity", "Missing user identity")
	}

	if err := h.presenceService.Heartbeat(userID); err != nil {
		return httpx.Internal(c, "heartbeat_failed")
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// Offline is the explicit retraction path (logout).
func (h *PresenceHandler) Offline(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "missing_identity", "Missing user identity")
	}

	if err := h.presenceService.SetOffline(userID); err != nil {
		return httpx.Internal(c, "offline_failed")
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
