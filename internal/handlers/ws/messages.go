package ws

import (
	"fmt"

	"github.com/liveline/presence-engine/internal/service"
	"github.com/liveline/presence-engine/internal/validation"
)

// MessageVisibility reports a client-side visibility transition. Hidden
// suspends the session's liveness reporting, visible resumes it.
type MessageVisibility struct {
	State string `json:"state"` // "visible" or "hidden"
}

func (msg *MessageVisibility) GetType() string {
	return "visibility"
}

func (msg *MessageVisibility) Process(ctx *MessageContext) error {
	switch msg.State {
	case "hidden":
		ctx.Relay.Suspend()
	case "visible":
		ctx.Relay.Resume()
	default:
		return fmt.Errorf("unknown visibility state: %s", msg.State)
	}
	return nil
}

// MessageJoinConversation attaches the session's user to a conversation's
// typing channel. Typing state from that conversation starts flowing to the
// user as typing_state frames.
type MessageJoinConversation struct {
	ConversationID string `json:"conversation_id"`
}

func (msg *MessageJoinConversation) GetType() string {
	return "join_conversation"
}

func (msg *MessageJoinConversation) Process(ctx *MessageContext) error {
	conversationID := validation.NormalizeConversationID(msg.ConversationID)
	if !validation.ValidateConversationID(conversationID) {
		return fmt.Errorf("invalid conversation id")
	}

	return ctx.Typing.Join(ctx.Ctx, conversationID, ctx.UserID, typingForwarder(ctx.Hub, ctx.UserID))
}

// typingForwarder pushes a conversation's typing view to every session of
// the observing user, minus their own echo.
func typingForwarder(hub *Hub, userID uint) service.TypingObserver {
	return func(conversationID string, view service.TypingView) {
		typing := make(map[uint]bool, len(view))
		for id, state := range view {
			if id == userID {
				continue
			}
			typing[id] = state.Typing
		}
		hub.SendToUser(userID, map[string]interface{}{
			"type":            "typing_state",
			"conversation_id": conversationID,
			"typing":          typing,
		})
	}
}

// MessageLeaveConversation detaches the user from a conversation's typing
// channel.
type MessageLeaveConversation struct {
	ConversationID string `json:"conversation_id"`
}

func (msg *MessageLeaveConversation) GetType() string {
	return "leave_conversation"
}

func (msg *MessageLeaveConversation) Process(ctx *MessageContext) error {
	conversationID := validation.NormalizeConversationID(msg.ConversationID)
	if !validation.ValidateConversationID(conversationID) {
		return fmt.Errorf("invalid conversation id")
	}
	return ctx.Typing.Leave(ctx.Ctx, conversationID, ctx.UserID)
}

// MessageTyping publishes the user's typing flag into a conversation they
// previously joined.
type MessageTyping struct {
	ConversationID string `json:"conversation_id"`
	Typing         bool   `json:"typing"`
}

func (msg *MessageTyping) GetType() string {
	return "typing"
}

func (msg *MessageTyping) Process(ctx *MessageContext) error {
	conversationID := validation.NormalizeConversationID(msg.ConversationID)
	if !validation.ValidateConversationID(conversationID) {
		return fmt.Errorf("invalid conversation id")
	}
	return ctx.Typing.SetTyping(ctx.Ctx, conversationID, ctx.UserID, msg.Typing)
}
