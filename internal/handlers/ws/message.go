package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/gofiber/websocket/v2"
	"github.com/liveline/presence-engine/internal/lifecycle"
	"github.com/liveline/presence-engine/internal/service"
)

// MessageContext provides all dependencies needed for message processing
type MessageContext struct {
	Ctx       context.Context
	SessionID string
	UserID    uint
	Conn      *websocket.Conn
	Hub       *Hub
	Relay     *lifecycle.Relay
	Typing    *service.TypingChannels
}

// Message interface for all WebSocket message types
type Message interface {
	GetType() string
	Process(ctx *MessageContext) error
}

// SerializedMessage is the wire format wrapper
type SerializedMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorResponse is sent when message processing fails
type ErrorResponse struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func Serialize(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(SerializedMessage{Type: msg.GetType(), Payload: payload})
}

func Deserialize(jsonBytes []byte) (Message, error) {
	var wrapper SerializedMessage
	if err := json.Unmarshal(jsonBytes, &wrapper); err != nil {
		return nil, err
	}

	msg, err := CreateMessage(wrapper.Type, typeRegistry)
	if err != nil {
		return nil, err
	}

	if len(wrapper.Payload) > 0 {
		if err := json.Unmarshal(wrapper.Payload, msg); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func CreateMessage(msgType string, typeRegistry map[string]reflect.Type) (Message, error) {
	msgTypeReflect, ok := typeRegistry[msgType]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", msgType)
	}

	instance := reflect.New(msgTypeReflect).Interface()
	return instance.(Message), nil
}
