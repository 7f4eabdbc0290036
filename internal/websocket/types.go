package websocket

import (
	"encoding/json"
)

// MessageType defines the type of message
type MessageType string

const (
	// Client -> Server
	TypePing        MessageType = "ping"
	TypeTyping      MessageType = "typing"
	TypeReadReceipt MessageType = "read_receipt"

	// Server -> Client
	TypePong              MessageType = "pong"
	TypeMessages          MessageType = "messages"
	TypeTypingUsers       MessageType = "typing_users"
	TypeNotification      MessageType = "notification"
	TypeSubscriptionEnded MessageType = "subscription_ended"
	TypeError             MessageType = "error"
	TypeConnectionAck     MessageType = "connection_ack"
)

// ClientMessage represents any message from client
type ClientMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerMessage represents any message to client
type ServerMessage struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// TypingData is the payload of a client typing event
type TypingData struct {
	Typing bool `json:"typing"`
}

// ReadReceiptData is the payload of a client read receipt
type ReadReceiptData struct {
	MessageIDs []string `json:"message_ids"`
}

// ConnectionAckData confirms a connection and names its session
type ConnectionAckData struct {
	SessionID string `json:"session_id"`
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`
}

// ErrorData represents an error message
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
