package chat

import (
	"time"

	"github.com/rx3lixir/mapchat/internal/access"
)

type Room struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	IsPublic          bool              `json:"is_public"`
	ReadOnly          bool              `json:"read_only"`
	Members           []string          `json:"members"`
	Admins            []string          `json:"admins"`
	LastMessage       string            `json:"last_message,omitempty"`
	LastMessageID     string            `json:"last_message_id,omitempty"`
	LastMessageSender string            `json:"last_message_sender,omitempty"`
	LastMessageTime   time.Time         `json:"last_message_time"`
	MessageCount      int64             `json:"message_count"`
	TypingUsers       map[string]string `json:"typing_users"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (r *Room) gateView() access.Room {
	return access.Room{
		ID:       r.ID,
		IsPublic: r.IsPublic,
		ReadOnly: r.ReadOnly,
		Members:  r.Members,
		Admins:   r.Admins,
	}
}

type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// MessageStatus is local delivery state, never stored
type MessageStatus string

const (
	StatusSent   MessageStatus = "sent"
	StatusFailed MessageStatus = "failed"
)

type Message struct {
	ID          string              `json:"id"`
	RoomID      string              `json:"room_id"`
	SenderID    string              `json:"sender_id"`
	Text        string              `json:"text"`
	Attachments []Attachment        `json:"attachments"`
	Reactions   map[string][]string `json:"reactions"`
	ReadBy      []string            `json:"read_by"`
	IsEdited    bool                `json:"is_edited"`
	IsDeleted   bool                `json:"is_deleted"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Status      MessageStatus       `json:"status,omitempty"`
}

// Content is what a sender supplies for a new message
type Content struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
}

type NewRoom struct {
	Name     string
	IsPublic bool
	ReadOnly bool
	Members  []string
	Admins   []string
}

// RoomSort names a room ordering. Field is one of SortActivity,
// SortCreated or SortName.
type RoomSort struct {
	Field string
	Desc  bool
}

const (
	SortActivity = "activity"
	SortCreated  = "created"
	SortName     = "name"
)

type RoomFilter struct {
	PublicOnly bool
	MemberID   string
	Sort       RoomSort
}

type Pagination struct {
	Limit  int
	Cursor string
}

type CacheOptions struct {
	// Bypass skips the cache lookup; the fresh result is still stored
	Bypass bool
	// MarkAsRead queues a read receipt for the returned messages
	MarkAsRead bool
}

type RoomPage struct {
	Rooms     []Room `json:"rooms"`
	HasMore   bool   `json:"has_more"`
	Cursor    string `json:"cursor,omitempty"`
	FromCache bool   `json:"from_cache"`
}

type MessagePage struct {
	Messages  []Message `json:"messages"`
	HasMore   bool      `json:"has_more"`
	Cursor    string    `json:"cursor,omitempty"`
	FromCache bool      `json:"from_cache"`
}

// HTTP request bodies

type CreateRoomRequest struct {
	Name     string   `json:"name"`
	IsPublic bool     `json:"is_public"`
	ReadOnly bool     `json:"read_only"`
	Members  []string `json:"members"`
	Admins   []string `json:"admins"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id"`
}

type SendMessageRequest struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
}

type EditMessageRequest struct {
	Text string `json:"text"`
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

type MarkAsReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

type TypingRequest struct {
	Typing bool `json:"typing"`
}
