package chat

import (
	"strings"

	"github.com/rx3lixir/mapchat/internal/docstore"
	"github.com/rx3lixir/mapchat/pkg/mediatype"
)

const (
	roomsCollection    = "rooms"
	messagesCollection = "messages"

	deletedPlaceholder = "This message was deleted"
	previewLength      = 120
)

// Document field names
const (
	fName              = "name"
	fIsPublic          = "isPublic"
	fReadOnly          = "readOnly"
	fMembers           = "members"
	fAdmins            = "admins"
	fLastMessage       = "lastMessage"
	fLastMessageID     = "lastMessageId"
	fLastMessageSender = "lastMessageSender"
	fLastMessageTime   = "lastMessageTime"
	fMessageCount      = "messageCount"
	fTypingUsers       = "typingUsers"

	fRoomID      = "roomId"
	fSenderID    = "senderId"
	fText        = "text"
	fAttachments = "attachments"
	fReactions   = "reactions"
	fReadBy      = "readBy"
	fIsEdited    = "isEdited"
	fIsDeleted   = "isDeleted"
)

func roomFromDoc(doc *docstore.Document) Room {
	members, ok := doc.Strings(fMembers)
	if !ok {
		members = nil
	}
	admins, _ := doc.Strings(fAdmins)

	return Room{
		ID:                doc.ID,
		Name:              doc.String(fName),
		IsPublic:          doc.Bool(fIsPublic),
		ReadOnly:          doc.Bool(fReadOnly),
		Members:           members,
		Admins:            admins,
		LastMessage:       doc.String(fLastMessage),
		LastMessageID:     doc.String(fLastMessageID),
		LastMessageSender: doc.String(fLastMessageSender),
		LastMessageTime:   doc.Time(fLastMessageTime),
		MessageCount:      doc.Int(fMessageCount),
		TypingUsers:       doc.StringMap(fTypingUsers),
		CreatedAt:         doc.CreateTime,
		UpdatedAt:         doc.UpdateTime,
	}
}

func messageFromDoc(doc *docstore.Document) Message {
	readBy, _ := doc.Strings(fReadBy)
	if readBy == nil {
		readBy = []string{}
	}

	reactions := doc.StringsMap(fReactions)
	for emoji, actors := range reactions {
		if len(actors) == 0 {
			delete(reactions, emoji)
		}
	}

	raw := doc.Objects(fAttachments)
	attachments := make([]Attachment, 0, len(raw))
	for _, a := range raw {
		att := Attachment{}
		att.URL, _ = a["url"].(string)
		att.Name, _ = a["name"].(string)
		att.Type, _ = a["type"].(string)
		if size, ok := a["size"].(float64); ok {
			att.Size = int64(size)
		}
		attachments = append(attachments, att)
	}

	return Message{
		ID:          doc.ID,
		RoomID:      doc.String(fRoomID),
		SenderID:    doc.String(fSenderID),
		Text:        doc.String(fText),
		Attachments: attachments,
		Reactions:   reactions,
		ReadBy:      readBy,
		IsEdited:    doc.Bool(fIsEdited),
		IsDeleted:   doc.Bool(fIsDeleted),
		CreatedAt:   doc.CreateTime,
		UpdatedAt:   doc.UpdateTime,
		Status:      StatusSent,
	}
}

// preview is the room summary line for a message
func preview(text string, attachments []Attachment) string {
	text = strings.TrimSpace(text)
	if text == "" && len(attachments) > 0 {
		text = "[" + mediatype.Category(attachments[0].Type) + "] " + attachments[0].Name
	}
	if r := []rune(text); len(r) > previewLength {
		text = string(r[:previewLength]) + "…"
	}
	return text
}

// dedupe drops empty and repeated ids, keeping first occurrence order
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
