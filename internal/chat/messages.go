package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/rx3lixir/mapchat/internal/background"
	"github.com/rx3lixir/mapchat/internal/batch"
	"github.com/rx3lixir/mapchat/internal/docstore"
	"github.com/rx3lixir/mapchat/internal/metrics"
	"github.com/rx3lixir/mapchat/internal/notify"
	"github.com/rx3lixir/mapchat/internal/syncerr"
	"github.com/rx3lixir/mapchat/pkg/mediatype"
)

// SendMessage stores a new message and moves the room summary to it in one
// atomic unit. When the write fails the returned message carries
// StatusFailed next to the error so callers can keep showing it.
func (s *Service) SendMessage(ctx context.Context, roomID, actorID string, content Content) (*Message, error) {
	const op = "chat.SendMessage"

	if actorID == "" {
		return nil, syncerr.New(syncerr.KindValidation, op, ErrMissingIdentifiers)
	}
	room, err := s.loadRoom(ctx, op, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Check(room.gateView(), actorID, true); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(content.Text)
	if text == "" && len(content.Attachments) == 0 {
		return nil, syncerr.New(syncerr.KindValidation, op, ErrEmptyMessage)
	}

	attachments := content.Attachments
	if attachments == nil {
		attachments = []Attachment{}
	}
	msg := &Message{
		ID:          docstore.NewID(),
		RoomID:      roomID,
		SenderID:    actorID,
		Text:        text,
		Attachments: attachments,
		Reactions:   map[string][]string{},
		ReadBy:      []string{actorID},
		CreatedAt:   time.Now().UTC(),
		Status:      StatusSent,
	}
	msg.UpdatedAt = msg.CreatedAt

	w := batch.New(s.store, s.batchLimit)
	w.Create(messagesCollection, msg.ID, docstore.Fields{
		fRoomID:      roomID,
		fSenderID:    actorID,
		fText:        text,
		fAttachments: attachments,
		fReactions:   map[string]any{},
		fReadBy:      []string{actorID},
		fIsEdited:    false,
		fIsDeleted:   false,
	})
	summary := docstore.Fields{
		fLastMessage:       preview(text, attachments),
		fLastMessageID:     msg.ID,
		fLastMessageSender: actorID,
		fLastMessageTime:   docstore.ServerTimestamp,
		fMessageCount:      docstore.Increment(1),
	}
	// sending ends the sender's typing indicator
	summary[docstore.Path(fTypingUsers, actorID)] = docstore.DeleteField
	w.Update(roomsCollection, roomID, summary)

	if err := w.Commit(ctx); err != nil {
		metrics.MessagesSent.WithLabelValues(string(StatusFailed)).Inc()
		s.log.Error("failed to send message",
			"room_id", roomID,
			"sender_id", actorID,
			"error", err,
		)
		msg.Status = StatusFailed
		return msg, syncerr.Provider(op, err)
	}
	metrics.MessagesSent.WithLabelValues(string(StatusSent)).Inc()
	s.invalidateRoom(roomID)

	if doc, err := s.store.Get(ctx, messagesCollection, msg.ID); err == nil {
		stored := messageFromDoc(doc)
		msg = &stored
	} else {
		s.log.Warn("failed to reload sent message", "message_id", msg.ID, "error", err)
	}

	s.log.Debug("message sent",
		"room_id", roomID,
		"message_id", msg.ID,
		"sender_id", actorID,
	)

	s.queueNotifications(room, msg)
	return msg, nil
}

func (s *Service) queueNotifications(room *Room, msg *Message) {
	recipients := make([]string, 0, len(room.Members))
	for _, id := range room.Members {
		if id != msg.SenderID {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return
	}

	n := notify.Notification{
		Type:      notify.TypeNewMessage,
		RoomID:    room.ID,
		RoomName:  room.Name,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Preview:   preview(msg.Text, msg.Attachments),
		CreatedAt: msg.CreatedAt,
	}

	s.enqueue(background.Task{
		Name: "notify:" + msg.ID,
		Run: func(ctx context.Context) error {
			var errs []error
			for _, id := range recipients {
				if err := s.publisher.Publish(ctx, id, n); err != nil {
					metrics.NotificationsPublished.WithLabelValues("error").Inc()
					errs = append(errs, fmt.Errorf("recipient %s: %w", id, err))
					continue
				}
				metrics.NotificationsPublished.WithLabelValues("ok").Inc()
			}
			return errors.Join(errs...)
		},
	})
}

// EditMessage replaces the text of the actor's own message
func (s *Service) EditMessage(ctx context.Context, roomID, actorID, messageID, newText string) (*Message, error) {
	const op = "chat.EditMessage"

	msg, err := s.loadMessage(ctx, op, roomID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != actorID {
		return nil, syncerr.AccessDenied(op, "only the sender can edit a message")
	}
	if msg.IsDeleted {
		return nil, syncerr.New(syncerr.KindValidation, op, ErrMessageDeleted)
	}
	text := strings.TrimSpace(newText)
	if text == "" && len(msg.Attachments) == 0 {
		return nil, syncerr.New(syncerr.KindValidation, op, ErrEmptyMessage)
	}

	room, err := s.loadRoom(ctx, op, roomID)
	if err != nil {
		return nil, err
	}

	w := batch.New(s.store, s.batchLimit)
	w.Update(messagesCollection, messageID, docstore.Fields{
		fText:     text,
		fIsEdited: true,
	})
	if room.LastMessageID == messageID {
		w.Update(roomsCollection, roomID, docstore.Fields{
			fLastMessage: preview(text, msg.Attachments),
		})
	}
	if err := w.Commit(ctx); err != nil {
		return nil, s.storeErr(op, err, "message_id", messageID)
	}
	s.invalidateRoom(roomID)

	doc, err := s.store.Get(ctx, messagesCollection, messageID)
	if err != nil {
		return nil, s.storeErr(op, err, "message_id", messageID)
	}
	updated := messageFromDoc(doc)
	return &updated, nil
}

// DeleteMessage tombstones the actor's own message. Deleting an already
// deleted message succeeds without writing anything.
func (s *Service) DeleteMessage(ctx context.Context, roomID, actorID, messageID string) error {
	const op = "chat.DeleteMessage"

	msg, err := s.loadMessage(ctx, op, roomID, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != actorID {
		return syncerr.AccessDenied(op, "only the sender can delete a message")
	}
	if msg.IsDeleted {
		return nil
	}

	room, err := s.loadRoom(ctx, op, roomID)
	if err != nil {
		return err
	}

	w := batch.New(s.store, s.batchLimit)
	w.Update(messagesCollection, messageID, docstore.Fields{
		fIsDeleted:   true,
		fText:        deletedPlaceholder,
		fAttachments: []Attachment{},
	})

	if room.LastMessageID == messageID {
		summary, err := s.summaryWithout(ctx, op, room, messageID)
		if err != nil {
			return err
		}
		w.Update(roomsCollection, roomID, summary)
	}

	if err := w.Commit(ctx); err != nil {
		return s.storeErr(op, err, "message_id", messageID)
	}
	metrics.MessagesDeleted.Inc()
	s.invalidateRoom(roomID)

	s.log.Debug("message deleted", "room_id", roomID, "message_id", messageID)
	return nil
}

// summaryWithout computes the room summary fields from the newest live
// message other than skipID, or clears the summary when none is left.
func (s *Service) summaryWithout(ctx context.Context, op string, room *Room, skipID string) (docstore.Fields, error) {
	q := docstore.Query{
		Collection: messagesCollection,
		OrderBy:    docstore.CreateTimeField,
		Desc:       true,
		Limit:      2,
	}.Where(fRoomID, docstore.OpEq, room.ID).Where(fIsDeleted, docstore.OpEq, false)

	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, s.storeErr(op, err, "room_id", room.ID)
	}

	for _, doc := range docs {
		if doc.ID == skipID {
			continue
		}
		latest := messageFromDoc(doc)
		return docstore.Fields{
			fLastMessage:       preview(latest.Text, latest.Attachments),
			fLastMessageID:     latest.ID,
			fLastMessageSender: latest.SenderID,
			fLastMessageTime:   latest.CreatedAt,
		}, nil
	}

	return docstore.Fields{
		fLastMessage:       "",
		fLastMessageID:     "",
		fLastMessageSender: "",
		fLastMessageTime:   room.CreatedAt,
	}, nil
}

// ToggleReaction adds the actor to a reaction, or removes them if present
func (s *Service) ToggleReaction(ctx context.Context, roomID, actorID, messageID, emoji string) (*Message, error) {
	const op = "chat.ToggleReaction"

	if emoji == "" {
		return nil, syncerr.Validation(op, "emoji is required")
	}
	room, err := s.loadRoom(ctx, op, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Check(room.gateView(), actorID, false); err != nil {
		return nil, err
	}
	msg, err := s.loadMessage(ctx, op, roomID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, syncerr.New(syncerr.KindValidation, op, ErrMessageDeleted)
	}

	change := docstore.ArrayUnion(actorID)
	if slices.Contains(msg.Reactions[emoji], actorID) {
		change = docstore.ArrayRemove(actorID)
	}

	w := batch.New(s.store, s.batchLimit)
	w.Update(messagesCollection, messageID, docstore.Fields{
		docstore.Path(fReactions, emoji): change,
	})
	if err := w.Commit(ctx); err != nil {
		return nil, s.storeErr(op, err, "message_id", messageID)
	}
	s.cache.Invalidate(messagesNamespace(roomID), "")

	doc, err := s.store.Get(ctx, messagesCollection, messageID)
	if err != nil {
		return nil, s.storeErr(op, err, "message_id", messageID)
	}
	updated := messageFromDoc(doc)
	return &updated, nil
}

// MarkAsRead adds the actor to readBy of the given messages of a room.
// Ids of deleted messages, other rooms or already read messages are
// skipped.
func (s *Service) MarkAsRead(ctx context.Context, roomID, actorID string, messageIDs []string) error {
	const op = "chat.MarkAsRead"

	room, err := s.loadRoom(ctx, op, roomID)
	if err != nil {
		return err
	}
	if err := s.gate.Check(room.gateView(), actorID, false); err != nil {
		return err
	}

	w := batch.New(s.store, s.batchLimit)
	for _, id := range dedupe(messageIDs) {
		doc, err := s.store.Get(ctx, messagesCollection, id)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return s.storeErr(op, err, "message_id", id)
		}
		msg := messageFromDoc(doc)
		if msg.RoomID != roomID || msg.IsDeleted || slices.Contains(msg.ReadBy, actorID) {
			continue
		}
		w.Update(messagesCollection, id, docstore.Fields{fReadBy: docstore.ArrayUnion(actorID)})
	}

	if w.TotalOps() == 0 {
		return nil
	}
	err = w.Commit(ctx)
	// a partial failure may still have marked some messages
	s.cache.Invalidate(messagesNamespace(roomID), "")
	if err != nil {
		return s.storeErr(op, err, "room_id", roomID)
	}
	return nil
}

// queueMarkAsRead schedules a best-effort read receipt for the unread
// messages of a page; it never blocks the caller.
func (s *Service) queueMarkAsRead(roomID, actorID string, msgs []Message) {
	var unread []string
	for _, m := range msgs {
		if m.IsDeleted || m.SenderID == actorID || slices.Contains(m.ReadBy, actorID) {
			continue
		}
		unread = append(unread, m.ID)
	}
	if len(unread) == 0 {
		return
	}

	s.enqueue(background.Task{
		Name: "mark-read:" + roomID,
		Run: func(ctx context.Context) error {
			return s.MarkAsRead(ctx, roomID, actorID, unread)
		},
	})
}

// UploadAttachment stores a file for a later message and returns its
// descriptor. A blob whose message is never sent stays orphaned.
func (s *Service) UploadAttachment(ctx context.Context, roomID, actorID, name, contentType string, size int64, r io.Reader) (*Attachment, error) {
	const op = "chat.UploadAttachment"

	if s.files == nil {
		return nil, syncerr.New(syncerr.KindProvider, op, ErrFileStoreDisabled)
	}
	room, err := s.loadRoom(ctx, op, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Check(room.gateView(), actorID, true); err != nil {
		return nil, err
	}

	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return nil, syncerr.Validation(op, "file name is required")
	}
	if size <= 0 {
		return nil, syncerr.Validation(op, "file is empty")
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mediatype.FromName(name)
	}

	key := fmt.Sprintf("%s/%s/%s", roomID, docstore.NewID(), name)
	if err := s.files.Upload(ctx, key, r, size, contentType); err != nil {
		s.log.Error("failed to upload attachment", "room_id", roomID, "key", key, "error", err)
		return nil, syncerr.Provider(op, err)
	}

	url, err := s.files.PresignedURL(ctx, key)
	if err != nil {
		s.log.Error("failed to presign attachment", "key", key, "error", err)
		return nil, syncerr.Provider(op, err)
	}

	return &Attachment{URL: url, Name: name, Type: contentType, Size: size}, nil
}
