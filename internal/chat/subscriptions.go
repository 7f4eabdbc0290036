package chat

import (
	"context"

	"github.com/rx3lixir/mapchat/internal/docstore"
	"github.com/rx3lixir/mapchat/internal/listener"
	"github.com/rx3lixir/mapchat/internal/syncerr"
)

func messagesResource(roomID string) string { return "messages:" + roomID }
func typingResource(roomID string) string   { return "typing:" + roomID }

// SubscribeMessages delivers the room's live messages, oldest first, now
// and after every change. A previous subscription of the same scope to the
// same room is replaced. onError fires once if the push channel fails,
// after which nothing more is delivered until the caller subscribes again.
func (s *Service) SubscribeMessages(scopeID, roomID string, onChange func([]Message), onError func(error)) (*listener.Handle, error) {
	const op = "chat.SubscribeMessages"

	if scopeID == "" || roomID == "" {
		return nil, syncerr.New(syncerr.KindValidation, op, ErrMissingIdentifiers)
	}
	if onChange == nil {
		return nil, syncerr.Validation(op, "onChange callback is required")
	}

	q := docstore.Query{
		Collection: messagesCollection,
		OrderBy:    docstore.CreateTimeField,
	}.Where(fRoomID, docstore.OpEq, roomID)

	run := func(ctx context.Context) error {
		snaps, err := s.store.Watch(ctx, q)
		if err != nil {
			return syncerr.Provider(op, err)
		}
		for snap := range snaps {
			// a snapshot buffered before teardown is stale
			if ctx.Err() != nil {
				return nil
			}
			if snap.Err != nil {
				return syncerr.Provider(op, snap.Err)
			}

			msgs := make([]Message, 0, len(snap.Docs))
			for _, doc := range snap.Docs {
				m := messageFromDoc(doc)
				if !m.IsDeleted {
					msgs = append(msgs, m)
				}
			}

			s.cache.Invalidate(messagesNamespace(roomID), "")
			onChange(msgs)
		}
		return nil
	}

	h, err := s.listeners.Subscribe(scopeID, messagesResource(roomID), run, onError)
	if err != nil {
		return nil, syncerr.New(syncerr.KindProvider, op, err)
	}
	return h, nil
}

// SubscribeTyping delivers the room's typing map (actor id to display
// name) now and after every change to the room.
func (s *Service) SubscribeTyping(scopeID, roomID string, onChange func(map[string]string)) (*listener.Handle, error) {
	const op = "chat.SubscribeTyping"

	if scopeID == "" || roomID == "" {
		return nil, syncerr.New(syncerr.KindValidation, op, ErrMissingIdentifiers)
	}
	if onChange == nil {
		return nil, syncerr.Validation(op, "onChange callback is required")
	}

	q := docstore.Query{Collection: roomsCollection}.Where(docstore.IDField, docstore.OpEq, roomID)

	run := func(ctx context.Context) error {
		snaps, err := s.store.Watch(ctx, q)
		if err != nil {
			return syncerr.Provider(op, err)
		}
		for snap := range snaps {
			// a snapshot buffered before teardown is stale
			if ctx.Err() != nil {
				return nil
			}
			if snap.Err != nil {
				return syncerr.Provider(op, snap.Err)
			}

			typing := map[string]string{}
			if len(snap.Docs) > 0 {
				typing = snap.Docs[0].StringMap(fTypingUsers)
			}

			s.cache.Invalidate(roomsNamespace, "")
			onChange(typing)
		}
		return nil
	}

	onError := func(err error) {
		s.log.Warn("typing subscription ended", "scope", scopeID, "room_id", roomID, "error", err)
	}

	h, err := s.listeners.Subscribe(scopeID, typingResource(roomID), run, onError)
	if err != nil {
		return nil, syncerr.New(syncerr.KindProvider, op, err)
	}
	return h, nil
}

func (s *Service) UnsubscribeMessages(scopeID, roomID string) {
	s.listeners.Unsubscribe(scopeID, messagesResource(roomID))
}

func (s *Service) UnsubscribeTyping(scopeID, roomID string) {
	s.listeners.Unsubscribe(scopeID, typingResource(roomID))
}

// UnsubscribeAll ends every subscription of a consumer session
func (s *Service) UnsubscribeAll(scopeID string) {
	s.listeners.UnsubscribeAll(scopeID)
}

// SetTyping records or clears the actor's typing indicator on the room
func (s *Service) SetTyping(ctx context.Context, roomID, actorID, displayName string, isTyping bool) error {
	const op = "chat.SetTyping"

	if actorID == "" {
		return syncerr.New(syncerr.KindValidation, op, ErrMissingIdentifiers)
	}
	room, err := s.loadRoom(ctx, op, roomID)
	if err != nil {
		return err
	}
	if err := s.gate.Check(room.gateView(), actorID, true); err != nil {
		return err
	}

	var value any = docstore.DeleteField
	if isTyping {
		if displayName == "" {
			displayName = actorID
		}
		value = displayName
	}

	err = s.store.Commit(ctx, []docstore.Write{docstore.Update(roomsCollection, roomID, docstore.Fields{
		docstore.Path(fTypingUsers, actorID): value,
	})})
	if err != nil {
		return s.storeErr(op, err, "room_id", roomID)
	}
	s.cache.Invalidate(roomsNamespace, "")
	return nil
}
