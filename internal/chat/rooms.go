package chat

import (
	"context"
	"slices"
	"strings"

	"github.com/rx3lixir/mapchat/internal/access"
	"github.com/rx3lixir/mapchat/internal/batch"
	"github.com/rx3lixir/mapchat/internal/docstore"
	"github.com/rx3lixir/mapchat/internal/syncerr"
)

// CreateRoom creates a room owned by actorID. The creator always ends up
// a member and an admin, and every admin is made a member.
func (s *Service) CreateRoom(ctx context.Context, actorID string, req NewRoom) (*Room, error) {
	const op = "chat.CreateRoom"

	if actorID == "" {
		return nil, syncerr.New(syncerr.KindValidation, op, ErrMissingIdentifiers)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, syncerr.Validation(op, "room name is required")
	}

	admins := dedupe(append([]string{actorID}, req.Admins...))
	members := dedupe(append(append([]string{actorID}, req.Members...), admins...))

	id := docstore.NewID()
	err := s.store.Commit(ctx, []docstore.Write{docstore.Create(roomsCollection, id, docstore.Fields{
		fName:              name,
		fIsPublic:          req.IsPublic,
		fReadOnly:          req.ReadOnly,
		fMembers:           members,
		fAdmins:            admins,
		fLastMessage:       "",
		fLastMessageID:     "",
		fLastMessageSender: "",
		fLastMessageTime:   docstore.ServerTimestamp,
		fMessageCount:      0,
		fTypingUsers:       map[string]any{},
	})})
	if err != nil {
		return nil, s.storeErr(op, err, "actor_id", actorID)
	}
	s.cache.Invalidate(roomsNamespace, "")

	s.log.Info("room created",
		"room_id", id,
		"creator_id", actorID,
		"member_count", len(members),
	)

	return s.loadRoom(ctx, op, id)
}

// GetRoom returns a room the actor may read
func (s *Service) GetRoom(ctx context.Context, roomID, actorID string) (*Room, error) {
	const op = "chat.GetRoom"

	room, err := s.loadRoom(ctx, op, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Check(room.gateView(), actorID, false); err != nil {
		return nil, err
	}
	return room, nil
}

// AddMember adds memberID to the room. Only members may add people.
func (s *Service) AddMember(ctx context.Context, roomID, actorID, memberID string) (*Room, error) {
	const op = "chat.AddMember"

	if memberID == "" {
		return nil, syncerr.New(syncerr.KindValidation, op, ErrMissingIdentifiers)
	}
	room, err := s.loadRoom(ctx, op, roomID)
	if err != nil {
		return nil, err
	}
	if !s.gate.IsMember(room.gateView(), actorID) {
		return nil, syncerr.AccessDenied(op, "not a member of room "+roomID)
	}
	if slices.Contains(room.Members, memberID) {
		return room, nil
	}

	err = s.store.Commit(ctx, []docstore.Write{docstore.Update(roomsCollection, roomID, docstore.Fields{
		fMembers: docstore.ArrayUnion(memberID),
	})})
	if err != nil {
		return nil, s.storeErr(op, err, "room_id", roomID)
	}
	s.cache.Invalidate(roomsNamespace, "")

	s.log.Info("member added", "room_id", roomID, "member_id", memberID, "added_by", actorID)
	return s.loadRoom(ctx, op, roomID)
}

// RemoveMember removes memberID from the room. Members may remove
// themselves; removing someone else takes an admin.
func (s *Service) RemoveMember(ctx context.Context, roomID, actorID, memberID string) error {
	const op = "chat.RemoveMember"

	if memberID == "" {
		return syncerr.New(syncerr.KindValidation, op, ErrMissingIdentifiers)
	}
	room, err := s.loadRoom(ctx, op, roomID)
	if err != nil {
		return err
	}
	view := room.gateView()
	if !s.gate.IsMember(view, actorID) {
		return syncerr.AccessDenied(op, "not a member of room "+roomID)
	}
	if memberID != actorID && !access.IsAdmin(view, actorID) {
		return syncerr.AccessDenied(op, "only admins can remove other members")
	}

	fields := docstore.Fields{
		fMembers: docstore.ArrayRemove(memberID),
		fAdmins:  docstore.ArrayRemove(memberID),
	}
	fields[docstore.Path(fTypingUsers, memberID)] = docstore.DeleteField

	err = s.store.Commit(ctx, []docstore.Write{docstore.Update(roomsCollection, roomID, fields)})
	if err != nil {
		return s.storeErr(op, err, "room_id", roomID)
	}
	s.cache.Invalidate(roomsNamespace, "")

	s.log.Info("member removed", "room_id", roomID, "member_id", memberID, "removed_by", actorID)
	return nil
}

// DeleteRoom removes a room and all of its messages. Large rooms span
// several atomic units, so a failure can leave a prefix of the messages
// deleted; the room document goes last.
func (s *Service) DeleteRoom(ctx context.Context, roomID, actorID string) error {
	const op = "chat.DeleteRoom"

	room, err := s.loadRoom(ctx, op, roomID)
	if err != nil {
		return err
	}
	if !access.IsAdmin(room.gateView(), actorID) {
		return syncerr.AccessDenied(op, "only admins can delete room "+roomID)
	}

	w := batch.New(s.store, s.batchLimit)
	q := docstore.Query{
		Collection: messagesCollection,
		Limit:      docstore.MaxBatchWrites,
	}.Where(fRoomID, docstore.OpEq, roomID)
	for {
		docs, err := s.store.Query(ctx, q)
		if err != nil {
			return s.storeErr(op, err, "room_id", roomID)
		}
		for _, doc := range docs {
			w.Delete(messagesCollection, doc.ID)
		}
		if len(docs) < q.Limit {
			break
		}
		q.StartAfter = docstore.CursorAfter(q, docs[len(docs)-1])
	}
	w.Delete(roomsCollection, roomID)

	units := w.UnitCount()
	err = w.Commit(ctx)
	s.invalidateRoom(roomID)
	if err != nil {
		s.log.Error("room deletion incomplete", "room_id", roomID, "units", units, "error", err)
		return err
	}

	s.log.Info("room deleted", "room_id", roomID, "deleted_by", actorID, "units", units)
	return nil
}
