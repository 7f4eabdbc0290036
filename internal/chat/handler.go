package chat

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rx3lixir/mapchat/internal/auth"
	"github.com/rx3lixir/mapchat/pkg/httputil"
)

const maxUploadSize = 10 * 1024 * 1024 // 10MB

type Handler struct {
	svc       *Service
	log       *slog.Logger
	dbTimeout time.Duration
	markRead  bool
}

// NewHandler builds the HTTP handler. markRead makes message listings
// mark the returned page as read for the caller.
func NewHandler(svc *Service, log *slog.Logger, dbTimeout time.Duration, markRead bool) *Handler {
	if dbTimeout == 0 {
		dbTimeout = time.Second * 5
	}
	return &Handler{svc, log, dbTimeout, markRead}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", httputil.Handler(h.HandleCreateRoom, h.log))
	r.Get("/", httputil.Handler(h.HandleListRooms, h.log))
	r.Get("/{roomID}", httputil.Handler(h.HandleGetRoom, h.log))
	r.Delete("/{roomID}", httputil.Handler(h.HandleDeleteRoom, h.log))

	r.Post("/{roomID}/members", httputil.Handler(h.HandleAddMember, h.log))
	r.Delete("/{roomID}/members/{memberID}", httputil.Handler(h.HandleRemoveMember, h.log))

	r.Get("/{roomID}/messages", httputil.Handler(h.HandleListMessages, h.log))
	r.Post("/{roomID}/messages", httputil.Handler(h.HandleSendMessage, h.log))
	r.Patch("/{roomID}/messages/{messageID}", httputil.Handler(h.HandleEditMessage, h.log))
	r.Delete("/{roomID}/messages/{messageID}", httputil.Handler(h.HandleDeleteMessage, h.log))
	r.Post("/{roomID}/messages/{messageID}/reactions", httputil.Handler(h.HandleToggleReaction, h.log))

	r.Post("/{roomID}/read", httputil.Handler(h.HandleMarkAsRead, h.log))
	r.Put("/{roomID}/typing", httputil.Handler(h.HandleSetTyping, h.log))
	r.Post("/{roomID}/attachments", httputil.Handler(h.HandleUploadAttachment, h.log))
}

func (h *Handler) dbCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.dbTimeout)
}

func actor(r *http.Request) (string, error) {
	id := auth.GetUserID(r.Context())
	if id == "" {
		return "", httputil.Unauthorized("Unauthorized")
	}
	return id, nil
}

func roomParam(r *http.Request) (string, error) {
	id, err := httputil.ParseUUID(r, "roomID")
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func pagination(r *http.Request) (Pagination, CacheOptions, error) {
	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		return Pagination{}, CacheOptions{}, err
	}
	page := Pagination{Limit: limit, Cursor: r.URL.Query().Get("cursor")}
	return page, CacheOptions{Bypass: httputil.QueryBool(r, "fresh")}, nil
}

func (h *Handler) HandleCreateRoom(w http.ResponseWriter, r *http.Request) error {
	actorID, err := actor(r)
	if err != nil {
		return err
	}

	req := new(CreateRoomRequest)
	if err := httputil.DecodeJSON(r, req); err != nil {
		return err
	}

	ctx, cancel := h.dbCtx(r)
	defer cancel()

	room, err := h.svc.CreateRoom(ctx, actorID, NewRoom{
		Name:     req.Name,
		IsPublic: req.IsPublic,
		ReadOnly: req.ReadOnly,
		Members:  req.Members,
		Admins:   req.Admins,
	})
	if err != nil {
		return err
	}

	return httputil.RespondJSON(w, http.StatusCreated, room)
}

// HandleListRooms lists the caller's rooms, or every public room with
// ?public=true
func (h *Handler) HandleListRooms(w http.ResponseWriter, r *http.Request) error {
	actorID, err := actor(r)
	if err != nil {
		return err
	}
	page, opts, err := pagination(r)
	if err != nil {
		return err
	}

	q := r.URL.Query()
	sort := RoomSort{Field: q.Get("sort"), Desc: q.Get("order") == "desc"}
	if q.Get("order") == "" && (sort.Field == "" || sort.Field == SortActivity) {
		// most recently active first
		sort.Desc = true
	}
	filter := RoomFilter{Sort: sort}
	if httputil.QueryBool(r, "public") {
		filter.PublicOnly = true
	} else {
		filter.MemberID = actorID
	}

	ctx, cancel := h.dbCtx(r)
	defer cancel()

	rooms, err := h.svc.ListRooms(ctx, filter, page, opts)
	if err != nil {
		return err
	}

	h.log.Debug("rooms listed",
		"user_id", actorID,
		"count", len(rooms.Rooms),
		"from_cache", rooms.FromCache)

	return httputil.RespondJSON(w, http.StatusOK, rooms)
}

func (h *Handler) HandleGetRoom(w http.ResponseWriter, r *http.Request) error {
	actorID, err := actor(r)
	if err != nil {
		return err
	}
	roomID, err := roomParam(r)
	if err != nil {
		return err
	}

	ctx, cancel := h.dbCtx(r)
	defer cancel()

	room, err := h.svc.GetRoom(ctx, roomID, actorID)
	if err != nil {
		return err
	}
	return httputil.RespondJSON(w, http.StatusOK, room)
}

func (h *Handler) HandleDeleteRoom(w http.ResponseWriter, r *http.Request) error {
	actorID, err := actor(r)
	if err != nil {
		return err
	}
	roomID, err := roomParam(r)
	if err != nil {
		return err
	}

	// deleting a large room spans many batches
	ctx, cancel := context.WithTimeout(r.Context(), 4*h.dbTimeout)
	defer cancel()

	if err := h.svc.DeleteRoom(ctx, roomID, actorID); err != nil {
		return err
	}

	return httputil.NoContent(w)
}

func (h *Handler) HandleAddMember(w http.ResponseWriter, r *http.Request) error {
	actorID, err := actor(r)
	if err != nil {
		return err
	}
	roomID, err := roomParam(r)
	if err != nil {
		return err
	}

	req := new(AddMemberRequest)
	if err := httputil.DecodeJSON(r, req); err != nil {
		return err
	}
	if req.UserID == "" {
		return httputil.BadRequest("user_id is required")
	}

	ctx, cancel := h.dbCtx(r)
	defer cancel()

	room, err := h.svc.AddMember(ctx, roomID, actorID, req.UserID)
	if err != nil {
		return err
	}
	return httputil.RespondJSON(w, http.StatusOK, room)
}

func (h *Handler) HandleRemoveMember(w http.ResponseWriter, r *http.Request) error {
	actorID, err := actor(r)
	if err != nil {
		return err
	}
	roomID, err := roomParam(r)
	if err != nil {
		return err
	}
	memberID := chi.URLParam(r, "memberID")

	ctx, cancel := h.dbCtx(r)
	defer cancel()

	if err := h.svc.RemoveMember(ctx, roomID, actorID, memberID); err != nil {
		return err
	}

	return httputil.NoContent(w)
}

func (h *Handler) HandleListMessages(w http.ResponseWriter, r *http.Request) error {
	actorID, err := actor(r)
	if err != nil {
		return err
	}
	roomID, err := roomParam(r)
	if err != nil {
		return err
	}
	page, opts, err := pagination(r)
	if err != nil {
		return err
	}
	opts.MarkAsRead = h.markRead

	ctx, cancel := h.dbCtx(r)
	defer cancel()

	msgs, err := h.svc.ListMessages(ctx, roomID, actorID, page, opts)
	if err != nil {
		return err
	}
	return httputil.RespondJSON(w, http.StatusOK, msgs)
}

func (h *Handler) HandleSendMessage(w http.ResponseWriter, r *http.Request) error {
	actorID, err := actor(r)
	if err != nil {
		return err
	}
	roomID, err := roomParam(r)
	if err != nil {
		return err
	}

	req := new(SendMessageRequest)
	if err := httputil.DecodeJSON(r, req); err != nil {
		return err
	}

	ctx, cancel := h.dbCtx(r)
	defer cancel()

	msg, err := h.svc.SendMessage(ctx, roomID, actorID, Content{Text: req.Text, Attachments: req.Attachments})
	if err != nil {
		return err
	}
	return httputil.RespondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) HandleEditMessage(w http.ResponseWriter, r *http.Request) error {
	actorID, err := actor(r)
	if err != nil {
		return err
	}
	roomID, err := roomParam(r)
	if err != nil {
		return err
	}
	messageID, err := httputil.ParseUUID(r, "messageID")
	if err != nil {
		return err
	}

	req := new(EditMessageRequest)
	if err := httputil.DecodeJSON(r, req); err != nil {
		return err
	}

	ctx, cancel := h.dbCtx(r)
	defer cancel()

	msg, err := h.svc.EditMessage(ctx, roomID, actorID, messageID.String(), req.Text)
	if err != nil {
		return err
	}
	return httputil.RespondJSON(w, http.StatusOK, msg)
}

func (h *Handler) HandleDeleteMessage(w http.ResponseWriter, r *http.Request) error {
	actorID, err := actor(r)
	if err != nil {
		return err
	}
	roomID, err := roomParam(r)
	if err != nil {
		return err
	}
	messageID, err := httputil.ParseUUID(r, "messageID")
	if err != nil {
		return err
	}

	ctx, cancel := h.dbCtx(r)
	defer cancel()

	if err := h.svc.DeleteMessage(ctx, roomID, actorID, messageID.String()); err != nil {
		return err
	}

	return httputil.NoContent(w)
}

func (h *Handler) HandleToggleReaction(w http.ResponseWriter, r *http.Request) error {
	actorID, err := actor(r)
	if err != nil {
		return err
	}
	roomID, err := roomParam(r)
	if err != nil {
		return err
	}
	messageID, err := httputil.ParseUUID(r, "messageID")
	if err != nil {
		return err
	}

	req := new(ReactionRequest)
	if err := httputil.DecodeJSON(r, req); err != nil {
		return err
	}

	ctx, cancel := h.dbCtx(r)
	defer cancel()

	msg, err := h.svc.ToggleReaction(ctx, roomID, actorID, messageID.String(), req.Emoji)
	if err != nil {
		return err
	}
	return httputil.RespondJSON(w, http.StatusOK, msg)
}

func (h *Handler) HandleMarkAsRead(w http.ResponseWriter, r *http.Request) error {
	actorID, err := actor(r)
	if err != nil {
		return err
	}
	roomID, err := roomParam(r)
	if err != nil {
		return err
	}

	req := new(MarkAsReadRequest)
	if err := httputil.DecodeJSON(r, req); err != nil {
		return err
	}

	ctx, cancel := h.dbCtx(r)
	defer cancel()

	if err := h.svc.MarkAsRead(ctx, roomID, actorID, req.MessageIDs); err != nil {
		return err
	}

	return httputil.NoContent(w)
}

func (h *Handler) HandleSetTyping(w http.ResponseWriter, r *http.Request) error {
	actorID, err := actor(r)
	if err != nil {
		return err
	}
	roomID, err := roomParam(r)
	if err != nil {
		return err
	}

	req := new(TypingRequest)
	if err := httputil.DecodeJSON(r, req); err != nil {
		return err
	}

	ctx, cancel := h.dbCtx(r)
	defer cancel()

	if err := h.svc.SetTyping(ctx, roomID, actorID, auth.GetUsername(r.Context()), req.Typing); err != nil {
		return err
	}

	return httputil.NoContent(w)
}

// HandleUploadAttachment stores the multipart "file" field and returns
// the attachment to reference from a message
func (h *Handler) HandleUploadAttachment(w http.ResponseWriter, r *http.Request) error {
	actorID, err := actor(r)
	if err != nil {
		return err
	}
	roomID, err := roomParam(r)
	if err != nil {
		return err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return httputil.BadRequest("File too large or data is invalid")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return httputil.BadRequest("file is required")
	}
	defer file.Close()

	h.log.Debug("uploading attachment",
		"room_id", roomID,
		"sender_id", actorID,
		"size_bytes", header.Size,
		"name", header.Filename)

	ctx, cancel := context.WithTimeout(r.Context(), 2*h.dbTimeout)
	defer cancel()

	att, err := h.svc.UploadAttachment(ctx, roomID, actorID, header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		return err
	}
	return httputil.RespondJSON(w, http.StatusCreated, att)
}
