package websocket

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/rx3lixir/mapchat/internal/auth"
	"github.com/rx3lixir/mapchat/pkg/httputil"
)

type Handler struct {
	svc            ChatService
	hub            *Hub
	notifications  NotificationSource
	originPatterns []string
	log            *slog.Logger
}

// NewHandler builds the push endpoint. notifications may be nil.
func NewHandler(svc ChatService, hub *Hub, notifications NotificationSource, originPatterns []string, log *slog.Logger) *Handler {
	return &Handler{
		svc:            svc,
		hub:            hub,
		notifications:  notifications,
		originPatterns: originPatterns,
		log:            log,
	}
}

// ServeHTTP upgrades an authenticated request for ?room_id= and streams
// the room until the client goes away
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.serve(w, r); err != nil {
		httputil.RespondError(w, r, err, h.log)
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) error {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		return httputil.Unauthorized("Unauthorized")
	}

	roomIDStr := r.URL.Query().Get("room_id")
	if roomIDStr == "" {
		return httputil.BadRequest("room_id parameter required")
	}
	roomID, err := uuid.Parse(roomIDStr)
	if err != nil {
		return httputil.BadRequest("Invalid room_id format")
	}

	// subscriptions are not gated, so check access before upgrading
	if _, err := h.svc.GetRoom(r.Context(), roomID.String(), userID); err != nil {
		return err
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept has already written the response
		h.log.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return nil
	}

	client := newClient(uuid.NewString(), userID, auth.GetUsername(r.Context()), roomID.String(), conn, h.svc, h.log)
	if !h.hub.register(client) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return nil
	}
	defer h.hub.unregister(client)

	h.log.Info("websocket connection established",
		"user_id", userID,
		"room_id", roomID,
		"session_id", client.sessionID,
	)

	client.run(r.Context(), h.notifications)
	return nil
}
