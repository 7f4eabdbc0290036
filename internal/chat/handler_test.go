package chat

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rx3lixir/mapchat/internal/auth"
)

type apiClient struct {
	t      *testing.T
	router http.Handler
}

func newAPI(t *testing.T) (*apiClient, *fixture) {
	t.Helper()
	f := newFixture(t, Options{})
	h := NewHandler(f.svc, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Second, false)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if id := req.Header.Get("X-User"); id != "" {
				req = req.WithContext(auth.WithUser(req.Context(), id, "name-"+id))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/api/rooms", h.RegisterRoutes)

	return &apiClient{t: t, router: r}, f
}

func (c *apiClient) do(method, path, user string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if user != "" {
		req.Header.Set("X-User", user)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHandlerRoomLifecycle(t *testing.T) {
	api, _ := newAPI(t)

	rec := api.do(http.MethodPost, "/api/rooms/", "A", CreateRoomRequest{Name: "general", Members: []string{"B"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	room := decode[Room](t, rec)
	assert.Equal(t, []string{"A", "B"}, room.Members)

	base := "/api/rooms/" + room.ID

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, base, "B", nil).Code)
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodGet, base, "C", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, base, "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/rooms/not-a-uuid", "A", nil).Code)

	rec = api.do(http.MethodGet, "/api/rooms/", "B", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[RoomPage](t, rec)
	require.Len(t, page.Rooms, 1)
	assert.Equal(t, room.ID, page.Rooms[0].ID)

	assert.Equal(t, http.StatusForbidden, api.do(http.MethodDelete, base, "B", nil).Code)
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, base, "A", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, base, "A", nil).Code)
}

func TestHandlerMessages(t *testing.T) {
	api, f := newAPI(t)
	room := f.room(t, "A", NewRoom{Name: "general", Members: []string{"A", "B"}})
	base := "/api/rooms/" + room.ID + "/messages"

	rec := api.do(http.MethodPost, base, "A", SendMessageRequest{Text: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[Message](t, rec)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, StatusSent, msg.Status)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, base, "A", SendMessageRequest{Text: " "}).Code)
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodPost, base, "C", SendMessageRequest{Text: "hi"}).Code)

	rec = api.do(http.MethodGet, base+"?limit=10", "B", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[MessagePage](t, rec)
	require.Len(t, page.Messages, 1)
	assert.False(t, page.HasMore)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, base+"?limit=ten", "B", nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, base+"?cursor=%21%21", "B", nil).Code)

	rec = api.do(http.MethodPatch, base+"/"+msg.ID, "A", EditMessageRequest{Text: "hello!"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[Message](t, rec).IsEdited)

	rec = api.do(http.MethodPost, base+"/"+msg.ID+"/reactions", "B", ReactionRequest{Emoji: "🔥"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"B"}, decode[Message](t, rec).Reactions["🔥"])

	assert.Equal(t, http.StatusNoContent, api.do(http.MethodPost, "/api/rooms/"+room.ID+"/read", "B", MarkAsReadRequest{MessageIDs: []string{msg.ID}}).Code)
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodDelete, base+"/"+msg.ID, "B", nil).Code)
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, base+"/"+msg.ID, "A", nil).Code)
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, base+"/"+msg.ID, "A", nil).Code)
}

func TestHandlerReadOnlyRoom(t *testing.T) {
	api, f := newAPI(t)
	room := f.room(t, "A", NewRoom{Name: "news", IsPublic: true, ReadOnly: true})

	rec := api.do(http.MethodPost, "/api/rooms/"+room.ID+"/messages", "B", SendMessageRequest{Text: "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "read-only")
}

func TestHandlerTyping(t *testing.T) {
	api, f := newAPI(t)
	room := f.room(t, "A", NewRoom{Name: "general", Members: []string{"A", "B"}})

	rec := api.do(http.MethodPut, "/api/rooms/"+room.ID+"/typing", "B", TypingRequest{Typing: true})
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := f.svc.GetRoom(t.Context(), room.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"B": "name-B"}, got.TypingUsers)
}

func TestHandlerUploadAttachment(t *testing.T) {
	api, f := newAPI(t)
	room := f.room(t, "A", NewRoom{Name: "general", Members: []string{"A"}})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "summit.jpg")
	require.NoError(t, err)
	_, err = io.Copy(part, strings.NewReader("jpeg bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/rooms/"+room.ID+"/attachments", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User", "A")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	att := decode[Attachment](t, rec)
	assert.Equal(t, "summit.jpg", att.Name)
	assert.Equal(t, "image/jpeg", att.Type)
	assert.Equal(t, int64(len("jpeg bytes")), att.Size)
}
