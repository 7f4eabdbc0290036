package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAccessToken(t *testing.T) {
	svc := NewService("secret")

	token, err := svc.GenerateAccessToken("u1", "Ann", time.Minute)
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "Ann", claims.Username)

	_, err = NewService("other").ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := svc.GenerateAccessToken("u1", "Ann", -time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	anonymous, err := svc.GenerateAccessToken("", "Ann", time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(anonymous)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	svc := NewService("secret")
	token, err := svc.GenerateAccessToken("u1", "Ann", time.Minute)
	require.NoError(t, err)

	var gotUser, gotName string
	h := Middleware(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserID(r.Context())
		gotName = GetUsername(r.Context())
	}))

	tests := []struct {
		name       string
		header     string
		target     string
		wantStatus int
	}{
		{"bearer header", "Bearer " + token, "/", http.StatusOK},
		{"query token", "", "/ws?token=" + token, http.StatusOK},
		{"missing", "", "/", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, "/", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "/", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser, gotName = "", ""
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "u1", gotUser)
				assert.Equal(t, "Ann", gotName)
			}
		})
	}
}
