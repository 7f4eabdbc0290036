package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rx3lixir/mapchat/internal/auth"
	"github.com/rx3lixir/mapchat/internal/chat"
	"github.com/rx3lixir/mapchat/internal/websocket"
	"github.com/rx3lixir/mapchat/pkg/httputil"
)

type RouterConfig struct {
	ChatHandler    *chat.Handler
	WSHandler      *websocket.Handler
	AuthService    *auth.Service
	Log            *slog.Logger
	AllowedOrigins []string
	// Health reports whether the document store is reachable
	Health func(ctx context.Context) error
}

func NewRouter(config RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware block
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(config.Log))
	r.Use(middleware.Recoverer)
	r.Use(Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", httputil.Handler(healthHandler(config.Health), config.Log))
	r.Handle("/metrics", promhttp.Handler())

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(config.AuthService, config.Log))

		r.Route("/api/rooms", func(r chi.Router) {
			r.Use(middleware.Compress(5))
			config.ChatHandler.RegisterRoutes(r)
		})
		r.Get("/ws", config.WSHandler.ServeHTTP)
	})

	return r
}

func healthHandler(check func(ctx context.Context) error) httputil.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				return httputil.Unavailable(err)
			}
		}
		return httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
