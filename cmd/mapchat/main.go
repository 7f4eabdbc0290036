package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rx3lixir/mapchat/internal/auth"
	"github.com/rx3lixir/mapchat/internal/background"
	"github.com/rx3lixir/mapchat/internal/cache"
	"github.com/rx3lixir/mapchat/internal/chat"
	"github.com/rx3lixir/mapchat/internal/config"
	"github.com/rx3lixir/mapchat/internal/docstore"
	"github.com/rx3lixir/mapchat/internal/listener"
	"github.com/rx3lixir/mapchat/internal/notify"
	"github.com/rx3lixir/mapchat/internal/server"
	"github.com/rx3lixir/mapchat/internal/storage/postgres"
	"github.com/rx3lixir/mapchat/internal/storage/s3"
	"github.com/rx3lixir/mapchat/internal/websocket"
	"github.com/rx3lixir/mapchat/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the yaml config")
	flag.Parse()

	// Initializing and validating config
	cm, err := config.NewConfigManager(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting config file: %v\n", err)
		os.Exit(1)
	}
	c := cm.GetConfig()
	if err := c.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initializing logger
	log, err := logger.New(logger.Config{
		Env:              c.GeneralParams.Env,
		Level:            c.GeneralParams.LogLevel,
		AddSource:        c.GeneralParams.Env == "dev",
		SourcePathLength: 2,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	log.Info(
		"Config loaded successfully!",
		"env", c.GeneralParams.Env,
		"http_server_port", c.HttpServerParams.Port,
		"http_server_address", c.HttpServerParams.Address,
		"docstore", c.SyncParams.DocstoreDriver,
	)

	if err := run(c, log); err != nil {
		log.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("Server stopped")
}

func run(c *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Document store
	var (
		store  docstore.Store
		health func(context.Context) error
	)
	switch c.SyncParams.DocstoreDriver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, c.MainDBParams.GetDSN(), c.MainDBParams.MaxConns)
		if err != nil {
			return fmt.Errorf("failed to create postgres pool: %w", err)
		}
		defer pool.Close()

		pg := docstore.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate document store: %w", err)
		}
		log.Info("Database connection established", "db", c.MainDBParams.Name, "host", c.MainDBParams.Host)

		store = pg
		health = pool.Ping
	default:
		log.Warn("Using in-memory document store, data is lost on restart")
		store = docstore.NewMemory()
	}

	// Background work: notifications and read receipts
	queue := background.NewQueue(background.Config{
		Workers:     c.SyncParams.QueueWorkers,
		QueueSize:   c.SyncParams.QueueSize,
		TaskTimeout: c.SyncParams.DBTimeout * 2,
	}, log)
	if err := queue.Start(); err != nil {
		return fmt.Errorf("failed to start background queue: %w", err)
	}

	deps := chat.Deps{
		Store:     docstore.Instrument(store),
		Cache:     cache.New(c.SyncParams.CacheCapacity),
		Listeners: listener.NewRegistry(log),
		Queue:     queue,
	}

	var notifications websocket.NotificationSource
	if c.RedisParams.URL != "" {
		redisPub, err := notify.NewRedisPublisher(ctx, c.RedisParams.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisPub.Close()

		deps.Publisher = redisPub
		notifications = redisPub
		log.Info("Notifications enabled")
	}

	if c.S3Params.Enabled() {
		client, err := s3.NewClient(
			c.S3Params.Endpoint,
			c.S3Params.AccessKeyID,
			c.S3Params.SecretAccessKey,
			c.S3Params.Region,
			c.S3Params.UseSSL,
		)
		if err != nil {
			return err
		}
		if err := s3.EnsureBucket(ctx, client, c.S3Params.BucketName); err != nil {
			return err
		}
		deps.Files = s3.NewAttachmentStore(client, c.S3Params.BucketName, c.S3Params.URLExpiry)
		log.Info("Attachment storage enabled", "bucket", c.S3Params.BucketName)
	}

	svc := chat.NewService(deps, chat.Options{
		AllowMissingMembers: c.SyncParams.PermissiveMissingMembers,
		BatchLimit:          c.SyncParams.BatchLimit,
		FetchTimeout:        c.SyncParams.DBTimeout,
	}, log)

	hub := websocket.NewHub(log)
	router := server.NewRouter(server.RouterConfig{
		ChatHandler:    chat.NewHandler(svc, log, c.SyncParams.DBTimeout, c.SyncParams.MarkReadOnList),
		WSHandler:      websocket.NewHandler(svc, hub, notifications, c.HttpServerParams.AllowedOrigins, log),
		AuthService:    auth.NewService(c.GeneralParams.SecretKey),
		Log:            log,
		AllowedOrigins: c.HttpServerParams.AllowedOrigins,
		Health:         health,
	})

	srv := server.New(c.HttpServerParams.GetAddress(), router, log)
	if err := srv.Listen(); err != nil {
		_ = queue.Stop(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		hub.Shutdown()
		err := srv.Shutdown(shutdownCtx)
		deps.Listeners.Close()
		if qerr := queue.Stop(shutdownCtx); qerr != nil {
			log.Warn("Background queue did not drain", "error", qerr)
		}
		return err
	})

	return g.Wait()
}
