package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pionwebrtc "github.com/pion/webrtc/v3"

	"github.com/relaycore/rtc/internal/api"
	"github.com/relaycore/rtc/internal/auth"
	"github.com/relaycore/rtc/internal/config"
	"github.com/relaycore/rtc/internal/database"
	"github.com/relaycore/rtc/internal/pubsub"
	"github.com/relaycore/rtc/internal/realtime/media"
	"github.com/relaycore/rtc/internal/realtime/membership"
	"github.com/relaycore/rtc/internal/realtime/registry"
	"github.com/relaycore/rtc/internal/realtime/signaling"
	"github.com/relaycore/rtc/internal/realtime/transcription"
	"github.com/relaycore/rtc/internal/realtime/turn"
	"github.com/relaycore/rtc/internal/server"
	"github.com/relaycore/rtc/internal/storage"
	"github.com/relaycore/rtc/internal/websocket"
)

func main() {
	// Structured logging from the start
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Create context for initialization
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	if err := database.EnsureSchema(ctx, db, "migrations"); err != nil {
		slog.Error("failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	userRepo := database.NewUserRepository(db)
	convRepo := database.NewConversationRepository(db)
	callRepo := database.NewCallRepository(db)
	attachmentRepo := database.NewAttachmentRepository(db.Pool)
	realtimeRepo := database.NewRealtimeRepository(db, logger)

	// Initialize token service (use a default key for dev if not set)
	jwtKey := cfg.JWTSigningKey
	if jwtKey == "" {
		if cfg.IsDevelopment() {
			jwtKey = "dev-signing-key-do-not-use-in-production!!" // 42 chars
			slog.Warn("using default JWT signing key - DO NOT USE IN PRODUCTION")
		} else {
			slog.Error("JWT_SIGNING_KEY is required in production")
			os.Exit(1)
		}
	}

	tokenService, err := auth.NewTokenService(jwtKey)
	if err != nil {
		slog.Error("failed to create token service", "error", err)
		os.Exit(1)
	}

	// Initialize auth service
	authService := auth.NewService(userRepo, tokenService)
	tokenVerifier := auth.NewTokenVerifier(authService)

	// Initialize R2 storage (optional - skip if not configured)
	var r2Storage *storage.R2Storage
	var uploadHandler *api.UploadHandler
	if cfg.R2AccountID != "" && cfg.R2AccessKeyID != "" && cfg.R2SecretAccessKey != "" && cfg.R2Bucket != "" {
		r2Storage, err = storage.NewR2Storage(cfg.R2AccountID, cfg.R2AccessKeyID, cfg.R2SecretAccessKey, cfg.R2Bucket)
		if err != nil {
			slog.Error("failed to initialize R2 storage", "error", err)
			os.Exit(1)
		}
		uploadHandler = api.NewUploadHandler(attachmentRepo, convRepo, r2Storage, cfg.MaxUploadBytes, cfg.R2Bucket)
		slog.Info("R2 storage initialized", "bucket", cfg.R2Bucket)
	} else {
		slog.Warn("R2 storage not configured - file uploads disabled")
	}

	// Initialize PubSub (in-memory for single instance, Redis for
	// horizontally-scaled deployments) - backs the collaborator CRUD
	// surface's own event notifications, independent of the real-time
	// plane's registry fan-out.
	var ps pubsub.PubSub
	if cfg.PubSubType == "redis" {
		ps, err = pubsub.NewRedisPubSub(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis pubsub", "error", err)
			os.Exit(1)
		}
		slog.Info("redis pubsub initialized", "url", cfg.RedisURL)
	} else {
		ps = pubsub.NewMemoryPubSub()
	}
	defer ps.Close()
	broadcaster := websocket.NewPubSubBroadcaster(ps)

	// Initialize CRUD/collaborator HTTP handlers
	authHandler := api.NewAuthHandler(authService, logger)
	userHandler := api.NewUserHandler(userRepo, logger)
	convHandler := api.NewConversationHandler(convRepo, userRepo, broadcaster, logger)
	callHandler := api.NewCallHandler(callRepo, convRepo, logger)

	var oauthHandlers *api.OAuthHandlers
	if cfg.OAuthEnabled && cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		oauthService := auth.NewOAuthService(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		oauthHandlers = api.NewOAuthHandlers(oauthService, authService, userRepo, cfg.AppBaseURL)
		slog.Info("google oauth enabled")
	}

	// Initialize the real-time plane: connection registry,
	// media room manager, transcription engine, room membership/call
	// state, TURN credential service, and the signaling dispatcher that
	// wires them all to one WebSocket.
	reg := registry.New()

	iceServers := buildPionICEServers(cfg)
	mediaMgr := media.NewManager(cfg.AnnouncedIP, iceServers, logger)

	backends, defaultBackend := transcription.BuildBackends(cfg.Transcription)
	if len(backends) == 0 {
		slog.Warn("no transcription backends configured - media:transcript_toggle will fail")
	}
	transcriptionEngine := transcription.NewEngine(backends, defaultBackend, cfg.Transcription.VADModelPath, cfg.Transcription.VAD, cfg.Transcription.StreamingPartialInterval, realtimeRepo, logger)

	membershipStore := membership.NewStore(db)
	turnService := turn.NewService(cfg.TURN)

	dispatcher := signaling.NewDispatcher(reg, mediaMgr, transcriptionEngine, membershipStore, turnService, realtimeRepo, logger)
	realtimeHandler := signaling.NewHandler(dispatcher, tokenVerifier, logger)

	fanoutCtx, stopFanout := context.WithCancel(context.Background())
	defer stopFanout()
	go dispatcher.RunTranscriptFanout(fanoutCtx)

	// Determine static files directory (relative to working dir in dev, configurable in prod)
	staticDir := "../frontend"
	if cfg.StaticDir != "" {
		staticDir = cfg.StaticDir
	}

	// Create and start server
	deps := &server.Dependencies{
		DB:              db,
		UserRepo:        userRepo,
		ConvRepo:        convRepo,
		CallRepo:        callRepo,
		AttachmentRepo:  attachmentRepo,
		AuthService:     authService,
		AuthHandler:     authHandler,
		UserHandler:     userHandler,
		ConvHandler:     convHandler,
		CallHandler:     callHandler,
		UploadHandler:   uploadHandler,
		OAuthHandlers:   oauthHandlers,
		RealtimeHandler: realtimeHandler,
		StaticDir:       staticDir,
		Logger:          logger,
	}

	srv := server.New(cfg, deps)

	// Graceful shutdown setup
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-shutdownCtx.Done()
	slog.Info("shutting down gracefully...")

	// Give active connections 10 seconds to finish
	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// buildPionICEServers turns the flat STUN/TURN env config into the
// pion ICEServer list the media room manager's transports are built
// with. TURN credentials here are the static fallback;
// per-user time-limited credentials are issued separately by
// internal/realtime/turn and embedded into each media:join response.
func buildPionICEServers(cfg *config.Config) []pionwebrtc.ICEServer {
	var servers []pionwebrtc.ICEServer
	if len(cfg.ICESTUNURLs) > 0 {
		servers = append(servers, pionwebrtc.ICEServer{URLs: cfg.ICESTUNURLs})
	}
	if len(cfg.ICETURNURLs) > 0 && cfg.TURNUsername != "" {
		servers = append(servers, pionwebrtc.ICEServer{
			URLs:       cfg.ICETURNURLs,
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNPassword,
		})
	}
	return servers
}
