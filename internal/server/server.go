package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/relaycore/rtc/internal/api"
	"github.com/relaycore/rtc/internal/auth"
	"github.com/relaycore/rtc/internal/config"
	"github.com/relaycore/rtc/internal/database"
	"github.com/relaycore/rtc/internal/middleware"
	"github.com/relaycore/rtc/internal/realtime/signaling"
)

// Dependencies holds all service dependencies for the server: the
// out-of-core-scope CRUD surface (auth, users, conversations, calls,
// uploads) plus the real-time plane's single WebSocket entrypoint.
type Dependencies struct {
	DB              *database.DB
	UserRepo        *database.UserRepository
	ConvRepo        *database.ConversationRepository
	CallRepo        *database.CallRepository
	AttachmentRepo  *database.AttachmentRepository
	AuthService     *auth.Service
	AuthHandler     *api.AuthHandler
	UserHandler     *api.UserHandler
	ConvHandler     *api.ConversationHandler
	CallHandler     *api.CallHandler
	UploadHandler   *api.UploadHandler
	OAuthHandlers   *api.OAuthHandlers
	RealtimeHandler *signaling.Handler
	StaticDir       string
	Logger          *slog.Logger
}

// New creates an HTTP server with all routes configured.
func New(cfg *config.Config, deps *Dependencies) *http.Server {
	mux := http.NewServeMux()

	// Register routes
	registerRoutes(mux, cfg, deps)

	// Wrap with middleware
	handler := chainMiddleware(mux,
		requestIDMiddleware,
		corsMiddleware(cfg),
		loggingMiddleware(deps.Logger),
		recoverMiddleware(deps.Logger),
	)

	return &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func registerRoutes(mux *http.ServeMux, cfg *config.Config, deps *Dependencies) {
	// Health check - essential for docker, k8s, load balancers
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Ready check - verifies DB connectivity
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.DB.Health(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready","error":"database unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// =========================================================================
	// Auth routes (public)
	// =========================================================================
	mux.HandleFunc("POST /auth/register", deps.AuthHandler.Register)
	mux.HandleFunc("POST /auth/login", deps.AuthHandler.Login)
	mux.HandleFunc("POST /auth/refresh", deps.AuthHandler.Refresh)
	mux.HandleFunc("POST /auth/logout", deps.AuthHandler.Logout)

	if deps.OAuthHandlers != nil {
		mux.HandleFunc("GET /auth/google", deps.OAuthHandlers.HandleGoogleAuth)
		mux.HandleFunc("GET /auth/google/callback", deps.OAuthHandlers.HandleGoogleCallback)
	}

	// =========================================================================
	// Protected routes (require auth)
	// =========================================================================
	authMiddleware := auth.Middleware(deps.AuthService)
	rateLimiter := middleware.NewRateLimiter(cfg.APIRateLimitPerMin)
	protected := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(rateLimiter.Middleware(h))
	}

	// Me endpoint
	mux.Handle("GET /auth/me", protected(deps.AuthHandler.Me))

	if deps.OAuthHandlers != nil {
		mux.Handle("POST /auth/set-username", protected(deps.OAuthHandlers.HandleSetUsername))
	}

	// =========================================================================
	// User routes
	// =========================================================================
	mux.HandleFunc("GET /users/search", deps.UserHandler.Search) // public search
	mux.HandleFunc("GET /users/{username}", deps.UserHandler.GetByUsername)
	mux.Handle("GET /users/me", protected(deps.UserHandler.GetMe))
	mux.Handle("PUT /users/me", protected(deps.UserHandler.UpdateProfile))

	// =========================================================================
	// Conversation routes
	// =========================================================================
	mux.Handle("POST /conversations", protected(deps.ConvHandler.CreateConversation))
	mux.Handle("GET /conversations", protected(deps.ConvHandler.ListConversations))
	mux.Handle("GET /conversations/{id}", protected(deps.ConvHandler.GetConversation))
	mux.Handle("POST /conversations/{id}/members", protected(deps.ConvHandler.AddMember))
	mux.Handle("DELETE /conversations/{id}/members/{userId}", protected(deps.ConvHandler.RemoveMember))

	// =========================================================================
	// Message routes
	// =========================================================================
	mux.Handle("GET /conversations/{id}/messages", protected(deps.ConvHandler.GetMessages))
	mux.Handle("POST /conversations/{id}/messages", protected(deps.ConvHandler.SendMessage))

	// =========================================================================
	// Block routes
	// =========================================================================
	mux.Handle("POST /blocks/{username}", protected(deps.ConvHandler.BlockUser))
	mux.Handle("DELETE /blocks/{username}", protected(deps.ConvHandler.UnblockUser))

	// =========================================================================
	// Call history routes
	// =========================================================================
	if deps.CallHandler != nil {
		mux.Handle("GET /calls", protected(deps.CallHandler.GetCallHistory))
		mux.Handle("GET /calls/{id}", protected(deps.CallHandler.GetCall))
	}

	// =========================================================================
	// Upload routes (optional - only if R2 storage is configured)
	// =========================================================================
	if deps.UploadHandler != nil {
		mux.Handle("POST /conversations/{id}/attachments/init", protected(deps.UploadHandler.InitUpload))
		mux.Handle("POST /attachments/{id}/complete", protected(deps.UploadHandler.CompleteUpload))
		mux.Handle("GET /attachments/{id}/url", protected(deps.UploadHandler.GetAttachmentURL))
	}

	// =========================================================================
	// Real-time plane: signaling dispatcher WebSocket,
	// `/ws?token={bearer}`, auth verified before upgrade.
	// =========================================================================
	mux.Handle("GET /ws", deps.RealtimeHandler)

	// =========================================================================
	// Static files (frontend) - serve at root
	// =========================================================================
	staticFS := http.FileServer(http.Dir(deps.StaticDir))
	mux.Handle("GET /", staticFS)
}
