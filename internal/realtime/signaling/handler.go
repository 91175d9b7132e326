package signaling

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TokenVerifier authenticates the bearer token presented at upgrade
// time.
type TokenVerifier interface {
	Verify(ctx context.Context, bearer string) (VerifiedIdentity, error)
}

// VerifiedIdentity is the subset of a verified token the dispatcher
// needs.
type VerifiedIdentity struct {
	UserID string
	Email  string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP connections to the real-time plane's
// WebSocket, verifying the bearer token BEFORE upgrading — a deliberate divergence from a post-connect
// `{type:"auth"}` message, since a bad token should fail the upgrade
// itself rather than open then immediately close a socket.
type Handler struct {
	dispatcher *Dispatcher
	verifier   TokenVerifier
	logger     *slog.Logger
}

func NewHandler(dispatcher *Dispatcher, verifier TokenVerifier, logger *slog.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, verifier: verifier, logger: logger}
}

// ServeHTTP implements the `/ws?token={bearer}` endpoint.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bearer := r.URL.Query().Get("token")
	identity, err := h.verifier.Verify(r.Context(), bearer)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if identity.UserID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	connectionID := uuid.NewString()
	client := newClient(conn, h.dispatcher, connectionID, identity.UserID, h.logger)
	h.dispatcher.registry.Add(identity.UserID, connectionID, client)

	client.sendEnvelope(EventConnected, ConnectedPayload{UserID: identity.UserID})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go client.WritePump(ctx)
	client.ReadPump(ctx)
}
