package auth

import (
	"context"
	"fmt"

	"github.com/relaycore/rtc/internal/realtime/signaling"
)

// TokenVerifier adapts Service.ValidateToken to the
// signaling.TokenVerifier interface the WebSocket handshake depends
// on, keeping the real-time plane's auth check on the same JWT
// validation path as the REST API.
type TokenVerifier struct {
	service *Service
}

func NewTokenVerifier(service *Service) *TokenVerifier {
	return &TokenVerifier{service: service}
}

func (v *TokenVerifier) Verify(ctx context.Context, bearer string) (signaling.VerifiedIdentity, error) {
	claims, err := v.service.ValidateToken(bearer)
	if err != nil {
		return signaling.VerifiedIdentity{}, fmt.Errorf("auth: verify token: %w", err)
	}
	return signaling.VerifiedIdentity{UserID: claims.UserID.String(), Email: claims.Username}, nil
}
