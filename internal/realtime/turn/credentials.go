// Package turn issues time-limited ICE credentials derived from an
// HMAC over "expiry:user", the coturn REST API long-term credential
// scheme. HMAC-SHA1 and base64 are a deliberate stdlib exception here:
// the algorithm is a fixed external protocol, not a concern with a
// richer library equivalent.
package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/relaycore/rtc/internal/config"
	"github.com/relaycore/rtc/internal/realtime/media"
)

const credentialTTL = 24 * time.Hour

// Service issues ICE server credentials for a user.
type Service struct {
	cfg config.TURNConfig
	now func() time.Time
}

func NewService(cfg config.TURNConfig) *Service {
	return &Service{cfg: cfg, now: time.Now}
}

// ServersFor builds the ICE server list to embed in a transport-created
// payload. Empty when no URL is configured; static username/password
// when no shared secret is configured; otherwise time-limited HMAC
// credentials valid for 24h.
func (s *Service) ServersFor(userID string) []media.ICEServer {
	if s.cfg.URL == "" {
		return nil
	}

	username, credential := s.cfg.Username, s.cfg.Password
	if s.cfg.SharedSecret != "" {
		username, credential = s.timeLimitedCredential(userID)
	}

	urls := s.urlVariants()
	out := make([]media.ICEServer, 0, len(urls))
	for _, url := range urls {
		out = append(out, media.ICEServer{URLs: []string{url}, Username: username, Credential: credential})
	}
	return out
}

// timeLimitedCredential implements the coturn REST API scheme: username
// is "{expiry_epoch}:{user}", credential is base64(HMAC-SHA1(secret,
// username)).
func (s *Service) timeLimitedCredential(userID string) (username, credential string) {
	expiry := s.now().Add(credentialTTL).Unix()
	username = fmt.Sprintf("%d:%s", expiry, userID)

	mac := hmac.New(sha1.New, []byte(s.cfg.SharedSecret))
	mac.Write([]byte(username))
	credential = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return username, credential
}

// urlVariants returns UDP, TCP, and (for turn: URLs) TLS-on-5349
// variants of the configured URL.
func (s *Service) urlVariants() []string {
	base := s.cfg.URL
	variants := []string{base, base + "?transport=tcp"}

	const turnScheme = "turn:"
	if len(base) > len(turnScheme) && base[:len(turnScheme)] == turnScheme {
		host := base[len(turnScheme):]
		variants = append(variants, "turns:"+hostWithTLSPort(host))
	}
	return variants
}

func hostWithTLSPort(hostAndPort string) string {
	for i := 0; i < len(hostAndPort); i++ {
		if hostAndPort[i] == ':' {
			return hostAndPort[:i] + ":5349"
		}
	}
	return hostAndPort + ":5349"
}
