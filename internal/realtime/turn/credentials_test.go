package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/rtc/internal/config"
)

func TestService_NoURLConfiguredReturnsEmptyList(t *testing.T) {
	s := NewService(config.TURNConfig{})
	assert.Empty(t, s.ServersFor("user1"))
}

func TestService_NoSharedSecretReturnsStaticCredentials(t *testing.T) {
	s := NewService(config.TURNConfig{URL: "turn:turn.example.com:3478", Username: "static-user", Password: "static-pass"})

	servers := s.ServersFor("user1")
	require.NotEmpty(t, servers)
	for _, srv := range servers {
		assert.Equal(t, "static-user", srv.Username)
		assert.Equal(t, "static-pass", srv.Credential)
	}
}

func TestService_TimeLimitedCredentialMatchesHMACScheme(t *testing.T) {
	fixedNow := time.Unix(1000, 0)
	s := NewService(config.TURNConfig{URL: "turn:turn.example.com:3478", SharedSecret: "s"})
	s.now = func() time.Time { return fixedNow }

	username, credential := s.timeLimitedCredential("000000000000000000000001")

	expectedUsername := fmt.Sprintf("%d:%s", fixedNow.Add(credentialTTL).Unix(), "000000000000000000000001")
	assert.Equal(t, expectedUsername, username)

	mac := hmac.New(sha1.New, []byte("s"))
	mac.Write([]byte(expectedUsername))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), credential)
}

func TestService_URLVariantsIncludeUDPTCPAndTLS(t *testing.T) {
	s := NewService(config.TURNConfig{URL: "turn:turn.example.com:3478", SharedSecret: "s"})

	servers := s.ServersFor("user1")
	require.Len(t, servers, 3)
	assert.Equal(t, "turn:turn.example.com:3478", servers[0].URLs[0])
	assert.Equal(t, "turn:turn.example.com:3478?transport=tcp", servers[1].URLs[0])
	assert.Equal(t, "turns:turn.example.com:5349", servers[2].URLs[0])
}
