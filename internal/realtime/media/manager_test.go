package media

import (
	"log/slog"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManager_CreateRoomIsIdempotent(t *testing.T) {
	m := NewManager("127.0.0.1", nil, testLogger())

	caps1, err := m.CreateRoom("room1")
	require.NoError(t, err)

	caps2, err := m.CreateRoom("room1")
	require.NoError(t, err)

	assert.Equal(t, caps1, caps2)
}

func TestManager_CreateTransportsConnectionScopedKeying(t *testing.T) {
	m := NewManager("127.0.0.1", nil, testLogger())
	_, err := m.CreateRoom("room1")
	require.NoError(t, err)

	tc1, err := m.CreateTransports("room1", "user1", "conn1")
	require.NoError(t, err)

	tc2, err := m.CreateTransports("room1", "user1", "conn2")
	require.NoError(t, err)

	assert.NotEqual(t, tc1.SendTransport.ID, tc2.SendTransport.ID, "distinct connection_ids must get distinct send-transport IDs")
}

func TestManager_ProduceFailsWithoutConnect(t *testing.T) {
	m := NewManager("127.0.0.1", nil, testLogger())
	_, err := m.CreateRoom("room1")
	require.NoError(t, err)
	_, err = m.CreateTransports("room1", "user1", "conn1")
	require.NoError(t, err)

	_, err = m.Produce("room1", "conn1", KindAudio, "")
	require.Error(t, err)
}

func TestManager_CreateRoomMissingFails(t *testing.T) {
	m := NewManager("127.0.0.1", nil, testLogger())
	_, err := m.CreateTransports("nope", "user1", "conn1")
	assert.Error(t, err)
}

func TestManager_CloseParticipantReturnsRemainingPeers(t *testing.T) {
	m := NewManager("127.0.0.1", nil, testLogger())
	_, err := m.CreateRoom("room1")
	require.NoError(t, err)
	_, err = m.CreateTransports("room1", "u1", "c1")
	require.NoError(t, err)
	_, err = m.CreateTransports("room1", "u2", "c2")
	require.NoError(t, err)

	peers, err := m.CloseParticipant("room1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, peers)
}

func TestManager_CloseProducerReturnsExistence(t *testing.T) {
	m := NewManager("127.0.0.1", nil, testLogger())
	_, err := m.CreateRoom("room1")
	require.NoError(t, err)

	existed, err := m.CloseProducer("room1", "c1", "missing-producer")
	require.NoError(t, err)
	assert.False(t, existed)
}
