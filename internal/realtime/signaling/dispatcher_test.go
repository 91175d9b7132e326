package signaling

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/rtc/internal/domain"
	"github.com/relaycore/rtc/internal/realtime/media"
	"github.com/relaycore/rtc/internal/realtime/registry"
	"github.com/relaycore/rtc/internal/realtime/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMedia struct {
	closeParticipantPeers []string
	closedRoom, closedConn string
}

func (f *fakeMedia) CreateRoom(roomID string) (media.RTPCapabilities, error) { return media.RTPCapabilities{}, nil }
func (f *fakeMedia) CreateTransports(roomID, userID, connectionID string) (media.TransportsCreated, error) {
	return media.TransportsCreated{}, nil
}
func (f *fakeMedia) ConnectTransport(roomID, connectionID, transportID string, dtls media.DTLSParameters) error {
	return nil
}
func (f *fakeMedia) Produce(roomID, connectionID string, kind media.Kind, source media.Source) (string, error) {
	return "producer-1", nil
}
func (f *fakeMedia) Consume(roomID, connectionID, producerID string, caps media.RTPCapabilities) (media.ConsumerInfo, error) {
	return media.ConsumerInfo{}, nil
}
func (f *fakeMedia) CloseProducer(roomID, connectionID, producerID string) (bool, error) { return true, nil }
func (f *fakeMedia) CloseParticipant(roomID, connectionID string) ([]string, error) {
	f.closedRoom, f.closedConn = roomID, connectionID
	return f.closeParticipantPeers, nil
}
func (f *fakeMedia) ProducersVisibleTo(roomID, connectionID string) ([]media.ProducerInfo, error) {
	return nil, nil
}
func (f *fakeMedia) CreateRTPTap(roomID, producerID string) (<-chan media.RTPPacket, error) {
	return make(chan media.RTPPacket), nil
}

type fakeTranscription struct {
	stoppedForConnection string
	events               chan transcription.TranscriptEvent
}

func (f *fakeTranscription) EnableRoom(roomID, backend string) error { return nil }
func (f *fakeTranscription) DisableRoom(roomID string)               {}
func (f *fakeTranscription) StartFilePlayback(ctx context.Context, roomID, connectionID, userID, path, speaker string) (string, error) {
	return "playback-1", nil
}
func (f *fakeTranscription) StopPlayback(playbackID string) {}
func (f *fakeTranscription) StopPlaybacksForConnection(connectionID string) {
	f.stoppedForConnection = connectionID
}
func (f *fakeTranscription) NotifyProducer(roomID, producerID, connectionID, userID, speakerName string, kind media.Kind, createTap func() (<-chan media.RTPPacket, error)) {
}
func (f *fakeTranscription) StopProducer(roomID, producerID string) {}
func (f *fakeTranscription) Subscribe() <-chan transcription.TranscriptEvent {
	if f.events == nil {
		f.events = make(chan transcription.TranscriptEvent, 1)
	}
	return f.events
}

type fakeMembership struct {
	members map[string][]string
}

func (f *fakeMembership) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	for _, id := range f.members[roomID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}
func (f *fakeMembership) MemberUserIDs(ctx context.Context, roomID string) ([]string, error) {
	return f.members[roomID], nil
}
func (f *fakeMembership) JoinParticipant(ctx context.Context, roomID, userID, displayName, device string) error {
	return nil
}
func (f *fakeMembership) LeaveParticipant(ctx context.Context, roomID, userID string) error { return nil }

func newTestDispatcher() (*Dispatcher, *registry.Registry, *fakeMedia, *fakeTranscription, *fakeMembership) {
	reg := registry.New()
	fm := &fakeMedia{}
	ft := &fakeTranscription{}
	fs := &fakeMembership{members: map[string][]string{"room1": {"u1", "u2"}}}
	d := NewDispatcher(reg, fm, ft, fs, nil, nil, testLogger())
	return d, reg, fm, ft, fs
}

func TestDispatcher_PingRepliesToAllOfUsersConnections(t *testing.T) {
	d, reg, _, _, _ := newTestDispatcher()

	c1 := newClient(nil, d, "c1", "u1", testLogger())
	c2 := newClient(nil, d, "c2", "u1", testLogger())
	reg.Add("u1", "c1", c1)
	reg.Add("u1", "c2", c2)

	d.handlePing(c1)

	require.Len(t, c1.send, 1)
	require.Len(t, c2.send, 1)
}

func TestDispatcher_TypingExcludesOnlySenderConnection(t *testing.T) {
	d, reg, _, _, _ := newTestDispatcher()

	c1 := newClient(nil, d, "c1", "u1", testLogger()) // sender, tab 1
	c2 := newClient(nil, d, "c2", "u1", testLogger()) // same user, tab 2
	c3 := newClient(nil, d, "c3", "u2", testLogger()) // other member
	reg.Add("u1", "c1", c1)
	reg.Add("u1", "c2", c2)
	reg.Add("u2", "c3", c3)

	payload, _ := json.Marshal(TypingPayload{RoomID: "room1"})
	d.handleTyping(c1, payload, EventTypingStart)

	assert.Len(t, c1.send, 0, "sender connection must not see its own event")
	assert.Len(t, c2.send, 1, "other tab of the same user still receives it")
	assert.Len(t, c3.send, 1)
}

func TestDispatcher_DisconnectCleanupOrder(t *testing.T) {
	d, reg, fm, ft, _ := newTestDispatcher()

	c1 := newClient(nil, d, "c1", "u1", testLogger())
	peer := newClient(nil, d, "c2", "u2", testLogger())
	reg.Add("u1", "c1", c1)
	reg.Add("u2", "c2", peer)

	fm.closeParticipantPeers = []string{"c2"}
	d.setConnRoom("c1", "room1")

	d.handleDisconnect(c1)

	_, stillOnline := reg.SinkByConnection("c1")
	assert.False(t, stillOnline, "registry removal must happen")
	assert.Equal(t, "c1", ft.stoppedForConnection, "file-playback workers owned by the connection must be stopped")
	assert.Equal(t, "room1", fm.closedRoom)
	assert.Equal(t, "c1", fm.closedConn)
	require.Len(t, peer.send, 1, "surviving peer must receive exactly one media:peer_left")

	frame := <-peer.send
	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, EventMediaPeerLeft, env.Type)
	var body PeerLeftPayload
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, "c1", body.ConnectionID)
}

func TestDispatcher_MediaJoinRejectsNonMember(t *testing.T) {
	d, reg, _, _, _ := newTestDispatcher()

	c1 := newClient(nil, d, "c1", "stranger", testLogger())
	reg.Add("stranger", "c1", c1)

	payload, _ := json.Marshal(MediaJoinPayload{RoomID: "room1"})
	d.handleMediaJoin(c1, payload)

	require.Len(t, c1.send, 1)
	frame := <-c1.send
	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, EventMediaError, env.Type)
	var body ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, domain.ErrNotMember.Message, body.Message)
}

type fakeNames struct {
	names map[string]string
	err   error
}

func (f *fakeNames) DisplayNamesFor(ctx context.Context, userIDs []string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		if name, ok := f.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func TestDispatcher_SpeakerNameFallsBackToUserIDWhenLookupAbsent(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher()
	assert.Equal(t, "u1", d.speakerName(context.Background(), "u1"))
}

func TestDispatcher_SpeakerNameFallsBackOnLookupError(t *testing.T) {
	reg := registry.New()
	fm := &fakeMedia{}
	ft := &fakeTranscription{}
	fs := &fakeMembership{members: map[string][]string{"room1": {"u1"}}}
	d := NewDispatcher(reg, fm, ft, fs, nil, &fakeNames{err: assert.AnError}, testLogger())
	assert.Equal(t, "u1", d.speakerName(context.Background(), "u1"))
}

func TestDispatcher_SpeakerNameResolvesDisplayName(t *testing.T) {
	reg := registry.New()
	fm := &fakeMedia{}
	ft := &fakeTranscription{}
	fs := &fakeMembership{members: map[string][]string{"room1": {"u1"}}}
	d := NewDispatcher(reg, fm, ft, fs, nil, &fakeNames{names: map[string]string{"u1": "Alice"}}, testLogger())
	assert.Equal(t, "Alice", d.speakerName(context.Background(), "u1"))
}

func TestDispatcher_RunTranscriptFanoutDeliversToRoomMembersOnly(t *testing.T) {
	d, reg, _, ft, _ := newTestDispatcher()
	ft.events = make(chan transcription.TranscriptEvent, 1)

	c1 := newClient(nil, d, "c1", "u1", testLogger())
	c2 := newClient(nil, d, "c2", "u2", testLogger())
	c3 := newClient(nil, d, "c3", "outsider", testLogger())
	reg.Add("u1", "c1", c1)
	reg.Add("u2", "c2", c2)
	reg.Add("outsider", "c3", c3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.RunTranscriptFanout(ctx)
		close(done)
	}()

	ft.events <- transcription.TranscriptEvent{
		RoomID: "room1", UserID: "u1", SpeakerName: "Alice", Text: "hello", IsFinal: true,
	}

	require.Eventually(t, func() bool { return len(c1.send) == 1 && len(c2.send) == 1 }, time.Second, time.Millisecond)
	assert.Len(t, c3.send, 0, "non-member must not receive the transcript")

	frame := <-c2.send
	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, EventMediaTranscript, env.Type)
	var body MediaTranscriptPayload
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, "hello", body.Text)

	cancel()
	<-done
}
