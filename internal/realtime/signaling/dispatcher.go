package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/relaycore/rtc/internal/domain"
	"github.com/relaycore/rtc/internal/realtime/media"
	"github.com/relaycore/rtc/internal/realtime/registry"
	"github.com/relaycore/rtc/internal/realtime/transcription"
)

// MediaManager is the subset of the media room manager the dispatcher
// drives. Declared as an interface so the dispatcher never
// depends on the manager's concrete locking strategy.
type MediaManager interface {
	CreateRoom(roomID string) (media.RTPCapabilities, error)
	CreateTransports(roomID, userID, connectionID string) (media.TransportsCreated, error)
	ConnectTransport(roomID, connectionID, transportID string, dtls media.DTLSParameters) error
	Produce(roomID, connectionID string, kind media.Kind, source media.Source) (string, error)
	Consume(roomID, connectionID, producerID string, caps media.RTPCapabilities) (media.ConsumerInfo, error)
	CloseProducer(roomID, connectionID, producerID string) (bool, error)
	CloseParticipant(roomID, connectionID string) ([]string, error)
	ProducersVisibleTo(roomID, connectionID string) ([]media.ProducerInfo, error)
	CreateRTPTap(roomID, producerID string) (<-chan media.RTPPacket, error)
}

// TranscriptionEngine is the subset of the transcription engine the
// dispatcher drives. EnableRoom/DisableRoom toggle the room-level
// switch, and DisableRoom also stops the room's workers. Workers are
// started by NotifyProducer, which the dispatcher calls for every
// visible producer after EnableRoom succeeds, on media:join and on
// media:produce.
type TranscriptionEngine interface {
	EnableRoom(roomID, backend string) error
	DisableRoom(roomID string)
	StartFilePlayback(ctx context.Context, roomID, connectionID, userID, path, speaker string) (string, error)
	StopPlayback(playbackID string)
	StopPlaybacksForConnection(connectionID string)
	// NotifyProducer is called for every producer that becomes visible
	// to the room, live (media:produce) or pre-existing (media:join's
	// enumeration). createTap is invoked only if the engine decides to
	// start a pipeline (room has transcription enabled, kind is audio);
	// otherwise it's never called, so the tap channel is never
	// allocated for rooms that don't need it.
	NotifyProducer(roomID, producerID, connectionID, userID, speakerName string, kind media.Kind, createTap func() (<-chan media.RTPPacket, error))
	// StopProducer stops a live pipeline when its producer closes.
	StopProducer(roomID, producerID string)
	// Subscribe returns the engine's broadcast channel of finished and
	// in-progress transcript segments, fanned out to room members by
	// RunTranscriptFanout.
	Subscribe() <-chan transcription.TranscriptEvent
}

// MembershipStore is the authoritative membership/call-state
// collaborator.
type MembershipStore interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	MemberUserIDs(ctx context.Context, roomID string) ([]string, error)
	JoinParticipant(ctx context.Context, roomID, userID, displayName, device string) error
	LeaveParticipant(ctx context.Context, roomID, userID string) error
}

// TurnCredentials issues per-user ICE server credentials, embedded
// directly into the transport-created payload rather than exposed
// over its own endpoint.
type TurnCredentials interface {
	ServersFor(userID string) []media.ICEServer
}

// DisplayNameLookup resolves human-readable speaker names for
// transcript attribution. A nil lookup, or a lookup that
// errors, falls back to the raw user ID at call sites.
type DisplayNameLookup interface {
	DisplayNamesFor(ctx context.Context, userIDs []string) (map[string]string, error)
}

// Dispatcher is the Signaling Dispatcher: it parses inbound
// envelopes, routes them to feature handlers, and fans out outbound
// events using the registry. Grounded on internal/websocket/hub.go's
// HandleMessage switch-dispatch, restructured for handshake-at-upgrade
// auth and connection_id-scoped self-echo filtering.
type Dispatcher struct {
	registry      *registry.Registry
	media         MediaManager
	transcription TranscriptionEngine
	membership    MembershipStore
	turn          TurnCredentials
	names         DisplayNameLookup
	logger        *slog.Logger

	mu       sync.RWMutex
	connRoom map[string]string // connection_id -> room_id, only while in a media room
}

func NewDispatcher(reg *registry.Registry, mediaMgr MediaManager, transcription TranscriptionEngine, membership MembershipStore, turn TurnCredentials, names DisplayNameLookup, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:      reg,
		media:         mediaMgr,
		transcription: transcription,
		membership:    membership,
		turn:          turn,
		names:         names,
		logger:        logger.With("component", "signaling_dispatcher"),
		connRoom:      make(map[string]string),
	}
}

// speakerName resolves a display name for userID via the configured
// lookup, falling back to the raw ID when the lookup is absent, errors,
// or has no entry for the user.
func (d *Dispatcher) speakerName(ctx context.Context, userID string) string {
	if d.names == nil {
		return userID
	}
	names, err := d.names.DisplayNamesFor(ctx, []string{userID})
	if err != nil {
		return userID
	}
	if name, ok := names[userID]; ok && name != "" {
		return name
	}
	return userID
}

// dispatch routes one inbound envelope from a single connection. Unknown
// types are logged at debug and ignored.
func (d *Dispatcher) dispatch(c *Client, env Envelope) {
	switch env.Type {
	case EventPing:
		d.handlePing(c)
	case EventTypingStart:
		d.handleTyping(c, env.Data, EventTypingStart)
	case EventTypingStop:
		d.handleTyping(c, env.Data, EventTypingStop)
	case EventPresenceUpdate:
		d.handlePresenceUpdate(c, env.Data)
	case EventMediaJoin:
		d.handleMediaJoin(c, env.Data)
	case EventMediaConnectTpt:
		d.handleMediaConnectTransport(c, env.Data)
	case EventMediaProduce:
		d.handleMediaProduce(c, env.Data)
	case EventMediaConsume:
		d.handleMediaConsume(c, env.Data)
	case EventMediaProducerClose:
		d.handleMediaProducerClose(c, env.Data)
	case EventMediaLeave:
		d.handleMediaLeave(c, env.Data)
	case EventMediaTranscriptTog:
		d.handleMediaTranscriptToggle(c, env.Data)
	case EventMediaPlayAudio:
		d.handleMediaPlayAudio(c, env.Data)
	case EventMediaStopAudio:
		d.handleMediaStopAudio(c, env.Data)
	default:
		d.logger.Debug("unknown event type", "type", env.Type, "connection_id", c.connectionID)
	}
}

// mediaError emits the only polymorphic outbound error the wire
// protocol carries.
func (d *Dispatcher) mediaError(c *Client, err error) {
	message := err.Error()
	if de, ok := domain.AsError(err); ok {
		message = de.Message
	}
	c.sendEnvelope(EventMediaError, ErrorPayload{Message: message})
}

func (d *Dispatcher) handlePing(c *Client) {
	for _, sink := range d.registry.SendersForUser(c.userID) {
		sink.Send(mustEnvelope(EventPong, struct{}{}))
	}
}

func (d *Dispatcher) handleTyping(c *Client, data json.RawMessage, eventType string) {
	var p TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	memberIDs, err := d.membership.MemberUserIDs(context.Background(), p.RoomID)
	if err != nil {
		d.logger.Warn("failed to resolve room members for typing broadcast", "room_id", p.RoomID, "error", err)
		return
	}

	frame := mustEnvelope(eventType, TypingBroadcastPayload{RoomID: p.RoomID, UserID: c.userID})
	d.broadcastToUsersExceptConn(memberIDs, c.connectionID, frame)
}

func (d *Dispatcher) handlePresenceUpdate(c *Client, data json.RawMessage) {
	var p PresenceUpdatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	frame := mustEnvelope(EventPresenceUpdate, PresenceBroadcastPayload{UserID: c.userID, Presence: p.Presence})
	d.broadcastToUsersExceptConn(d.registry.AllUserIDs(), c.connectionID, frame)
}

// broadcastToUsersExceptConn fans a pre-marshaled frame out to every
// connection of every listed user, filtering by connection_id so the
// originating socket never sees its own event.
func (d *Dispatcher) broadcastToUsersExceptConn(userIDs []string, exceptConnectionID string, frame []byte) {
	for _, userID := range userIDs {
		for _, sink := range d.registry.SendersForUser(userID) {
			if sink.ConnectionID() == exceptConnectionID {
				continue
			}
			sink.Send(frame)
		}
	}
}

func mustEnvelope(eventType string, data interface{}) []byte {
	frame, err := newEnvelope(eventType, data)
	if err != nil {
		return nil
	}
	return frame
}

func (d *Dispatcher) setConnRoom(connectionID, roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connRoom[connectionID] = roomID
}

func (d *Dispatcher) clearConnRoom(connectionID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	roomID, ok := d.connRoom[connectionID]
	if ok {
		delete(d.connRoom, connectionID)
	}
	return roomID, ok
}

func (d *Dispatcher) roomFor(connectionID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	roomID, ok := d.connRoom[connectionID]
	return roomID, ok
}

// handleDisconnect performs the ordered disconnect cleanup:
// 1. registry removal, 2. stop owned file-playback workers, 3. close
// the media participant and notify peers.
func (d *Dispatcher) handleDisconnect(c *Client) {
	d.registry.Remove(c.userID, c.connectionID)
	d.transcription.StopPlaybacksForConnection(c.connectionID)

	roomID, inRoom := d.clearConnRoom(c.connectionID)
	if !inRoom {
		return
	}

	peers, err := d.media.CloseParticipant(roomID, c.connectionID)
	if err != nil {
		d.logger.Warn("failed to close participant on disconnect", "connection_id", c.connectionID, "error", err)
		return
	}

	_ = d.membership.LeaveParticipant(context.Background(), roomID, c.userID)

	frame := mustEnvelope(EventMediaPeerLeft, PeerLeftPayload{ConnectionID: c.connectionID})
	for _, peerConnectionID := range peers {
		if sink, ok := d.registry.SinkByConnection(peerConnectionID); ok {
			sink.Send(frame)
		}
	}
}

// RunTranscriptFanout drains the transcription engine's broadcast
// channel and forwards each segment to every member of the room it
// belongs to. Meant to run for the lifetime of the process in its own
// goroutine; returns when ctx is canceled.
func (d *Dispatcher) RunTranscriptFanout(ctx context.Context) {
	ch := d.transcription.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			memberIDs, err := d.membership.MemberUserIDs(ctx, ev.RoomID)
			if err != nil {
				d.logger.Warn("failed to resolve room members for transcript fanout", "room_id", ev.RoomID, "error", err)
				continue
			}
			frame := mustEnvelope(EventMediaTranscript, MediaTranscriptPayload{
				RoomID:              ev.RoomID,
				UserID:              ev.UserID,
				SpeakerName:         ev.SpeakerName,
				Text:                ev.Text,
				Language:            ev.Language,
				Confidence:          ev.Confidence,
				StartTime:           ev.StartTime,
				EndTime:             ev.EndTime,
				InferenceDurationMs: ev.InferenceDurationMs,
				IsFinal:             ev.IsFinal,
				SegmentID:           ev.SegmentID,
			})
			for _, userID := range memberIDs {
				for _, sink := range d.registry.SendersForUser(userID) {
					sink.Send(frame)
				}
			}
		}
	}
}
