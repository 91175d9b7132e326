package signaling

import (
	"encoding/json"

	"github.com/relaycore/rtc/internal/realtime/media"
)

// Envelope is the wire-protocol message shape for both directions
//: {type, data?}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func newEnvelope(eventType string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Data: raw})
}

// Inbound event types (client -> server).
const (
	EventPing                = "ping"
	EventTypingStart         = "typing:start"
	EventTypingStop          = "typing:stop"
	EventPresenceUpdate      = "presence:update"
	EventMediaJoin           = "media:join"
	EventMediaConnectTpt     = "media:connect_transport"
	EventMediaProduce        = "media:produce"
	EventMediaConsume        = "media:consume"
	EventMediaProducerClose  = "media:producer_close"
	EventMediaLeave          = "media:leave"
	EventMediaTranscriptTog  = "media:transcript_toggle"
	EventMediaPlayAudio      = "media:play_audio"
	EventMediaStopAudio      = "media:stop_audio"
)

// Outbound event types (server -> client).
const (
	EventConnected           = "connected"
	EventPong                = "pong"
	EventMessageCreate       = "message:create"
	EventMessageUpdate       = "message:update"
	EventMessageDelete       = "message:delete"
	EventMessagePin          = "message:pin"
	EventMessageUnpin        = "message:unpin"
	EventNotificationNew     = "notification:new"
	EventRoomCallStarted     = "room:call_started"
	EventRoomCallUpdated     = "room:call_updated"
	EventRoomCallEnded       = "room:call_ended"
	EventCallMessageCreate   = "call:message:create"
	EventMediaRouterCaps     = "media:router_capabilities"
	EventMediaTransportMade  = "media:transport_created"
	EventMediaNewProducer    = "media:new_producer"
	EventMediaProduceResult  = "media:produce_result"
	EventMediaConsumerMade   = "media:consumer_created"
	EventMediaProducerClosed = "media:producer_closed"
	EventMediaPeerLeft       = "media:peer_left"
	EventMediaRoomClosed     = "media:room_closed"
	EventMediaError          = "media:error"
	EventMediaTranscript     = "media:transcript"
	EventMediaTranscriptStat = "media:transcript_status"
	EventMediaAudioPlayback  = "media:audio_playback"
)

// ConnectedPayload is sent immediately after a successful handshake.
type ConnectedPayload struct {
	UserID string `json:"user_id"`
}

// ErrorPayload is the only polymorphic outbound error shape.
type ErrorPayload struct {
	Message string `json:"message"`
}

// TypingPayload carries the room a typing indicator applies to.
type TypingPayload struct {
	RoomID string `json:"room_id"`
}

// TypingBroadcastPayload is fanned out to room members except the sender.
type TypingBroadcastPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// PresenceUpdatePayload carries opaque client-defined presence data.
type PresenceUpdatePayload struct {
	Presence json.RawMessage `json:"presence"`
}

// PresenceBroadcastPayload is fanned out to every connected user.
type PresenceBroadcastPayload struct {
	UserID   string          `json:"user_id"`
	Presence json.RawMessage `json:"presence"`
}

// PeerLeftPayload notifies room peers that a connection dropped out of
// a call.
type PeerLeftPayload struct {
	ConnectionID string `json:"connection_id"`
}

// MediaJoinPayload carries the room a connection wants to join for the
// media plane.
type MediaJoinPayload struct {
	RoomID string `json:"room_id"`
}

// MediaConnectTransportPayload applies DTLS parameters to one transport.
type MediaConnectTransportPayload struct {
	RoomID      string               `json:"room_id"`
	TransportID string               `json:"transport_id"`
	DTLS        media.DTLSParameters `json:"dtls_parameters"`
}

// MediaProducePayload registers a new producer. Source is optional and
// defaults from Kind.
type MediaProducePayload struct {
	RoomID string      `json:"room_id"`
	Kind   media.Kind  `json:"kind"`
	Source media.Source `json:"source,omitempty"`
}

// MediaConsumePayload requests a consumer for an existing producer.
type MediaConsumePayload struct {
	RoomID          string               `json:"room_id"`
	ProducerID      string               `json:"producer_id"`
	RTPCapabilities media.RTPCapabilities `json:"rtp_capabilities"`
}

// MediaProducerClosePayload closes one of the sender's own producers.
type MediaProducerClosePayload struct {
	RoomID     string `json:"room_id"`
	ProducerID string `json:"producer_id"`
}

// MediaLeavePayload leaves the media room entirely.
type MediaLeavePayload struct {
	RoomID string `json:"room_id"`
}

// MediaTranscriptTogglePayload enables or disables transcription for a
// room.
type MediaTranscriptTogglePayload struct {
	RoomID  string `json:"room_id"`
	Enabled bool   `json:"enabled"`
	Backend string `json:"backend,omitempty"`
}

// MediaPlayAudioPayload starts a file-playback transcription worker.
type MediaPlayAudioPayload struct {
	RoomID  string `json:"room_id"`
	Path    string `json:"path"`
	Speaker string `json:"speaker,omitempty"`
}

// MediaStopAudioPayload stops a running file-playback worker.
type MediaStopAudioPayload struct {
	PlaybackID string `json:"playback_id"`
}

// MediaRouterCapabilitiesPayload is sent right after media:join.
type MediaRouterCapabilitiesPayload struct {
	RTPCapabilities media.RTPCapabilities `json:"rtp_capabilities"`
}

// MediaNewProducerPayload announces a producer to peers (on produce, or
// enumerated to a freshly joined connection).
type MediaNewProducerPayload struct {
	ProducerID   string       `json:"producer_id"`
	ConnectionID string       `json:"connection_id"`
	UserID       string       `json:"user_id"`
	Kind         media.Kind   `json:"kind"`
	Source       media.Source `json:"source"`
}

// MediaProduceResultPayload replies to the producing connection.
type MediaProduceResultPayload struct {
	ProducerID string `json:"producer_id"`
}

// MediaProducerClosedPayload announces a producer went away.
type MediaProducerClosedPayload struct {
	ProducerID string `json:"producer_id"`
}

// MediaTranscriptStatusPayload reports the result of a transcript toggle.
type MediaTranscriptStatusPayload struct {
	RoomID  string `json:"room_id"`
	Enabled bool   `json:"enabled"`
	Backend string `json:"backend,omitempty"`
}

// MediaTranscriptPayload carries one PARTIAL or FINAL transcript
// segment to room members.
type MediaTranscriptPayload struct {
	RoomID              string  `json:"room_id"`
	UserID              string  `json:"user_id"`
	SpeakerName         string  `json:"speaker_name"`
	Text                string  `json:"text"`
	Language            string  `json:"language,omitempty"`
	Confidence          float64 `json:"confidence,omitempty"`
	StartTime           float64 `json:"start_time"`
	EndTime             float64 `json:"end_time"`
	InferenceDurationMs int64   `json:"inference_duration_ms"`
	IsFinal             bool    `json:"is_final"`
	SegmentID           string  `json:"segment_id"`
}

// MediaAudioPlaybackPayload reports playback lifecycle to the requester.
type MediaAudioPlaybackPayload struct {
	PlaybackID string `json:"playback_id"`
	Status     string `json:"status"`
}
