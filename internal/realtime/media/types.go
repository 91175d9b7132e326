// Package media implements the SFU-style room manager: routers,
// per-connection transports, producers, consumers, and RTP taps
// feeding the transcription engine. State is keyed by connection_id
// rather than user_id so multi-device joins get independent
// transports and producers.
package media

import "github.com/pion/webrtc/v3"

// Kind distinguishes audio and video producers/consumers.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Source tags the origin of a producer, defaulting from Kind when the
// client omits it.
type Source string

const (
	SourceAudio  Source = "audio"
	SourceCamera Source = "camera"
	SourceScreen Source = "screen"
)

// participantState is the per-connection room-join state machine
//: Fresh -> TransportsCreated -> {SendConnected,
// RecvConnected} -> Ready -> Closed.
type participantState int

const (
	stateFresh participantState = iota
	stateTransportsCreated
	stateSendConnected
	stateRecvConnected
	stateReady
	stateClosed
)

// RTPCapabilities describes the codec set a router or client supports.
type RTPCapabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

// CodecCapability mirrors the subset of webrtc.RTPCodecCapability the
// wire protocol needs to report to clients.
type CodecCapability struct {
	MimeType     string `json:"mime_type"`
	ClockRate    uint32 `json:"clock_rate"`
	Channels     uint16 `json:"channels,omitempty"`
	SDPFmtpLine  string `json:"sdp_fmtp_line,omitempty"`
	PayloadType  uint8  `json:"payload_type"`
}

// ICEParameters and ICECandidate mirror pion's WebRTC types but are
// redeclared here so the wire payload shape is stable regardless of
// the underlying media engine.
type ICEParameters struct {
	UsernameFragment string `json:"username_fragment"`
	Password         string `json:"password"`
}

// ICECandidate describes one ICE candidate; Protocol is "udp" or
// "tcp", TCPType is "passive" for TCP candidates since every
// transport advertises both.
type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcp_type,omitempty"`
}

// DTLSParameters carries the fingerprint set needed to complete a
// DTLS handshake on a transport.
type DTLSParameters struct {
	Role         string          `json:"role"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// TransportInfo is returned to the client on create_transports; it
// carries both directions plus the ICE servers the client should use.
type TransportInfo struct {
	ID             string          `json:"id"`
	ICEParameters  ICEParameters   `json:"ice_parameters"`
	ICECandidates  []ICECandidate  `json:"ice_candidates"`
	DTLSParameters DTLSParameters  `json:"dtls_parameters"`
}

// TransportsCreated is the full payload for media:transport_created.
type TransportsCreated struct {
	SendTransport TransportInfo `json:"send_transport"`
	RecvTransport TransportInfo `json:"recv_transport"`
	ICEServers    []ICEServer   `json:"ice_servers"`
	ForceRelay    bool          `json:"force_relay"`
}

// ICEServer mirrors the subset of webrtc.ICEServer the wire protocol
// needs.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ProducerInfo describes a producer visible to a newly-joining
// connection.
type ProducerInfo struct {
	ProducerID   string `json:"producer_id"`
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	Kind         Kind   `json:"kind"`
	Source       Source `json:"source"`
}

// ConsumerInfo is returned from Consume.
type ConsumerInfo struct {
	ID            string                      `json:"id"`
	ProducerID    string                      `json:"producer_id"`
	Kind          Kind                        `json:"kind"`
	RTPParameters webrtc.RTPCodecParameters   `json:"rtp_parameters"`
}

// RTPPacket is the payload a tap forwards to the transcription
// pipeline — raw bytes plus the parsed sequence number so the
// ingestion task can detect gaps without re-parsing.
type RTPPacket struct {
	SequenceNumber uint16
	Payload        []byte
	Timestamp      uint32
}
