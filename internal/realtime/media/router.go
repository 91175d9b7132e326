package media

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/pion/webrtc/v3"
)

// Router owns one room's codec set and the pion API instance used to
// build every participant's transports.
type Router struct {
	roomID       string
	api          *webrtc.API
	capabilities RTPCapabilities
}

// defaultCodecs reports the codec set every router advertises: Opus
// audio and VP8 baseline video.
func defaultCodecs() []CodecCapability {
	return []CodecCapability{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1", PayloadType: 111},
		{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000, PayloadType: 96},
	}
}

func newRouter(roomID string) (*Router, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	return &Router{
		roomID:       roomID,
		api:          api,
		capabilities: RTPCapabilities{Codecs: defaultCodecs()},
	}, nil
}

// newPeerConnection builds a PeerConnection on its own freshly
// generated DTLS certificate, so its real fingerprint is available to
// the wire protocol without waiting on any SDP negotiation.
func (r *Router) newPeerConnection(iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, webrtc.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, webrtc.Certificate{}, err
	}
	cert, err := webrtc.GenerateCertificate(key)
	if err != nil {
		return nil, webrtc.Certificate{}, err
	}

	pc, err := r.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers, Certificates: []webrtc.Certificate{*cert}})
	if err != nil {
		return nil, webrtc.Certificate{}, err
	}
	return pc, *cert, nil
}
