package media

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// Producer is a server-side object representing one participant's
// media track. At most one RTP tap per producer.
type Producer struct {
	mu           sync.Mutex
	id           string
	connectionID string
	userID       string
	kind         Kind
	source       Source
	remoteTrack  *webrtc.TrackRemote
	tap          chan RTPPacket
	consumers    map[string]*Consumer // consumerID -> Consumer, one per recipient
}

func newProducer(id, connectionID, userID string, kind Kind, source Source, remote *webrtc.TrackRemote) *Producer {
	return &Producer{
		id:           id,
		connectionID: connectionID,
		userID:       userID,
		kind:         kind,
		source:       source,
		remoteTrack:  remote,
		consumers:    make(map[string]*Consumer),
	}
}

func (p *Producer) info() ProducerInfo {
	return ProducerInfo{
		ProducerID:   p.id,
		ConnectionID: p.connectionID,
		UserID:       p.userID,
		Kind:         p.kind,
		Source:       p.source,
	}
}

// attachTap installs (or replaces) the RTP tap feeding the
// transcription pipeline. Capacity is sized for roughly 200ms of
// 20ms-framed audio packets.
const tapCapacity = 10

func (p *Producer) attachTap() <-chan RTPPacket {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tap != nil {
		close(p.tap)
	}
	ch := make(chan RTPPacket, tapCapacity)
	p.tap = ch
	return ch
}

func (p *Producer) forwardToTap(pkt RTPPacket) {
	p.mu.Lock()
	tap := p.tap
	p.mu.Unlock()
	if tap == nil {
		return
	}
	select {
	case tap <- pkt:
	default:
		// Drop on full, favoring freshness over completeness.
	}
}

func (p *Producer) closeTap() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tap != nil {
		close(p.tap)
		p.tap = nil
	}
}

func (p *Producer) addConsumer(c *Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers[c.id] = c
}

func (p *Producer) removeConsumer(consumerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.consumers, consumerID)
}

func (p *Producer) allConsumers() []*Consumer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		out = append(out, c)
	}
	return out
}

// Consumer is one recipient's view of a producer.
type Consumer struct {
	id           string
	producerID   string
	connectionID string
	kind         Kind
	localTrack   *webrtc.TrackLocalStaticRTP
	rtpSender    *webrtc.RTPSender
}
