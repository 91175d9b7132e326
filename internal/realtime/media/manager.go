package media

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/relaycore/rtc/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// Room owns one call's router and participant/producer tables.
// Producers are indexed both by owning participant and by producer_id
// for fast lookup during consume.
type Room struct {
	mu            sync.RWMutex
	id            string
	router        *Router
	participants  map[string]*Participant // connection_id -> Participant
	producersByID map[string]*Producer    // producer_id -> Producer
}

// Manager is the media room manager. All state is keyed by room_id
// such that concurrent multi-room and multi-tab use is safe: a single
// RWMutex guards the room table, and each room guards its own
// participant/producer tables independently.
type Manager struct {
	mu          sync.RWMutex
	rooms       map[string]*Room
	announcedIP string
	iceServers  []webrtc.ICEServer
	logger      *slog.Logger
}

func NewManager(announcedIP string, iceServers []webrtc.ICEServer, logger *slog.Logger) *Manager {
	return &Manager{
		rooms:       make(map[string]*Room),
		announcedIP: announcedIP,
		iceServers:  iceServers,
		logger:      logger.With("component", "media_manager"),
	}
}

// CreateRoom is idempotent: creating an existing room returns its
// current capabilities.
func (m *Manager) CreateRoom(roomID string) (RTPCapabilities, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.rooms[roomID]; ok {
		return room.router.capabilities, nil
	}

	router, err := newRouter(roomID)
	if err != nil {
		return RTPCapabilities{}, domain.Internal("router_create_failed", "failed to create media router").Wrap(err)
	}

	room := &Room{
		id:            roomID,
		router:        router,
		participants:  make(map[string]*Participant),
		producersByID: make(map[string]*Producer),
	}
	m.rooms[roomID] = room
	m.logger.Info("room created", "room_id", roomID)
	return router.capabilities, nil
}

func (m *Manager) getRoom(roomID string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomMissing
	}
	return room, nil
}

// CreateTransports creates two WebRTC-compatible transports for a
// connection. If transports already exist for this connection_id,
// the old ones are replaced and closed first.
func (m *Manager) CreateTransports(roomID, userID, connectionID string) (TransportsCreated, error) {
	room, err := m.getRoom(roomID)
	if err != nil {
		return TransportsCreated{}, err
	}

	room.mu.Lock()
	participant, exists := room.participants[connectionID]
	if exists {
		participant.close()
	} else {
		participant = newParticipant(connectionID, userID)
		room.participants[connectionID] = participant
	}
	room.mu.Unlock()

	sendPC, sendCert, err := room.router.newPeerConnection(m.iceServers)
	if err != nil {
		return TransportsCreated{}, domain.Internal("transport_create_failed", "failed to create send transport").Wrap(err)
	}
	recvPC, recvCert, err := room.router.newPeerConnection(m.iceServers)
	if err != nil {
		return TransportsCreated{}, domain.Internal("transport_create_failed", "failed to create recv transport").Wrap(err)
	}

	sendTransport := &Transport{id: uuid.NewString(), dir: directionSend, pc: sendPC, cert: sendCert}
	recvTransport := &Transport{id: uuid.NewString(), dir: directionRecv, pc: recvPC, cert: recvCert}

	// Accept incoming audio+video on the send transport; OnTrack wires
	// the actual remote track into whichever Producer entry Produce()
	// registered for this kind.
	sendPC.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.handleIncomingTrack(room, participant, remote)
	})

	participant.setTransports(sendTransport, recvTransport)

	return TransportsCreated{
		SendTransport: sendTransport.info(m.announcedIP),
		RecvTransport: recvTransport.info(m.announcedIP),
		ICEServers:    toWireICEServers(m.iceServers),
	}, nil
}

func toWireICEServers(servers []webrtc.ICEServer) []ICEServer {
	out := make([]ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, ICEServer{URLs: s.URLs, Username: s.Username, Credential: credentialString(s.Credential)})
	}
	return out
}

func credentialString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// ConnectTransport applies DTLS parameters exactly once per transport;
// subsequent calls are no-ops.
func (m *Manager) ConnectTransport(roomID, connectionID, transportID string, _ DTLSParameters) error {
	room, err := m.getRoom(roomID)
	if err != nil {
		return err
	}

	room.mu.RLock()
	participant, ok := room.participants[connectionID]
	room.mu.RUnlock()
	if !ok {
		return domain.ErrTransportMissing
	}

	if !participant.markTransportConnected(transportID) {
		return domain.ErrTransportMissing
	}
	return nil
}

// Produce registers a new producer on the connection's send transport.
// Fails with TransportNotConnected if connect_transport has not yet
// succeeded for the send transport.
func (m *Manager) Produce(roomID, connectionID string, kind Kind, source Source) (string, error) {
	room, err := m.getRoom(roomID)
	if err != nil {
		return "", err
	}

	room.mu.RLock()
	participant, ok := room.participants[connectionID]
	room.mu.RUnlock()
	if !ok {
		return "", domain.ErrTransportMissing
	}
	if !participant.canProduce() {
		return "", domain.ErrTransportNotConnected
	}

	if source == "" {
		if kind == KindVideo {
			source = SourceCamera
		} else {
			source = SourceAudio
		}
	}

	producerID := uuid.NewString()
	producer := newProducer(producerID, connectionID, participant.userID, kind, source, nil)
	participant.addProducer(producer)

	room.mu.Lock()
	room.producersByID[producerID] = producer
	room.mu.Unlock()

	return producerID, nil
}

// handleIncomingTrack wires an actual remote track into whichever
// pending producer matches its kind and starts forwarding RTP to
// every existing consumer plus the RTP tap, if attached.
func (m *Manager) handleIncomingTrack(room *Room, participant *Participant, remote *webrtc.TrackRemote) {
	kind := KindAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = KindVideo
	}

	var target *Producer
	for _, pr := range participant.allProducers() {
		if pr.kind == kind && pr.remoteTrack == nil {
			target = pr
			break
		}
	}
	if target == nil {
		return
	}
	target.remoteTrack = remote

	go m.forwardTrack(room, target, remote)
}

func (m *Manager) forwardTrack(room *Room, producer *Producer, remote *webrtc.TrackRemote) {
	for {
		packet, _, err := remote.ReadRTP()
		if err != nil {
			return
		}

		producer.forwardToTap(rtpPacketFrom(packet))

		for _, consumer := range producer.allConsumers() {
			if consumer.localTrack == nil {
				continue
			}
			if writeErr := consumer.localTrack.WriteRTP(packet); writeErr != nil {
				m.logger.Debug("failed to write RTP to consumer", "consumer_id", consumer.id, "error", writeErr)
			}
		}
	}
}

func rtpPacketFrom(p *rtp.Packet) RTPPacket {
	return RTPPacket{
		SequenceNumber: p.SequenceNumber,
		Payload:        p.Payload,
		Timestamp:      p.Timestamp,
	}
}

// Consume creates a consumer on the recv transport for an existing
// producer. Fails with TransportNotConnected if recv
// hasn't connected yet.
func (m *Manager) Consume(roomID, connectionID, producerID string, _ RTPCapabilities) (ConsumerInfo, error) {
	room, err := m.getRoom(roomID)
	if err != nil {
		return ConsumerInfo{}, err
	}

	room.mu.RLock()
	participant, ok := room.participants[connectionID]
	producer, producerOK := room.producersByID[producerID]
	room.mu.RUnlock()
	if !ok {
		return ConsumerInfo{}, domain.ErrTransportMissing
	}
	if !producerOK {
		return ConsumerInfo{}, domain.ErrProducerMissing
	}
	if !participant.canConsume() {
		return ConsumerInfo{}, domain.ErrTransportNotConnected
	}

	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if producer.kind == KindVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}

	localTrack, err := webrtc.NewTrackLocalStaticRTP(capability, producer.id, producer.connectionID)
	if err != nil {
		return ConsumerInfo{}, domain.ErrIncompatible.Wrap(err)
	}

	sender, err := participant.recvTransport.pc.AddTrack(localTrack)
	if err != nil {
		return ConsumerInfo{}, domain.ErrIncompatible.Wrap(err)
	}
	go drainRTCP(sender)

	consumer := &Consumer{
		id:           uuid.NewString(),
		producerID:   producerID,
		connectionID: connectionID,
		kind:         producer.kind,
		localTrack:   localTrack,
		rtpSender:    sender,
	}
	participant.addConsumer(consumer)
	producer.addConsumer(consumer)

	return ConsumerInfo{
		ID:         consumer.id,
		ProducerID: producerID,
		Kind:       producer.kind,
	}, nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// CloseProducer removes the producer and any RTP tap; returns whether
// it existed.
func (m *Manager) CloseProducer(roomID, connectionID, producerID string) (bool, error) {
	room, err := m.getRoom(roomID)
	if err != nil {
		return false, err
	}

	room.mu.RLock()
	participant, ok := room.participants[connectionID]
	room.mu.RUnlock()
	if !ok {
		return false, nil
	}

	producer, existed := participant.removeProducer(producerID)
	if !existed {
		return false, nil
	}
	producer.closeTap()

	room.mu.Lock()
	delete(room.producersByID, producerID)
	room.mu.Unlock()

	return true, nil
}

// CloseParticipant closes all producers, consumers, and transports
// belonging to the connection, and returns the connection_ids of
// remaining peers that should be notified.
func (m *Manager) CloseParticipant(roomID, connectionID string) ([]string, error) {
	room, err := m.getRoom(roomID)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	participant, ok := room.participants[connectionID]
	if !ok {
		room.mu.Unlock()
		return nil, nil
	}
	delete(room.participants, connectionID)
	for _, pr := range participant.allProducers() {
		delete(room.producersByID, pr.id)
	}

	peers := make([]string, 0, len(room.participants))
	for cid := range room.participants {
		peers = append(peers, cid)
	}
	room.mu.Unlock()

	participant.close()
	return peers, nil
}

// RemoveRoom closes the router; all participants are implicitly
// closed. Safe under concurrent calls (first wins).
func (m *Manager) RemoveRoom(roomID string) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, roomID)
	m.mu.Unlock()

	room.mu.Lock()
	defer room.mu.Unlock()
	for _, p := range room.participants {
		p.close()
	}
}

// CreateRTPTap attaches a direct tap to the producer forwarding parsed
// RTP packets onto a bounded channel. Exactly one tap per
// producer; a second call replaces the first.
func (m *Manager) CreateRTPTap(roomID, producerID string) (<-chan RTPPacket, error) {
	room, err := m.getRoom(roomID)
	if err != nil {
		return nil, err
	}

	room.mu.RLock()
	producer, ok := room.producersByID[producerID]
	room.mu.RUnlock()
	if !ok {
		return nil, domain.ErrProducerMissing
	}

	return producer.attachTap(), nil
}

// ProducersVisibleTo returns every producer in the room excluding
// those owned by connectionID.
func (m *Manager) ProducersVisibleTo(roomID, connectionID string) ([]ProducerInfo, error) {
	room, err := m.getRoom(roomID)
	if err != nil {
		return nil, err
	}

	room.mu.RLock()
	defer room.mu.RUnlock()

	out := make([]ProducerInfo, 0, len(room.producersByID))
	for _, pr := range room.producersByID {
		if pr.connectionID == connectionID {
			continue
		}
		out = append(out, pr.info())
	}
	return out, nil
}
