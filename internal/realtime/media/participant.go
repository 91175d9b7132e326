package media

import "sync"

// Participant is a connection's membership in one room's call. Keyed
// by connection_id, not user_id, so one user joining from N devices
// gets N independent records.
type Participant struct {
	mu            sync.RWMutex
	connectionID  string
	userID        string
	state         participantState
	sendTransport *Transport
	recvTransport *Transport
	producers     map[string]*Producer // producerID -> Producer, owned by this participant
	consumers     map[string]*Consumer // consumerID -> Consumer, owned by this participant
}

func newParticipant(connectionID, userID string) *Participant {
	return &Participant{
		connectionID: connectionID,
		userID:       userID,
		state:        stateFresh,
		producers:    make(map[string]*Producer),
		consumers:    make(map[string]*Consumer),
	}
}

func (p *Participant) setTransports(send, recv *Transport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendTransport = send
	p.recvTransport = recv
	p.state = stateTransportsCreated
}

func (p *Participant) markTransportConnected(transportID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.sendTransport != nil && p.sendTransport.id == transportID:
		already := p.sendTransport.markConnected()
		if !already {
			p.advanceAfterConnect(true, false)
		}
		return true
	case p.recvTransport != nil && p.recvTransport.id == transportID:
		already := p.recvTransport.markConnected()
		if !already {
			p.advanceAfterConnect(false, true)
		}
		return true
	default:
		return false
	}
}

// advanceAfterConnect moves the state machine forward. Caller holds
// the lock.
func (p *Participant) advanceAfterConnect(send, recv bool) {
	sendOK := send || (p.sendTransport != nil && p.sendTransport.isConnected())
	recvOK := recv || (p.recvTransport != nil && p.recvTransport.isConnected())

	switch {
	case sendOK && recvOK:
		p.state = stateReady
	case sendOK:
		p.state = stateSendConnected
	case recvOK:
		p.state = stateRecvConnected
	}
}

func (p *Participant) canProduce() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sendTransport != nil && p.sendTransport.isConnected()
}

func (p *Participant) canConsume() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.recvTransport != nil && p.recvTransport.isConnected()
}

func (p *Participant) addProducer(pr *Producer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.producers[pr.id] = pr
}

func (p *Participant) removeProducer(producerID string) (*Producer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.producers[producerID]
	if ok {
		delete(p.producers, producerID)
	}
	return pr, ok
}

func (p *Participant) addConsumer(c *Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers[c.id] = c
}

func (p *Participant) allProducers() []*Producer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Producer, 0, len(p.producers))
	for _, pr := range p.producers {
		out = append(out, pr)
	}
	return out
}

func (p *Participant) allConsumers() []*Consumer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		out = append(out, c)
	}
	return out
}

func (p *Participant) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pr := range p.producers {
		pr.closeTap()
	}
	if p.sendTransport != nil {
		p.sendTransport.close()
	}
	if p.recvTransport != nil {
		p.recvTransport.close()
	}
	p.state = stateClosed
}
