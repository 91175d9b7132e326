package signaling

import (
	"context"
	"encoding/json"

	"github.com/relaycore/rtc/internal/domain"
	"github.com/relaycore/rtc/internal/realtime/media"
)

func (d *Dispatcher) handleMediaJoin(c *Client, data json.RawMessage) {
	var p MediaJoinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.mediaError(c, domain.Validation("invalid_payload", "invalid media:join payload"))
		return
	}

	ctx := context.Background()
	isMember, err := d.membership.IsMember(ctx, p.RoomID, c.userID)
	if err != nil {
		d.mediaError(c, err)
		return
	}
	if !isMember {
		d.mediaError(c, domain.ErrNotMember)
		return
	}

	caps, err := d.media.CreateRoom(p.RoomID)
	if err != nil {
		d.mediaError(c, err)
		return
	}

	transports, err := d.media.CreateTransports(p.RoomID, c.userID, c.connectionID)
	if err != nil {
		d.mediaError(c, err)
		return
	}

	if err := d.membership.JoinParticipant(ctx, p.RoomID, c.userID, "", c.connectionID); err != nil {
		d.logger.Warn("failed to record call participant", "room_id", p.RoomID, "user_id", c.userID, "error", err)
	}

	d.setConnRoom(c.connectionID, p.RoomID)

	if d.turn != nil {
		transports.ICEServers = d.turn.ServersFor(c.userID)
	}

	c.sendEnvelope(EventMediaRouterCaps, MediaRouterCapabilitiesPayload{RTPCapabilities: caps})
	c.sendEnvelope(EventMediaTransportMade, transports)

	visible, err := d.media.ProducersVisibleTo(p.RoomID, c.connectionID)
	if err != nil {
		d.logger.Warn("failed to enumerate producers for new joiner", "room_id", p.RoomID, "error", err)
		return
	}
	for _, pr := range visible {
		c.sendEnvelope(EventMediaNewProducer, MediaNewProducerPayload{
			ProducerID:   pr.ProducerID,
			ConnectionID: pr.ConnectionID,
			UserID:       pr.UserID,
			Kind:         pr.Kind,
			Source:       pr.Source,
		})
		d.transcription.NotifyProducer(p.RoomID, pr.ProducerID, pr.ConnectionID, pr.UserID, d.speakerName(ctx, pr.UserID), pr.Kind, func() (<-chan media.RTPPacket, error) {
			return d.media.CreateRTPTap(p.RoomID, pr.ProducerID)
		})
	}
}

func (d *Dispatcher) handleMediaConnectTransport(c *Client, data json.RawMessage) {
	var p MediaConnectTransportPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.mediaError(c, domain.Validation("invalid_payload", "invalid media:connect_transport payload"))
		return
	}

	if err := d.media.ConnectTransport(p.RoomID, c.connectionID, p.TransportID, p.DTLS); err != nil {
		d.mediaError(c, err)
	}
}

func (d *Dispatcher) handleMediaProduce(c *Client, data json.RawMessage) {
	var p MediaProducePayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.mediaError(c, domain.Validation("invalid_payload", "invalid media:produce payload"))
		return
	}

	producerID, err := d.media.Produce(p.RoomID, c.connectionID, p.Kind, p.Source)
	if err != nil {
		d.mediaError(c, err)
		return
	}

	c.sendEnvelope(EventMediaProduceResult, MediaProduceResultPayload{ProducerID: producerID})

	d.transcription.NotifyProducer(p.RoomID, producerID, c.connectionID, c.userID, d.speakerName(context.Background(), c.userID), p.Kind, func() (<-chan media.RTPPacket, error) {
		return d.media.CreateRTPTap(p.RoomID, producerID)
	})

	roomID, inRoom := d.roomFor(c.connectionID)
	if !inRoom {
		return
	}
	source := p.Source
	if source == "" {
		if p.Kind == media.KindVideo {
			source = media.SourceCamera
		} else {
			source = media.SourceAudio
		}
	}
	frame := mustEnvelope(EventMediaNewProducer, MediaNewProducerPayload{
		ProducerID:   producerID,
		ConnectionID: c.connectionID,
		UserID:       c.userID,
		Kind:         p.Kind,
		Source:       source,
	})
	memberIDs, err := d.membership.MemberUserIDs(context.Background(), roomID)
	if err != nil {
		d.logger.Warn("failed to resolve room members for new-producer broadcast", "room_id", roomID, "error", err)
		return
	}
	d.broadcastToUsersExceptConn(memberIDs, c.connectionID, frame)
}

func (d *Dispatcher) handleMediaConsume(c *Client, data json.RawMessage) {
	var p MediaConsumePayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.mediaError(c, domain.Validation("invalid_payload", "invalid media:consume payload"))
		return
	}

	info, err := d.media.Consume(p.RoomID, c.connectionID, p.ProducerID, p.RTPCapabilities)
	if err != nil {
		d.mediaError(c, err)
		return
	}

	c.sendEnvelope(EventMediaConsumerMade, info)
}

func (d *Dispatcher) handleMediaProducerClose(c *Client, data json.RawMessage) {
	var p MediaProducerClosePayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.mediaError(c, domain.Validation("invalid_payload", "invalid media:producer_close payload"))
		return
	}

	existed, err := d.media.CloseProducer(p.RoomID, c.connectionID, p.ProducerID)
	if err != nil {
		d.mediaError(c, err)
		return
	}
	if !existed {
		return
	}

	roomID, inRoom := d.roomFor(c.connectionID)
	if !inRoom {
		return
	}
	d.transcription.StopProducer(roomID, p.ProducerID)
	frame := mustEnvelope(EventMediaProducerClosed, MediaProducerClosedPayload{ProducerID: p.ProducerID})
	memberIDs, err := d.membership.MemberUserIDs(context.Background(), roomID)
	if err != nil {
		return
	}
	d.broadcastToUsersExceptConn(memberIDs, c.connectionID, frame)
}

func (d *Dispatcher) handleMediaLeave(c *Client, data json.RawMessage) {
	var p MediaLeavePayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.mediaError(c, domain.Validation("invalid_payload", "invalid media:leave payload"))
		return
	}

	peers, err := d.media.CloseParticipant(p.RoomID, c.connectionID)
	if err != nil {
		d.mediaError(c, err)
		return
	}
	d.clearConnRoom(c.connectionID)
	_ = d.membership.LeaveParticipant(context.Background(), p.RoomID, c.userID)

	frame := mustEnvelope(EventMediaPeerLeft, PeerLeftPayload{ConnectionID: c.connectionID})
	for _, peerConnectionID := range peers {
		if sink, ok := d.registry.SinkByConnection(peerConnectionID); ok {
			sink.Send(frame)
		}
	}
}

func (d *Dispatcher) handleMediaTranscriptToggle(c *Client, data json.RawMessage) {
	var p MediaTranscriptTogglePayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.mediaError(c, domain.Validation("invalid_payload", "invalid media:transcript_toggle payload"))
		return
	}

	if p.Enabled {
		if err := d.transcription.EnableRoom(p.RoomID, p.Backend); err != nil {
			d.mediaError(c, err)
			return
		}
		if producers, err := d.media.ProducersVisibleTo(p.RoomID, ""); err == nil {
			for _, pr := range producers {
				pr := pr
				d.transcription.NotifyProducer(p.RoomID, pr.ProducerID, pr.ConnectionID, pr.UserID, d.speakerName(context.Background(), pr.UserID), pr.Kind, func() (<-chan media.RTPPacket, error) {
					return d.media.CreateRTPTap(p.RoomID, pr.ProducerID)
				})
			}
		}
	} else {
		d.transcription.DisableRoom(p.RoomID)
	}

	c.sendEnvelope(EventMediaTranscriptStat, MediaTranscriptStatusPayload{RoomID: p.RoomID, Enabled: p.Enabled, Backend: p.Backend})
}

func (d *Dispatcher) handleMediaPlayAudio(c *Client, data json.RawMessage) {
	var p MediaPlayAudioPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.mediaError(c, domain.Validation("invalid_payload", "invalid media:play_audio payload"))
		return
	}

	playbackID, err := d.transcription.StartFilePlayback(context.Background(), p.RoomID, c.connectionID, c.userID, p.Path, p.Speaker)
	if err != nil {
		d.mediaError(c, err)
		return
	}

	c.sendEnvelope(EventMediaAudioPlayback, MediaAudioPlaybackPayload{PlaybackID: playbackID, Status: "started"})
}

func (d *Dispatcher) handleMediaStopAudio(c *Client, data json.RawMessage) {
	var p MediaStopAudioPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.mediaError(c, domain.Validation("invalid_payload", "invalid media:stop_audio payload"))
		return
	}

	d.transcription.StopPlayback(p.PlaybackID)
	c.sendEnvelope(EventMediaAudioPlayback, MediaAudioPlaybackPayload{PlaybackID: p.PlaybackID, Status: "stopped"})
}
