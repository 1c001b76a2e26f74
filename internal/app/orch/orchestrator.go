package orch

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/StudyRoom/internal/app"
	"github.com/dkeye/StudyRoom/internal/core"
	"github.com/dkeye/StudyRoom/internal/domain"
	"github.com/dkeye/StudyRoom/internal/protocol"
	"github.com/rs/zerolog/log"
)

const DefaultHeartbeatTTL = 60 * time.Second

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Clock    clock.Clock

	HeartbeatTTL time.Duration
	// HardTimeout unregisters members that stopped heartbeating; zero disables it.
	HardTimeout time.Duration
}

func (o *Orchestrator) clock() clock.Clock {
	if o.Clock == nil {
		return clock.New()
	}
	return o.Clock
}

func (o *Orchestrator) ttl() time.Duration {
	if o.HeartbeatTTL <= 0 {
		return DefaultHeartbeatTTL
	}
	return o.HeartbeatTTL
}

// Route dispatches one inbound envelope from the connection sid.
func (o *Orchestrator) Route(sid core.SessionID, env protocol.Envelope) {
	roomID, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("type", string(env.Type)).Msg("route: unknown session")
		return
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return
	}

	switch env.Type {
	case protocol.KindGetPeers:
		o.sendPeers(room, sid)
	case protocol.KindHeartbeat:
		room.Touch(sid, o.clock().Now())
	case protocol.KindOffer, protocol.KindAnswer, protocol.KindICE,
		protocol.KindScreenShareStart, protocol.KindScreenShareStop,
		protocol.KindCanvasDraw, protocol.KindCanvasClear,
		protocol.KindTypingStart, protocol.KindTypingStop,
		protocol.KindCallHangup:
		o.relay(room, sid, peerOf(sess.Meta().User), env)
	case protocol.KindPeersList, protocol.KindPeerJoined, protocol.KindPeerLeft, protocol.KindPresenceUpdate:
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("type", string(env.Type)).Msg("client sent registry-only message, dropped")
	default:
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("type", string(env.Type)).Msg("unknown message, dropped")
	}
}

func (o *Orchestrator) relay(room core.RoomService, sid core.SessionID, from protocol.Peer, env protocol.Envelope) {
	data, err := protocol.Encode(env.Stamp(from))
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("relay: invalid envelope")
		return
	}

	if env.TargetUserID == "" {
		o.handleResult(room, room.Broadcast(sid, data))
		return
	}
	if env.TargetUserID == from.UserID {
		return
	}
	res, ok := room.SendTo(domain.UserID(env.TargetUserID), data)
	if !ok {
		// the target already left; the race is expected
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("target", env.TargetUserID).Str("type", string(env.Type)).Msg("relay: target absent, dropped")
		return
	}
	o.handleResult(room, res)
}

func (o *Orchestrator) sendPeers(room core.RoomService, sid core.SessionID) {
	snap := room.MembersSnapshot(sid)
	peers := make([]protocol.Peer, 0, len(snap))
	for _, m := range snap {
		peers = append(peers, protocol.Peer{UserID: string(m.ID), DisplayName: m.DisplayName})
	}
	data, ok := encode(protocol.PeersList(peers))
	if !ok {
		return
	}
	if res, ok := room.SendToSession(sid, data); ok {
		o.handleResult(room, res)
	}
}

// handleResult applies the backpressure policy to every member that refused a frame.
func (o *Orchestrator) handleResult(room core.RoomService, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("room", string(room.Room().ID)).Str("sid", string(slow)).Msg("send failed, kicking member")
			o.Kick(slow)
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

func peerOf(u *domain.User) protocol.Peer {
	return protocol.Peer{UserID: string(u.ID), DisplayName: u.DisplayName}
}

func encode(env protocol.Envelope) (core.Frame, bool) {
	data, err := protocol.Encode(env)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", string(env.Type)).Msg("encode")
		return nil, false
	}
	return data, true
}
