package orch

import (
	"context"
	"time"

	"github.com/dkeye/StudyRoom/internal/core"
	"github.com/dkeye/StudyRoom/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Heartbeat marks sid as seen now. Route does the same for heartbeat envelopes.
func (o *Orchestrator) Heartbeat(sid core.SessionID) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	if room, ok := o.Rooms.Get(roomID); ok {
		room.Touch(sid, o.clock().Now())
	}
}

func (o *Orchestrator) broadcastPresence(room core.RoomService) {
	if room == nil {
		return
	}
	online := room.Online(o.clock().Now().Add(-o.ttl()))
	ids := make([]string, 0, len(online))
	for _, u := range online {
		ids = append(ids, string(u))
	}
	data, ok := encode(protocol.PresenceUpdate(ids))
	if !ok {
		return
	}
	o.handleResult(room, room.Broadcast("", data))
}

// SweepPresence kicks members past the hard timeout and sends every room its
// current online set.
func (o *Orchestrator) SweepPresence() {
	now := o.clock().Now()
	for _, room := range o.Rooms.All() {
		if o.HardTimeout > 0 {
			for _, sid := range room.Stale(now.Add(-o.HardTimeout)) {
				log.Info().Str("module", "orch").Str("room", string(room.Room().ID)).Str("sid", string(sid)).Msg("heartbeat hard timeout")
				o.Kick(sid)
			}
		}
		if room.MemberCount() == 0 {
			o.Rooms.RemoveIfEmpty(room.Room().ID)
			continue
		}
		o.broadcastPresence(room)
	}
}

// RunPresence sweeps every interval until ctx is done.
func (o *Orchestrator) RunPresence(ctx context.Context, interval time.Duration) {
	ticker := o.clock().Ticker(interval)
	defer ticker.Stop()
	log.Info().Str("module", "orch").Dur("interval", interval).Msg("presence sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "orch").Msg("presence sweeper stopped")
			return
		case <-ticker.C:
			o.SweepPresence()
		}
	}
}
