package orch

import (
	"context"
	"time"

	"github.com/dkeye/StudyRoom/internal/core"
	"github.com/dkeye/StudyRoom/internal/domain"
	"github.com/dkeye/StudyRoom/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Register adds a freshly accepted connection to the room named in its meta.
// The last connection of a user wins: an earlier one is kicked first, so the
// room sees peer-left for it before peer-joined for the new one.
func (o *Orchestrator) Register(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	meta := sess.Meta()
	roomID := meta.RoomID

	if room, ok := o.Rooms.Get(roomID); ok {
		if old, ok := room.SessionOf(meta.User.ID); ok && old != sid {
			log.Info().Str("module", "orch").Str("room", string(roomID)).Str("user", string(meta.User.ID)).Str("old_sid", string(old)).Msg("replacing earlier connection")
			o.Kick(old)
		}
	}

	o.Registry.BindSession(sid, roomID, sess, cancel)
	announce, ok := encode(protocol.PeerJoined(peerOf(meta.User)))
	if !ok {
		return
	}

	var (
		room     core.RoomService
		replaced core.SessionID
		res      core.PublishResult
	)
	o.Rooms.Enter(roomID, func(r core.RoomService) {
		room = r
		replaced, res = r.Join(sid, sess, o.clock().Now(), announce)
	})
	if replaced != "" {
		o.Kick(replaced)
	}
	o.handleResult(room, res)
	o.broadcastPresence(room)
}

// Unregister removes sid from its room and tells the others. Safe to call
// any number of times from any path (read error, kick, timeout).
func (o *Orchestrator) Unregister(sid core.SessionID) {
	roomID, sess, ok := o.Registry.Unbind(sid)
	if !ok {
		return
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return
	}
	user := sess.Meta().User
	announce, _ := encode(protocol.PeerLeft(string(user.ID)))
	removed, res := room.Leave(sid, announce)
	if removed {
		log.Info().Str("module", "orch").Str("room", string(roomID)).Str("sid", string(sid)).Str("user", string(user.ID)).Msg("unregistered")
		o.handleResult(room, res)
		o.broadcastPresence(room)
	}
	o.Rooms.RemoveIfEmpty(roomID)
}

// Kick closes the connection and unregisters it right away.
func (o *Orchestrator) Kick(sid core.SessionID) {
	o.Registry.Cancel(sid)
	o.Unregister(sid)
}

func (o *Orchestrator) EvictRoom(id domain.RoomID) {
	room, ok := o.Rooms.Get(id)
	if !ok {
		return
	}
	for _, m := range room.MembersSnapshot("") {
		o.Kick(m.SID)
	}
	o.Rooms.StopRoom(id)
}

// MemberView is the REST shape of one roster entry.
type MemberView struct {
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
	Online      bool          `json:"online"`
	JoinedAt    time.Time     `json:"joinedAt"`
}

func (o *Orchestrator) Members(id domain.RoomID) ([]MemberView, bool) {
	room, ok := o.Rooms.Get(id)
	if !ok {
		return nil, false
	}
	cutoff := o.clock().Now().Add(-o.ttl())
	snap := room.MembersSnapshot("")
	out := make([]MemberView, 0, len(snap))
	for _, m := range snap {
		out = append(out, MemberView{
			UserID:      m.ID,
			DisplayName: m.DisplayName,
			Online:      !m.LastSeen.Before(cutoff),
			JoinedAt:    m.JoinedAt,
		})
	}
	return out, true
}

type Stats struct {
	Rooms    int `json:"rooms"`
	Sessions int `json:"sessions"`
}

func (o *Orchestrator) Stats() Stats {
	return Stats{Rooms: len(o.Rooms.List()), Sessions: o.Registry.Count()}
}
