package core

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/StudyRoom/internal/domain"
	"github.com/rs/zerolog/log"
)

type memberEntry struct {
	sess     MemberSession
	lastSeen time.Time
}

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room   *domain.Room
	mu     sync.RWMutex
	bySID  map[SessionID]*memberEntry
	byUser map[domain.UserID]SessionID
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:   room,
		bySID:  make(map[SessionID]*memberEntry),
		byUser: make(map[domain.UserID]SessionID),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) SessionOf(user domain.UserID) (SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byUser[user]
	return sid, ok
}

func (r *roomImpl) Join(sid SessionID, ms MemberSession, at time.Time, announce Frame) (SessionID, PublishResult) {
	u := ms.Meta().User.ID
	r.mu.Lock()
	defer r.mu.Unlock()

	var replaced SessionID
	if old, ok := r.byUser[u]; ok && old != sid {
		delete(r.bySID, old)
		replaced = old
	}
	r.bySID[sid] = &memberEntry{sess: ms, lastSeen: at}
	r.byUser[u] = sid

	var res PublishResult
	if announce != nil {
		res = r.fanoutLocked(sid, announce)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Str("user", string(u)).Msg("member added")
	return replaced, res
}

func (r *roomImpl) Leave(sid SessionID, announce Frame) (bool, PublishResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bySID[sid]
	if !ok {
		return false, PublishResult{}
	}
	u := e.sess.Meta().User.ID
	delete(r.bySID, sid)
	if r.byUser[u] == sid {
		delete(r.byUser, u)
	}

	var res PublishResult
	if announce != nil {
		res = r.fanoutLocked(sid, announce)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Str("user", string(u)).Msg("member removed")
	return true, res
}

func (r *roomImpl) Broadcast(from SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := r.fanoutLocked(from, data)
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// fanoutLocked sends to everyone but from. Caller holds r.mu.
func (r *roomImpl) fanoutLocked(from SessionID, data Frame) PublishResult {
	res := PublishResult{}
	for sid, e := range r.bySID {
		if sid == from {
			continue
		}
		if err := e.sess.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SendTo++
	}
	return res
}

func (r *roomImpl) SendTo(user domain.UserID, data Frame) (PublishResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byUser[user]
	if !ok {
		return PublishResult{}, false
	}
	return r.sendLocked(sid, data)
}

func (r *roomImpl) SendToSession(sid SessionID, data Frame) (PublishResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sendLocked(sid, data)
}

func (r *roomImpl) sendLocked(sid SessionID, data Frame) (PublishResult, bool) {
	e, ok := r.bySID[sid]
	if !ok {
		return PublishResult{}, false
	}
	if err := e.sess.Signal().TrySend(data); err != nil {
		return PublishResult{Dropped: []SessionID{sid}}, true
	}
	return PublishResult{SendTo: 1}, true
}

func (r *roomImpl) Touch(sid SessionID, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bySID[sid]
	if !ok {
		return false
	}
	if at.After(e.lastSeen) {
		e.lastSeen = at
	}
	return true
}

func (r *roomImpl) Online(cutoff time.Time) []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.bySID))
	for _, e := range r.bySID {
		if !e.lastSeen.Before(cutoff) {
			out = append(out, e.sess.Meta().User.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *roomImpl) Stale(cutoff time.Time) []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SessionID
	for sid, e := range r.bySID {
		if e.lastSeen.Before(cutoff) {
			out = append(out, sid)
		}
	}
	return out
}

func (r *roomImpl) MembersSnapshot(exclude SessionID) []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.bySID))
	for sid, e := range r.bySID {
		if sid == exclude {
			continue
		}
		meta := e.sess.Meta()
		out = append(out, MemberDTO{
			SID:         sid,
			ID:          meta.User.ID,
			DisplayName: meta.User.DisplayName,
			JoinedAt:    meta.JoinedAt,
			LastSeen:    e.lastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}
