package core

import (
	"time"

	"github.com/dkeye/StudyRoom/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

func (p *PublishResult) Merge(other PublishResult) {
	p.SendTo += other.SendTo
	p.Dropped = append(p.Dropped, other.Dropped...)
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	SID         SessionID     `json:"-"`
	ID          domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
	JoinedAt    time.Time     `json:"joinedAt"`
	LastSeen    time.Time     `json:"lastSeen"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
// Join, Leave and every fan-out run under the room lock, so membership
// notices and relayed messages never interleave inconsistently.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot(exclude SessionID) []MemberDTO
	SessionOf(user domain.UserID) (SessionID, bool)

	// Join adds ms and sends announce to every other member. A previous
	// session of the same user is dropped from the roster and returned.
	Join(sid SessionID, ms MemberSession, at time.Time, announce Frame) (replaced SessionID, res PublishResult)
	// Leave removes sid and sends announce to the remaining members.
	Leave(sid SessionID, announce Frame) (removed bool, res PublishResult)

	Broadcast(from SessionID, data Frame) PublishResult
	SendTo(user domain.UserID, data Frame) (PublishResult, bool)
	SendToSession(sid SessionID, data Frame) (PublishResult, bool)

	Touch(sid SessionID, at time.Time) bool
	// Online lists users seen at or after cutoff.
	Online(cutoff time.Time) []domain.UserID
	// Stale lists sessions not seen since cutoff.
	Stale(cutoff time.Time) []SessionID
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	// Enter runs fn on the room while RemoveIfEmpty is held off, so a
	// member joining an empty room cannot land in a discarded one.
	Enter(id domain.RoomID, fn func(RoomService))
	Get(id domain.RoomID) (RoomService, bool)
	All() []RoomService
	List() []RoomInfo
	// RemoveIfEmpty drops the room when nobody is left in it.
	RemoveIfEmpty(id domain.RoomID) bool
	StopRoom(id domain.RoomID)
}
