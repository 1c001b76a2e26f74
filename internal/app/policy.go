package app

import "github.com/dkeye/StudyRoom/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send queue refused a frame.
type Policy interface {
	OnBackPressure(room core.RoomService, sid core.SessionID) BackpressureAction
}

// SimplePolicy treats a full or closed queue as a dead connection.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, sid core.SessionID) BackpressureAction {
	return KickMember
}
