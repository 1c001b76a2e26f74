package core

import "github.com/dkeye/StudyRoom/internal/domain"

// SessionID is the connection handle: one per accepted socket.
type SessionID string

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}
