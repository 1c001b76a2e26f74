package call

import (
	"github.com/benbjohnson/clock"
	"github.com/dkeye/StudyRoom/internal/core"
	"github.com/pion/webrtc/v4"
)

type LinkState int

const (
	LinkNew LinkState = iota
	LinkNegotiating
	LinkConnected
	LinkDisconnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkNegotiating:
		return "negotiating"
	case LinkConnected:
		return "connected"
	case LinkDisconnected:
		return "disconnected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// peerLink is the local state for one media connection to one peer. Only
// the event loop touches it.
type peerLink struct {
	peer    string
	mc      core.MediaConnection
	state   LinkState
	offerer bool

	audioSender core.TrackSender
	videoSender core.TrackSender

	// remote candidates that arrived before the remote description
	pending      []webrtc.ICECandidateInit
	remoteTracks int
	grace        *clock.Timer
}

func (l *peerLink) stopGrace() {
	if l.grace != nil {
		l.grace.Stop()
		l.grace = nil
	}
}

// LinkInfo is a read-only view of one link.
type LinkInfo struct {
	PeerID        string
	State         LinkState
	Offerer       bool
	IsScreenShare bool
	RemoteTracks  int
}

// Snapshot is the call state as seen from the event loop.
type Snapshot struct {
	InCall        bool
	AudioOnly     bool
	AudioEnabled  bool
	VideoEnabled  bool
	ScreenSharing bool
	Links         []LinkInfo
}

// Link returns the entry for peer, if any.
func (s Snapshot) Link(peer string) (LinkInfo, bool) {
	for _, l := range s.Links {
		if l.PeerID == peer {
			return l, true
		}
	}
	return LinkInfo{}, false
}
