package core

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RTPReader is satisfied by *webrtc.TrackRemote and by local RTP sources.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RemoteTrack is the subset of *webrtc.TrackRemote a peer link consumes.
type RemoteTrack interface {
	RTPReader
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// TrackSender is the outgoing side of one transceiver; *webrtc.RTPSender satisfies it.
type TrackSender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// MediaConnection is one point-to-point media link to a single remote peer.
// Callbacks fire on the implementation's goroutines.
type MediaConnection interface {
	// AddTrack attaches a local track and returns its sender.
	AddTrack(track webrtc.TrackLocal) (TrackSender, error)
	// AddRecvOnly makes sure an offer asks for kind even when nothing local is sent.
	AddRecvOnly(kind webrtc.RTPCodecType) error

	// CreateOffer creates an offer and sets it as local description.
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	// ApplyOffer sets the remote offer, then creates and sets the local answer.
	ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	// Rollback discards a pending local offer.
	Rollback() error
	HasRemoteDescription() bool
	PendingLocalOffer() bool

	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnICEStateChange(func(webrtc.ICEConnectionState))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(RemoteTrack))

	Close() error
}

// MediaFactory opens a MediaConnection toward peerID.
type MediaFactory func(peerID string) (MediaConnection, error)
