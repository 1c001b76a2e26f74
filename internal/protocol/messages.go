package protocol

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

type Tool string

const (
	ToolPen    Tool = "pen"
	ToolEraser Tool = "eraser"
)

// DrawData is one stroke segment from (PrevX, PrevY) to (X, Y).
type DrawData struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	PrevX float64 `json:"prevX"`
	PrevY float64 `json:"prevY"`
	Color string  `json:"color"`
	Size  float64 `json:"size"`
	Tool  Tool    `json:"tool"`
}

func (d DrawData) Validate() error {
	switch d.Tool {
	case ToolPen, ToolEraser:
	default:
		return fmt.Errorf("%w: tool %q", ErrInvalidField, d.Tool)
	}
	if d.Size <= 0 {
		return fmt.Errorf("%w: size %v", ErrInvalidField, d.Size)
	}
	return nil
}

func GetPeers() Envelope  { return Envelope{Type: KindGetPeers} }
func Heartbeat() Envelope { return Envelope{Type: KindHeartbeat} }

func PeersList(peers []Peer) Envelope {
	return Envelope{Type: KindPeersList, Peers: peers}
}

func PeerJoined(p Peer) Envelope {
	return Envelope{Type: KindPeerJoined, UserID: p.UserID, DisplayName: p.DisplayName}
}

func PeerLeft(userID string) Envelope {
	return Envelope{Type: KindPeerLeft, UserID: userID}
}

func PresenceUpdate(online []string) Envelope {
	return Envelope{Type: KindPresenceUpdate, Online: online}
}

func Offer(target string, sdp webrtc.SessionDescription) Envelope {
	return Envelope{Type: KindOffer, TargetUserID: target, SDP: &sdp}
}

func Answer(target string, sdp webrtc.SessionDescription) Envelope {
	return Envelope{Type: KindAnswer, TargetUserID: target, SDP: &sdp}
}

func ICE(target string, c webrtc.ICECandidateInit) Envelope {
	return Envelope{Type: KindICE, TargetUserID: target, Candidate: &c}
}

func Draw(d DrawData) Envelope { return Envelope{Type: KindCanvasDraw, DrawData: &d} }
func Clear() Envelope          { return Envelope{Type: KindCanvasClear} }

func TypingStart() Envelope { return Envelope{Type: KindTypingStart} }
func TypingStop() Envelope  { return Envelope{Type: KindTypingStop} }

func ScreenShareStart() Envelope { return Envelope{Type: KindScreenShareStart} }
func ScreenShareStop() Envelope  { return Envelope{Type: KindScreenShareStop} }

func CallHangup() Envelope { return Envelope{Type: KindCallHangup} }
