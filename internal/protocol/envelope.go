// Package protocol defines the signaling envelope exchanged between room
// clients and the relay over a single text WebSocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var (
	ErrUnknownKind   = errors.New("unknown envelope type")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidField  = errors.New("invalid field")
	ErrMissingTarget = fmt.Errorf("%w: targetUserId", ErrMissingField)
)

// Peer identifies a room member on the wire.
type Peer struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Envelope is one signaling message. Only the fields relevant to Type are set;
// the relay stamps UserID and DisplayName with the sender's identity.
type Envelope struct {
	Type         Kind                       `json:"type"`
	TargetUserID string                     `json:"targetUserId,omitempty"`
	UserID       string                     `json:"userId,omitempty"`
	DisplayName  string                     `json:"displayName,omitempty"`
	SDP          *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate    *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	DrawData     *DrawData                  `json:"drawData,omitempty"`
	Peers        []Peer                     `json:"peers,omitempty"`
	Online       []string                   `json:"online,omitempty"`
}

type wireEnvelope struct {
	Type         Kind                       `json:"type"`
	TargetUserID string                     `json:"targetUserId,omitempty"`
	UserID       string                     `json:"userId,omitempty"`
	DisplayName  string                     `json:"displayName,omitempty"`
	SDP          *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate    *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	DrawData     *DrawData                  `json:"drawData,omitempty"`
	Peers        *[]Peer                    `json:"peers,omitempty"`
	Online       *[]string                  `json:"online,omitempty"`
}

// MarshalJSON always emits peers for peers-list and online for presence-update,
// so an empty room encodes as [] rather than a missing field.
func (e Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{
		Type:         e.Type,
		TargetUserID: e.TargetUserID,
		UserID:       e.UserID,
		DisplayName:  e.DisplayName,
		SDP:          e.SDP,
		Candidate:    e.Candidate,
		DrawData:     e.DrawData,
	}
	if e.Type == KindPeersList || len(e.Peers) > 0 {
		peers := e.Peers
		if peers == nil {
			peers = []Peer{}
		}
		w.Peers = &peers
	}
	if e.Type == KindPresenceUpdate || len(e.Online) > 0 {
		online := e.Online
		if online == nil {
			online = []string{}
		}
		w.Online = &online
	}
	return json.Marshal(w)
}

// From returns the sender identity stamped by the relay.
func (e Envelope) From() Peer {
	return Peer{UserID: e.UserID, DisplayName: e.DisplayName}
}

// Stamp returns a copy attributed to from.
func (e Envelope) Stamp(from Peer) Envelope {
	e.UserID = from.UserID
	e.DisplayName = from.DisplayName
	return e
}

// Validate checks that the fields Type requires are present.
func (e Envelope) Validate() error {
	switch e.Type {
	case KindGetPeers, KindHeartbeat,
		KindPeersList, KindPresenceUpdate,
		KindScreenShareStart, KindScreenShareStop,
		KindCanvasClear, KindTypingStart, KindTypingStop, KindCallHangup:
		return nil
	case KindPeerJoined, KindPeerLeft:
		if e.UserID == "" {
			return fmt.Errorf("%s: %w: userId", e.Type, ErrMissingField)
		}
		return nil
	case KindOffer, KindAnswer:
		if e.TargetUserID == "" {
			return fmt.Errorf("%s: %w", e.Type, ErrMissingTarget)
		}
		if e.SDP == nil || e.SDP.SDP == "" {
			return fmt.Errorf("%s: %w: sdp", e.Type, ErrMissingField)
		}
		want := webrtc.SDPTypeOffer
		if e.Type == KindAnswer {
			want = webrtc.SDPTypeAnswer
		}
		if e.SDP.Type != want {
			return fmt.Errorf("%s: %w: sdp.type %s", e.Type, ErrInvalidField, e.SDP.Type)
		}
		return nil
	case KindICE:
		if e.TargetUserID == "" {
			return fmt.Errorf("%s: %w", e.Type, ErrMissingTarget)
		}
		if e.Candidate == nil {
			return fmt.Errorf("%s: %w: candidate", e.Type, ErrMissingField)
		}
		return nil
	case KindCanvasDraw:
		if e.DrawData == nil {
			return fmt.Errorf("%s: %w: drawData", e.Type, ErrMissingField)
		}
		if err := e.DrawData.Validate(); err != nil {
			return fmt.Errorf("%s: %w", e.Type, err)
		}
		return nil
	default:
		return fmt.Errorf("%w %q", ErrUnknownKind, e.Type)
	}
}

// Decode parses and validates one text frame.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}
