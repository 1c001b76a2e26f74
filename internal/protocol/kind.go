package protocol

// Kind is the discriminator of an Envelope. Every kind the relay or a client
// understands is listed here; handlers switch on it exhaustively.
type Kind string

const (
	KindGetPeers         Kind = "get-peers"
	KindPeersList        Kind = "peers-list"
	KindPeerJoined       Kind = "peer-joined"
	KindPeerLeft         Kind = "peer-left"
	KindOffer            Kind = "webrtc-offer"
	KindAnswer           Kind = "webrtc-answer"
	KindICE              Kind = "webrtc-ice"
	KindScreenShareStart Kind = "screen-share-start"
	KindScreenShareStop  Kind = "screen-share-stop"
	KindCanvasDraw       Kind = "canvas-draw"
	KindCanvasClear      Kind = "canvas-clear"
	KindHeartbeat        Kind = "heartbeat"
	KindPresenceUpdate   Kind = "presence-update"
	KindTypingStart      Kind = "typing-start"
	KindTypingStop       Kind = "typing-stop"
	KindCallHangup       Kind = "call-hangup"
)

// Direction tells who may originate a kind and where the relay sends it.
type Direction int

const (
	DirectionUnknown Direction = iota
	// ClientToRegistry is consumed by the relay itself.
	ClientToRegistry
	// RegistryToClient is only ever produced by the relay.
	RegistryToClient
	// ClientToClient is relayed to the peer named by targetUserId.
	ClientToClient
	// ClientToRoom is relayed to every other room member unless a target is set.
	ClientToRoom
)

func (d Direction) String() string {
	switch d {
	case ClientToRegistry:
		return "client->registry"
	case RegistryToClient:
		return "registry->client"
	case ClientToClient:
		return "client->client"
	case ClientToRoom:
		return "client->room"
	default:
		return "unknown"
	}
}

func Kinds() []Kind {
	return []Kind{
		KindGetPeers, KindPeersList, KindPeerJoined, KindPeerLeft,
		KindOffer, KindAnswer, KindICE,
		KindScreenShareStart, KindScreenShareStop,
		KindCanvasDraw, KindCanvasClear,
		KindHeartbeat, KindPresenceUpdate,
		KindTypingStart, KindTypingStop,
		KindCallHangup,
	}
}

func (k Kind) Direction() Direction {
	switch k {
	case KindGetPeers, KindHeartbeat:
		return ClientToRegistry
	case KindPeersList, KindPeerJoined, KindPeerLeft, KindPresenceUpdate:
		return RegistryToClient
	case KindOffer, KindAnswer, KindICE:
		return ClientToClient
	case KindScreenShareStart, KindScreenShareStop, KindCanvasDraw, KindCanvasClear,
		KindTypingStart, KindTypingStop, KindCallHangup:
		return ClientToRoom
	default:
		return DirectionUnknown
	}
}

func (k Kind) Valid() bool { return k.Direction() != DirectionUnknown }

// Relayed reports whether the relay forwards the kind to other clients.
func (k Kind) Relayed() bool {
	d := k.Direction()
	return d == ClientToClient || d == ClientToRoom
}
