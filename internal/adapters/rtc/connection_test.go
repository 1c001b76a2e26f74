package rtc

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T) (*WebRTCConnection, *WebRTCConnection) {
	t.Helper()
	api, err := NewAPI()
	require.NoError(t, err)
	cfg := webrtc.Configuration{}
	a, err := NewWebRTCConnection(api, cfg, "bob")
	require.NoError(t, err)
	b, err := NewWebRTCConnection(api, cfg, "alice")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestOfferAnswer(t *testing.T) {
	a, b := newPair(t)

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "alice")
	require.NoError(t, err)
	sender, err := a.AddTrack(track)
	require.NoError(t, err)
	require.NotNil(t, sender)
	require.NoError(t, a.AddRecvOnly(webrtc.RTPCodecTypeAudio))

	offer, err := a.CreateOffer(false)
	require.NoError(t, err)
	require.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	require.True(t, a.PendingLocalOffer())
	require.False(t, a.HasRemoteDescription())

	answer, err := b.ApplyOffer(offer)
	require.NoError(t, err)
	require.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	require.True(t, b.HasRemoteDescription())

	require.NoError(t, a.ApplyAnswer(answer))
	require.False(t, a.PendingLocalOffer())
	require.True(t, a.HasRemoteDescription())
}

func TestRollbackDiscardsPendingOffer(t *testing.T) {
	a, _ := newPair(t)
	require.NoError(t, a.AddRecvOnly(webrtc.RTPCodecTypeVideo))

	_, err := a.CreateOffer(false)
	require.NoError(t, err)
	require.True(t, a.PendingLocalOffer())

	require.NoError(t, a.Rollback())
	require.False(t, a.PendingLocalOffer())
}

func TestFactory(t *testing.T) {
	f, err := NewFactory([]webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}})
	require.NoError(t, err)
	mc, err := f("carol")
	require.NoError(t, err)
	require.NoError(t, mc.Close())
}
