package media

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Devices hands out local media. Both calls may block (a device prompt, a
// screen picker) and must honour ctx.
type Devices interface {
	UserMedia(ctx context.Context, c Constraints) (*Stream, error)
	DisplayMedia(ctx context.Context) (*Stream, error)
}

var (
	opusCapability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	vp8Capability  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// RTPDevices maps each capture device to a local UDP address that an
// external encoder streams RTP into. An empty address means no such device.
type RTPDevices struct {
	Camera     string
	Microphone string
	Screen     string
}

var _ Devices = RTPDevices{}

func (d RTPDevices) UserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("%w: nothing requested", ErrDeviceUnavailable)
	}
	if c.Audio && d.Microphone == "" {
		return nil, fmt.Errorf("microphone: %w", ErrDeviceUnavailable)
	}
	if c.Video && d.Camera == "" {
		return nil, fmt.Errorf("camera: %w", ErrDeviceUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	var tracks []*Track
	fail := func(err error) (*Stream, error) {
		for _, t := range tracks {
			t.Stop()
		}
		return nil, err
	}
	if c.Audio {
		t, err := openTrack(d.Microphone, opusCapability, "audio", id)
		if err != nil {
			return fail(fmt.Errorf("microphone: %w: %w", ErrDeviceUnavailable, err))
		}
		tracks = append(tracks, t)
	}
	if c.Video {
		t, err := openTrack(d.Camera, vp8Capability, "video", id)
		if err != nil {
			return fail(fmt.Errorf("camera: %w: %w", ErrDeviceUnavailable, err))
		}
		tracks = append(tracks, t)
	}
	return NewStream(id, tracks...), nil
}

// DisplayMedia opens the screen source. Without one configured it behaves
// like a picker the user closed.
func (d RTPDevices) DisplayMedia(ctx context.Context) (*Stream, error) {
	if d.Screen == "" {
		return nil, ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	id := uuid.NewString()
	t, err := openTrack(d.Screen, vp8Capability, "screen", id)
	if err != nil {
		return nil, fmt.Errorf("screen: %w: %w", ErrDeviceUnavailable, err)
	}
	return NewStream(id, t), nil
}

func openTrack(addr string, codec webrtc.RTPCodecCapability, trackID, streamID string) (*Track, error) {
	src, err := ListenUDP(addr)
	if err != nil {
		return nil, err
	}
	local, err := webrtc.NewTrackLocalStaticRTP(codec, trackID, streamID)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return NewTrack(local, src), nil
}
