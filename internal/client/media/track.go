package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dkeye/StudyRoom/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateStopped
)

// Track is one local media track: RTP read from src is forwarded into a
// TrackLocalStaticRTP that any number of peer links can send.
type Track struct {
	local *webrtc.TrackLocalStaticRTP
	src   core.RTPReader

	state   atomic.Int32 // Zero by default (TrackStateOk)
	packets atomic.Uint64

	ended   chan struct{}
	endOnce sync.Once
	logger  zerolog.Logger
}

func NewTrack(local *webrtc.TrackLocalStaticRTP, src core.RTPReader) *Track {
	return &Track{
		local: local,
		src:   src,
		ended: make(chan struct{}),
		logger: log.With().
			Str("module", "client.media").
			Str("track_id", local.ID()).
			Str("kind", local.Kind().String()).
			Logger(),
	}
}

func (t *Track) Local() *webrtc.TrackLocalStaticRTP { return t.local }

func (t *Track) Kind() webrtc.RTPCodecType { return t.local.Kind() }

func (t *Track) State() TrackState { return TrackState(t.state.Load()) }

func (t *Track) Enabled() bool { return t.State() == TrackStateOk }

// SetEnabled pauses or resumes forwarding. A stopped track stays stopped.
func (t *Track) SetEnabled(on bool) {
	from, to := TrackStateMuted, TrackStateOk
	if !on {
		from, to = TrackStateOk, TrackStateMuted
	}
	t.state.CompareAndSwap(int32(from), int32(to))
}

// Packets is the number of packets forwarded so far.
func (t *Track) Packets() uint64 { return t.packets.Load() }

// Ended is closed when the pump stops, whether by Stop or by the source
// running dry.
func (t *Track) Ended() <-chan struct{} { return t.ended }

func (t *Track) Stop() {
	t.state.Store(int32(TrackStateStopped))
	if c, ok := t.src.(io.Closer); ok {
		if err := c.Close(); err != nil {
			t.logger.Debug().Err(err).Msg("close source")
		}
	}
}

// pump reads packets from the source and forwards them while enabled.
func (t *Track) pump(ctx context.Context) {
	defer t.endOnce.Do(func() { close(t.ended) })
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := t.src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && t.State() != TrackStateStopped {
				t.logger.Warn().Err(err).Msg("read RTP error, stopping")
			}
			t.state.Store(int32(TrackStateStopped))
			return
		}
		switch t.State() {
		case TrackStateStopped:
			return
		case TrackStateMuted:
		case TrackStateOk:
			if err := t.local.WriteRTP(pkt); err != nil {
				t.logger.Debug().Err(err).Msg("write RTP error")
				continue
			}
			t.packets.Add(1)
		}
	}
}
