package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sourcegraph/conc"
)

// Constraints selects which kinds a UserMedia request asks for.
type Constraints struct {
	Audio bool
	Video bool
}

// Stream groups the tracks acquired by one request and owns their pumps.
type Stream struct {
	ID     string
	tracks []*Track

	cancel   context.CancelFunc
	wg       conc.WaitGroup
	stopOnce sync.Once
}

func NewStream(id string, tracks ...*Track) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{ID: id, tracks: tracks, cancel: cancel}
	for _, t := range tracks {
		s.wg.Go(func() { t.pump(ctx) })
	}
	return s
}

func (s *Stream) Tracks() []*Track { return s.tracks }

func (s *Stream) Audio() *Track { return s.first(webrtc.RTPCodecTypeAudio) }

func (s *Stream) Video() *Track { return s.first(webrtc.RTPCodecTypeVideo) }

func (s *Stream) first(kind webrtc.RTPCodecType) *Track {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// Stop ends every track and waits for the pumps to return.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		for _, t := range s.tracks {
			t.Stop()
		}
		s.cancel()
		s.wg.Wait()
	})
}
