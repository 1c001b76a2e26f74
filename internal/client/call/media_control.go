package call

import (
	"context"

	"github.com/dkeye/StudyRoom/internal/client/media"
	"github.com/dkeye/StudyRoom/internal/protocol"
)

// JoinCall acquires camera and microphone, falling back to audio only, and
// asks the registry for the roster; every listed peer then gets an offer.
// Device prompts run off the event loop.
func (m *Manager) JoinCall(ctx context.Context) error {
	var (
		seq     int
		already bool
		reqErr  error
	)
	if err := m.conn.Do(ctx, func() {
		switch {
		case m.closed:
			reqErr = ErrManagerClosed
		case m.inCall:
			already = true
		case m.joining:
			reqErr = ErrBusy
		default:
			m.joining = true
			m.joinSeq++
			seq = m.joinSeq
		}
	}); err != nil {
		return err
	}
	if already || reqErr != nil {
		return reqErr
	}

	stream, audioOnly, acqErr := m.acquire(ctx)

	var joinErr error
	err := m.conn.Do(context.Background(), func() {
		if !m.joining || m.joinSeq != seq {
			joinErr = ErrNotInCall
			return
		}
		m.joining = false
		if acqErr != nil {
			joinErr = acqErr
			return
		}
		m.local = stream
		m.audioOnly = audioOnly
		m.inCall = true
		stream = nil
		m.logger.Info().Bool("audio_only", audioOnly).Msg("joined call")
		// links answered before joining only received so far
		for _, l := range m.links {
			added, err := m.attachTracks(l)
			if err != nil {
				m.logger.Warn().Err(err).Str("peer", l.peer).Msg("attach local tracks")
				m.removeLink(l, LinkFailed)
				continue
			}
			if added {
				m.renegotiate(l)
			}
		}
		m.send(protocol.GetPeers())
		m.changed()
	})
	if stream != nil {
		stream.Stop()
	}
	if err != nil {
		return err
	}
	return joinErr
}

func (m *Manager) acquire(ctx context.Context) (*media.Stream, bool, error) {
	if m.opts.Devices == nil {
		return nil, false, &MediaError{Op: "getUserMedia", Err: media.ErrDeviceUnavailable}
	}
	s, err := m.opts.Devices.UserMedia(ctx, media.Constraints{Audio: true, Video: true})
	if err == nil {
		return s, false, nil
	}
	m.logger.Warn().Err(err).Msg("camera and microphone unavailable, trying audio only")
	s, err = m.opts.Devices.UserMedia(ctx, media.Constraints{Audio: true})
	if err != nil {
		return nil, false, &MediaError{Op: "getUserMedia", Err: err}
	}
	return s, true, nil
}

// LeaveCall closes every link and stops local media. The signaling
// connection stays up. Leaving when not in a call does nothing.
func (m *Manager) LeaveCall(ctx context.Context) error {
	return m.conn.Do(ctx, func() {
		m.joining = false
		m.sharePending = false
		if m.inCall {
			m.teardown(true)
		}
	})
}

// teardown closes every link, receive-only ones included, and stops local
// media. call-hangup goes out only when a call was active.
func (m *Manager) teardown(announce bool) {
	m.joining = false
	m.sharePending = false
	wasInCall := m.inCall
	if !wasInCall && len(m.links) == 0 {
		return
	}
	for _, l := range m.links {
		m.removeLink(l, LinkClosed)
	}
	if !wasInCall {
		return
	}
	if m.screen != nil {
		m.screen.Stop()
		m.screen = nil
	}
	if m.local != nil {
		m.local.Stop()
		m.local = nil
	}
	m.inCall = false
	m.audioOnly = false
	if announce {
		m.send(protocol.CallHangup())
	}
	m.logger.Info().Msg("left call")
	m.changed()
}

// ToggleAudio mutes or unmutes the microphone and reports the new state.
func (m *Manager) ToggleAudio(ctx context.Context) (bool, error) {
	var (
		on  bool
		err error
	)
	if doErr := m.conn.Do(ctx, func() {
		if !m.inCall {
			err = ErrNotInCall
			return
		}
		a := m.local.Audio()
		a.SetEnabled(!a.Enabled())
		on = a.Enabled()
		m.changed()
	}); doErr != nil {
		return false, doErr
	}
	return on, err
}

// ToggleVideo pauses or resumes the camera. Nothing is renegotiated.
func (m *Manager) ToggleVideo(ctx context.Context) (bool, error) {
	var (
		on  bool
		err error
	)
	if doErr := m.conn.Do(ctx, func() {
		if !m.inCall {
			err = ErrNotInCall
			return
		}
		v := m.local.Video()
		if v == nil {
			err = ErrNoVideo
			return
		}
		v.SetEnabled(!v.Enabled())
		on = v.Enabled()
		m.changed()
	}); doErr != nil {
		return false, doErr
	}
	return on, err
}

// ToggleScreenShare starts or stops sending the screen in place of the
// camera and reports whether sharing is on afterwards. A cancelled picker
// leaves everything as it was.
func (m *Manager) ToggleScreenShare(ctx context.Context) (bool, error) {
	var (
		seq     int
		stopped bool
		reqErr  error
	)
	if err := m.conn.Do(ctx, func() {
		switch {
		case !m.inCall:
			reqErr = ErrNotInCall
		case m.screen != nil:
			m.stopShare()
			stopped = true
		case m.sharePending:
			reqErr = ErrBusy
		case m.opts.Devices == nil:
			reqErr = &MediaError{Op: "getDisplayMedia", Err: media.ErrDeviceUnavailable}
		default:
			m.sharePending = true
			m.shareSeq++
			seq = m.shareSeq
		}
	}); err != nil {
		return false, err
	}
	if stopped {
		return false, nil
	}
	if reqErr != nil {
		return false, reqErr
	}

	stream, acqErr := m.opts.Devices.DisplayMedia(ctx)

	var shareErr error
	err := m.conn.Do(context.Background(), func() {
		if !m.sharePending || m.shareSeq != seq || !m.inCall {
			shareErr = ErrNotInCall
			return
		}
		m.sharePending = false
		if acqErr != nil {
			shareErr = &MediaError{Op: "getDisplayMedia", Err: acqErr}
			return
		}
		if stream.Video() == nil {
			shareErr = &MediaError{Op: "getDisplayMedia", Err: media.ErrDeviceUnavailable}
			return
		}
		m.startShare(stream)
		stream = nil
	})
	if stream != nil {
		stream.Stop()
	}
	if err != nil {
		return false, err
	}
	return shareErr == nil, shareErr
}

func (m *Manager) startShare(stream *media.Stream) {
	m.screen = stream
	track := stream.Video()
	for _, l := range m.links {
		if l.videoSender != nil {
			if err := l.videoSender.ReplaceTrack(track.Local()); err != nil {
				m.logger.Warn().Err(err).Str("peer", l.peer).Msg("replace track with screen")
			}
			continue
		}
		s, err := l.mc.AddTrack(track.Local())
		if err != nil {
			m.logger.Warn().Err(err).Str("peer", l.peer).Msg("add screen track")
			continue
		}
		l.videoSender = s
		m.renegotiate(l)
	}
	m.send(protocol.ScreenShareStart())
	m.logger.Info().Msg("screen share started")

	go func() {
		<-track.Ended()
		m.conn.Post(func() {
			if m.screen == stream {
				m.logger.Info().Msg("screen source ended")
				m.stopShare()
			}
		})
	}()
	m.changed()
}

// stopShare puts the camera back on every link that carries the screen.
func (m *Manager) stopShare() {
	screen := m.screen
	m.screen = nil
	var camera *media.Track
	if m.local != nil {
		camera = m.local.Video()
	}
	for _, l := range m.links {
		if l.videoSender == nil {
			continue
		}
		var err error
		if camera != nil {
			err = l.videoSender.ReplaceTrack(camera.Local())
		} else {
			err = l.videoSender.ReplaceTrack(nil)
		}
		if err != nil {
			m.logger.Warn().Err(err).Str("peer", l.peer).Msg("restore camera track")
		}
	}
	screen.Stop()
	m.send(protocol.ScreenShareStop())
	m.logger.Info().Msg("screen share stopped")
	m.changed()
}
