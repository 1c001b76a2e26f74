package media

import (
	"io"
	"net"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

const udpQueue = 2048

// UDPSource receives RTP on a local UDP port, e.g. from
// `ffmpeg ... -f rtp rtp://127.0.0.1:5004`. Packets are queued so a slow
// consumer does not make the kernel drop them.
type UDPSource struct {
	conn    *net.UDPConn
	packets chan *rtp.Packet

	closed    chan struct{}
	closeOnce sync.Once
}

func ListenUDP(addr string) (*UDPSource, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadBuffer(4 * 1024 * 1024)

	s := &UDPSource{
		conn:    conn,
		packets: make(chan *rtp.Packet, udpQueue),
		closed:  make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *UDPSource) LocalAddr() net.Addr { return s.conn.LocalAddr() }

func (s *UDPSource) readLoop() {
	buf := make([]byte, 1600)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
			default:
				log.Warn().Err(err).Str("module", "client.media").Msg("UDP read error")
			}
			return
		}
		// Unmarshal keeps slices of its input, so give every packet its own copy.
		data := make([]byte, n)
		copy(data, buf[:n])
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(data); err != nil {
			log.Debug().Err(err).Str("module", "client.media").Msg("not RTP, dropped")
			continue
		}
		select {
		case s.packets <- pkt:
		case <-s.closed:
			return
		default:
			log.Warn().Str("module", "client.media").Msg("RTP queue full, dropping packet")
		}
	}
}

func (s *UDPSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	select {
	case pkt := <-s.packets:
		return pkt, nil, nil
	case <-s.closed:
		return nil, nil, io.EOF
	}
}

func (s *UDPSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}
