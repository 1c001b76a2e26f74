package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/StudyRoom/internal/client"
	"github.com/dkeye/StudyRoom/internal/client/call"
	"github.com/dkeye/StudyRoom/internal/client/media"
	"github.com/dkeye/StudyRoom/internal/client/presence"
	"github.com/dkeye/StudyRoom/internal/client/typing"
	"github.com/dkeye/StudyRoom/internal/config"
	"github.com/dkeye/StudyRoom/internal/protocol"
)

const (
	minRejoinDelay = time.Second
	maxRejoinDelay = 30 * time.Second
)

var errQuit = errors.New("quit")

var flagCall bool

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room and stay until /quit",
	Long: `Join a room as a participant. Room events are printed as they arrive and
commands are read from stdin:

  /draw x y px py   draw a pen stroke from (px,py) to (x,y)
  /erase x y px py  erase along the same segment
  /clear            clear everyone's canvas
  /type             register a keystroke (typing indicator)
  /stop             stop typing
  /call, /leave     join or leave the call
  /mute, /video     toggle microphone or camera
  /share            toggle screen share
  /peers            print the roster
  /quit             leave the room`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.User == "" {
			return errors.New("--user is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		r := &roomClient{
			cfg:      cfg,
			room:     args[0],
			autoCall: flagCall,
			out:      &syncWriter{w: cmd.OutOrStdout()},
			clock:    clock.New(),
		}
		return r.run(ctx, readLines(cmd.InOrStdin()))
	},
}

func init() {
	joinCmd.Flags().BoolVar(&flagCall, "call", false, "join the call on every (re)connect")
}

// backoff doubles the delay on every failure, from min up to max.
type backoff struct {
	min, max time.Duration
	cur      time.Duration
}

func (b *backoff) Next() time.Duration {
	switch {
	case b.cur == 0:
		b.cur = b.min
	case b.cur < b.max:
		b.cur *= 2
		if b.cur > b.max {
			b.cur = b.max
		}
	}
	return b.cur
}

func (b *backoff) Reset() { b.cur = 0 }

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format+"\n", args...)
}

type roomClient struct {
	cfg      *config.ClientConfig
	room     string
	autoCall bool
	out      *syncWriter
	clock    clock.Clock
}

// run keeps the participant in the room. Every reconnect is a fresh join:
// the relay has already told the others we left.
func (r *roomClient) run(ctx context.Context, lines <-chan string) error {
	bo := backoff{min: minRejoinDelay, max: maxRejoinDelay}
	for {
		s, err := client.Dial(ctx, client.Options{
			Server:            r.cfg.Server,
			Room:              r.room,
			UserID:            r.cfg.User,
			DisplayName:       r.cfg.Name,
			ICEServers:        r.cfg.ICEServers(),
			HeartbeatInterval: r.cfg.Heartbeat,
			Devices: media.RTPDevices{
				Camera:     r.cfg.Camera,
				Microphone: r.cfg.Microphone,
				Screen:     r.cfg.Screen,
			},
		})
		if err == nil {
			bo.Reset()
			r.out.Printf("* joined %s as %s", r.room, r.cfg.User)
			err = r.attach(ctx, s, lines)
			_ = s.Close()
			if errors.Is(err, errQuit) {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		d := bo.Next()
		log.Warn().Str("module", "roomctl").Err(err).Dur("retry_in", d).Msg("connection lost")
		r.out.Printf("* disconnected, rejoining in %s", d)
		select {
		case <-ctx.Done():
			return nil
		case <-r.clock.After(d):
		}
	}
}

// attach prints room events and executes commands until the session ends.
func (r *roomClient) attach(ctx context.Context, s *client.Session, lines <-chan string) error {
	s.Presence.OnChange(func(v presence.View) {
		r.out.Printf("* online: %s", strings.Join(v.Online, ", "))
	})
	var lastTyping string
	s.Typing.OnChange(func(t []typing.Typer) {
		if text := typing.Render(t); text != lastTyping {
			lastTyping = text
			if text != "" {
				r.out.Printf("* %s", text)
			}
		}
	})
	s.Canvas.OnDraw(func(from protocol.Peer, d protocol.DrawData) {
		r.out.Printf("* %s %s (%.0f,%.0f)->(%.0f,%.0f) %s %.0f",
			from.DisplayName, d.Tool, d.PrevX, d.PrevY, d.X, d.Y, d.Color, d.Size)
	})
	s.Canvas.OnClear(func(from protocol.Peer) {
		r.out.Printf("* %s cleared the canvas", from.DisplayName)
	})
	links := map[string]call.LinkState{}
	s.Call.OnChange(func(snap call.Snapshot) {
		seen := make(map[string]bool, len(snap.Links))
		for _, l := range snap.Links {
			seen[l.PeerID] = true
			if prev, ok := links[l.PeerID]; ok && prev == l.State {
				continue
			}
			links[l.PeerID] = l.State
			share := ""
			if l.IsScreenShare {
				share = " (sharing screen)"
			}
			r.out.Printf("* call %s: %s%s", l.PeerID, l.State, share)
		}
		for peer := range links {
			if !seen[peer] {
				delete(links, peer)
				r.out.Printf("* call %s: closed", peer)
			}
		}
	})

	if r.autoCall {
		if err := s.Call.JoinCall(ctx); err != nil {
			r.out.Printf("! call: %v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Done():
			return errors.New("signaling connection closed")
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			c, err := parseCommand(line)
			if err != nil {
				r.out.Printf("! %v", err)
				continue
			}
			if err := r.exec(ctx, s, c); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				r.out.Printf("! %s: %v", c.name, err)
			}
		}
	}
}

type command struct {
	name string
	args []float64
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, errors.New("empty command")
	}
	name := fields[0]
	if !strings.HasPrefix(name, "/") {
		return command{}, fmt.Errorf("unknown command %q, try /quit", name)
	}
	name = strings.TrimPrefix(name, "/")

	want := 0
	switch name {
	case "draw", "erase":
		want = 4
	case "clear", "type", "stop", "call", "leave", "mute", "video", "share", "peers", "quit":
	default:
		return command{}, fmt.Errorf("unknown command /%s", name)
	}
	if len(fields)-1 != want {
		return command{}, fmt.Errorf("/%s takes %d arguments", name, want)
	}

	c := command{name: name}
	for _, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return command{}, fmt.Errorf("/%s: bad coordinate %q", name, f)
		}
		c.args = append(c.args, v)
	}
	return c, nil
}

func (r *roomClient) exec(ctx context.Context, s *client.Session, c command) error {
	switch c.name {
	case "draw", "erase":
		d := protocol.DrawData{
			X: c.args[0], Y: c.args[1], PrevX: c.args[2], PrevY: c.args[3],
			Color: "#000000", Size: 3, Tool: protocol.ToolPen,
		}
		if c.name == "erase" {
			d.Tool, d.Size = protocol.ToolEraser, 20
		}
		return s.Canvas.Draw(d)
	case "clear":
		return s.Canvas.Clear()
	case "type":
		s.Typing.Keystroke()
	case "stop":
		s.Typing.Stop()
	case "call":
		return s.Call.JoinCall(ctx)
	case "leave":
		return s.Call.LeaveCall(ctx)
	case "mute":
		on, err := s.Call.ToggleAudio(ctx)
		if err != nil {
			return err
		}
		r.out.Printf("* microphone %s", onOff(on))
	case "video":
		on, err := s.Call.ToggleVideo(ctx)
		if err != nil {
			return err
		}
		r.out.Printf("* camera %s", onOff(on))
	case "share":
		on, err := s.Call.ToggleScreenShare(ctx)
		if err != nil {
			return err
		}
		r.out.Printf("* screen share %s", onOff(on))
	case "peers":
		members, err := s.Presence.Members(ctx)
		if err != nil {
			return err
		}
		online, err := s.Presence.Online(ctx)
		if err != nil {
			return err
		}
		isOnline := make(map[string]bool, len(online))
		for _, id := range online {
			isOnline[id] = true
		}
		if len(members) == 0 {
			r.out.Printf("* nobody else here")
		}
		for _, m := range members {
			status := "away"
			if isOnline[m.UserID] {
				status = "online"
			}
			r.out.Printf("* %s (%s) %s", m.DisplayName, m.UserID, status)
		}
	case "quit":
		return errQuit
	}
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// readLines feeds stdin lines to the command loop and closes the channel at EOF.
func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				lines <- line
			}
		}
	}()
	return lines
}
