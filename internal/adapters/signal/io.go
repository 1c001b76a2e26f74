package signal

import (
	"context"
	"time"

	"github.com/dkeye/StudyRoom/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, info ConnInfo, c *WsSignalConn, shutdown func()) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		shutdown()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(info.SID)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("sid", string(info.SID)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(info.SID)).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(info.SID)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(info.SID)).Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, info ConnInfo, c *WsSignalConn, shutdown func()) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(info.SID)).Msg("readPump closing")
		shutdown()
		ctl.Orch.Unregister(info.SID)
		ctl.Limiter.Forget(info.SID)
	}()

	pongWait := ctl.Cfg.PongWait()
	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(info.SID)).Msg("readPump ctx done")
			return
		default:
			msgType, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(info.SID)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			if msgType != websocket.TextMessage {
				log.Warn().Str("module", "signal").Str("sid", string(info.SID)).Msg("non-text frame ignored")
				continue
			}
			ctl.handleSignal(info, data)
		}
	}
}

// handleSignal decodes one frame and hands it to the orchestrator. Bad input
// is dropped; the connection stays open.
func (ctl *SignalWSController) handleSignal(info ConnInfo, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(info.SID)).Msg("bad envelope")
		return
	}
	if env.Type != protocol.KindHeartbeat && !ctl.Limiter.Allow(info.SID) {
		log.Warn().Str("module", "signal").Str("sid", string(info.SID)).Str("type", string(env.Type)).Msg("rate limited, dropped")
		return
	}
	ctl.Orch.Route(info.SID, env)
}
