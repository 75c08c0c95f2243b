package signal

import (
	"context"
	"time"

	"github.com/dkeye/Agora/internal/app/orch"
	"github.com/dkeye/Agora/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.settings.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping failed")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, p *core.Peer, c *WsSignalConn) {
	connID := p.Session.ConnID()
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("readPump closing")
		cancel()
		ctl.Orch.Disconnect(connID)
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.settings.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.settings.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.settings.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(connID)).Msg("readPump read error")
			}
			return
		}
		ctl.handleFrame(ctx, p, data)
	}
}

func (ctl *SignalWSController) handleFrame(ctx context.Context, p *core.Peer, data []byte) {
	ev, err := orch.Decode(data)
	if err != nil {
		ctl.Orch.Fail(p, orch.OutError, err)
		return
	}
	log.Debug().Str("module", "signal").Str("conn", string(p.Session.ConnID())).Str("event", ev.Name()).Msg("event")
	ctl.Orch.Dispatch(ctx, p, ev)
}

