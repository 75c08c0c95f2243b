package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Agora/internal/app/orch"
	"github.com/dkeye/Agora/internal/auth"
	"github.com/dkeye/Agora/internal/core"
	"github.com/dkeye/Agora/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Authenticator verifies the credential collected at connection open.
type Authenticator interface {
	Authenticate(ctx context.Context, cred auth.Credential) (*auth.Result, error)
}

// Settings tune the per-connection pumps.
type Settings struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	SendBuffer int
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	Auth     Authenticator
	settings Settings
}

func NewSignalWSController(o *orch.Orchestrator, a Authenticator, s Settings) *SignalWSController {
	if s.ReadLimit <= 0 {
		s.ReadLimit = 32768
	}
	if s.SendBuffer <= 0 {
		s.SendBuffer = 32
	}
	if s.PingPeriod <= 0 {
		s.PingPeriod = 54 * time.Second
	}
	if s.PongWait <= s.PingPeriod {
		s.PongWait = s.PingPeriod * 10 / 9
	}
	return &SignalWSController{Orch: o, Auth: a, settings: s}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin:  func(r *http.Request) bool { return true },
	Subprotocols: []string{auth.Subprotocol},
}

// credential collects the token from the handshake auth field, the
// Authorization header and the query string, in that order. The auth field
// is the cookie session value "token" (written by the backend sharing
// secret) or a "bearer." subprotocol offered by the client.
func credential(c *gin.Context) auth.Credential {
	var field string
	if v, ok := sessions.Default(c).Get("token").(string); ok {
		field = v
	}
	if field == "" {
		field = auth.TokenFromSubprotocols(websocket.Subprotocols(c.Request))
	}
	return auth.Credential{
		Token:       auth.PickToken(field, c.GetHeader("Authorization"), c.Query("token")),
		ClientToken: c.GetString("client_token"),
	}
}

// HandleSignal authenticates before upgrading; a refused credential gets a
// plain 401 and never becomes a connection.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	res, err := ctl.Auth.Authenticate(c.Request.Context(), credential(c))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("remote", c.ClientIP()).Msg("connection refused")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": err.Error(),
			"code":  domain.KindOf(err).String(),
		})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.settings.SendBuffer),
	}
	connID := core.ConnID(uuid.NewString())
	sess := core.NewSession(res.Account, connID, res.Guest)
	peer := core.NewPeer(sess, conn)
	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("identity", string(sess.Identity())).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(peer)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, peer, conn)
}
