package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zoomvconnect/signaling/internal/app"
	"github.com/zoomvconnect/signaling/internal/auth"
	"github.com/zoomvconnect/signaling/internal/config"
	"github.com/zoomvconnect/signaling/internal/core"
)

const (
	writeWait = 5 * time.Second
	// One connection may send this many commands per second before the
	// router answers with RATE_LIMITED instead of dispatching.
	messageRateLimit = 10
)

type Controller struct {
	coord      *app.Coordinator
	verifier   *auth.Verifier
	readLimit  int64
	pingPeriod time.Duration
	limiter    *messageRateLimiter
}

func NewController(coord *app.Coordinator, verifier *auth.Verifier, cfg *config.Config) *Controller {
	return &Controller{
		coord:      coord,
		verifier:   verifier,
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
		limiter:    newMessageRateLimiter(messageRateLimit, time.Second),
	}
}

// wsSignalConn wraps one websocket with a buffered outbound queue. The
// alive flag is the liveness supervisor's probe acknowledgment state.
type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
	alive  bool
}

func newWSSignalConn(ws *websocket.Conn) *wsSignalConn {
	return &wsSignalConn{
		conn:  ws,
		send:  make(chan core.Frame, 32),
		alive: true,
	}
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
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

func (c *wsSignalConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsSignalConn) Alive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alive
}

func (c *wsSignalConn) MarkUnconfirmed() {
	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()
}

func (c *wsSignalConn) markAlive() {
	c.mu.Lock()
	c.alive = true
	c.mu.Unlock()
}

func (c *wsSignalConn) Close() {
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

// closeWithCode sends a coded close frame before tearing down, so the
// client can tell authentication failures apart.
func (c *wsSignalConn) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the connection, authenticates the handshake
// credential, registers the connection and starts its pumps.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	conn := newWSSignalConn(ws)

	userID, err := ctl.verifier.Verify(c.Query("token"))
	if err != nil {
		if errors.Is(err, core.ErrMissingCredential) {
			log.Warn().Str("module", "signal").Msg("connection without credential")
			conn.closeWithCode(closeCodeMissingCredential, "authentication required")
		} else {
			log.Warn().Str("module", "signal").Msg("connection with invalid credential")
			conn.closeWithCode(closeCodeInvalidCredential, "invalid token")
		}
		return
	}

	ws.SetReadLimit(ctl.readLimit)
	ws.SetPongHandler(func(string) error {
		conn.markAlive()
		return nil
	})

	connID := core.ConnID(uuid.NewString())
	ctl.coord.Registry().Register(connID, conn)
	ctl.coord.Registry().Authenticate(connID, userID)
	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("identity", string(userID)).Msg("connection authenticated")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, connID, conn)
}
