package teoproxy

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	teoerrors "github.com/teonet-go/teoweb/internal/errors"
)

// Config holds client timeouts.
type Config struct {
	// Insecure dials ws:// instead of wss:// when the host has no scheme.
	Insecure bool

	// HandshakeTimeout bounds dial plus the connect-to answer.
	HandshakeTimeout time.Duration

	// WriteWait is the deadline for a single write.
	WriteWait time.Duration

	// PongWait is how long the connection may stay silent. Pings are sent
	// every 9/10 of it.
	PongWait time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteWait:        10 * time.Second,
		PongWait:         60 * time.Second,
	}
}

// Client is a Teonet proxy connection bound to one peer at a time.
type Client struct {
	handler Handler
	config  Config
	logger  *slog.Logger
	dialer  *websocket.Dialer

	// mu guards conn and serialises writes.
	mu     sync.Mutex
	conn   *websocket.Conn
	peer   string
	nextID atomic.Uint32
}

// NewClient creates a client that reports to handler.
func NewClient(handler Handler, config Config) *Client {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultConfig().HandshakeTimeout
	}
	if config.WriteWait <= 0 {
		config.WriteWait = DefaultConfig().WriteWait
	}
	if config.PongWait <= 0 {
		config.PongWait = DefaultConfig().PongWait
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		handler: handler,
		config:  config,
		logger:  logger.With("component", "teoproxy"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}
}

// URL returns the websocket URL for host. A host that already carries a
// ws:// or wss:// scheme is used as is.
func (c *Client) URL(host string) string {
	if strings.HasPrefix(host, "ws://") || strings.HasPrefix(host, "wss://") {
		return host
	}
	u := url.URL{Scheme: "wss", Host: host, Path: "/ws"}
	if c.config.Insecure {
		u.Scheme = "ws"
	}
	return u.String()
}

// Connect dials the proxy at host and connects it to peer. On success the
// handler's OnConnect runs before Connect returns and the read loop is
// started. Errors are returned and do not trigger OnClose.
func (c *Client) Connect(ctx context.Context, host, peer string) error {
	c.mu.Lock()
	busy := c.conn != nil
	c.mu.Unlock()
	if busy {
		return teoerrors.New(teoerrors.CodeHandshakeFailed).WithDetail("client is already connected")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	target := c.URL(host)
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return teoerrors.New(teoerrors.CodeDialFailed).Wrap(err)
	}

	if err := c.handshake(ctx, conn, peer); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.peer = peer
	c.mu.Unlock()

	c.logger.Info("connected", "url", target, "peer", peer)

	done := make(chan struct{})
	c.handler.OnConnect()
	go c.pingLoop(conn, done)
	go c.readLoop(conn, done)
	return nil
}

// handshake sends CmdConnectTo and waits for its answer.
func (c *Client) handshake(ctx context.Context, conn *websocket.Conn, peer string) error {
	req := &Packet{ID: c.nextID.Add(1), Cmd: CmdConnectTo, Peer: peer}

	deadline, _ := ctx.Deadline()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.BinaryMessage, EncodePacket(req)); err != nil {
		return teoerrors.New(teoerrors.CodeHandshakeFailed).Wrap(err)
	}

	// Unblock the read below when ctx ends early.
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	conn.SetReadDeadline(deadline)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return teoerrors.New(teoerrors.CodeHandshakeFailed).Wrap(err)
		}

		ans, err := DecodePacket(msg)
		if err != nil {
			return teoerrors.New(teoerrors.CodeHandshakeFailed).Wrap(err)
		}
		if ans.ID != req.ID {
			c.logger.Debug("dropping packet before connect answer", "packet", ans)
			continue
		}

		switch ans.Cmd {
		case CmdConnectTo:
			return nil
		case CmdError:
			return teoerrors.New(teoerrors.CodePeerRejected).
				WithDetailf("peer %s: %s", peer, ans.Data)
		default:
			return teoerrors.New(teoerrors.CodeHandshakeFailed).
				WithDetailf("unexpected answer %s", ans.Cmd)
		}
	}
}

// readLoop delivers packets until the connection fails, then reports the
// close exactly once.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	var cause error
	defer func() {
		close(done)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()

		c.logger.Info("disconnected", "error", cause)
		c.handler.OnClose(cause)
	}()

	conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !c.closedByClient(conn) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				cause = err
			}
			return
		}

		p, err := DecodePacket(msg)
		if err != nil {
			c.logger.Warn("packet decode error", "error", err)
			continue
		}
		c.handler.OnMessage(p)
	}
}

// closedByClient reports whether Close already detached conn.
func (c *Client) closedByClient(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != conn
}

// pingLoop keeps the connection alive until done is closed.
func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.config.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.config.WriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping error", "error", err)
				return
			}
		case <-done:
			return
		}
	}
}

// SendTo calls the API command name of peer with data.
func (c *Client) SendTo(peer, name string, data []byte) error {
	return c.send(&Packet{Cmd: CmdSendTo, Peer: peer, Name: name, Data: data})
}

// Stream asks peer to push the stream name.
func (c *Client) Stream(peer, name string) error {
	return c.send(&Packet{Cmd: CmdStream, Peer: peer, Name: name})
}

func (c *Client) send(p *Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return teoerrors.New(teoerrors.CodeNotConnected)
	}

	p.ID = c.nextID.Add(1)
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, EncodePacket(p)); err != nil {
		c.logger.Error("write error", "error", err)
		return teoerrors.New(teoerrors.CodeSendFailed).Wrap(err)
	}
	c.logger.Debug("sent", "packet", p)
	return nil
}

// Connected reports whether the client has an established connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Peer returns the peer of the current or last connection.
func (c *Client) Peer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// Close closes the connection. OnClose is called with a nil error by the
// read loop. Closing a disconnected client is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.config.WriteWait))
	return conn.Close()
}
