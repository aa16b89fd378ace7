package teoproxy

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	teoerrors "github.com/teonet-go/teoweb/internal/errors"
)

// Conn is the proxy side of a client connection. It reads requests and
// writes answers and pushes. Writes are safe for concurrent use.
type Conn struct {
	// ID identifies the connection in logs and subscriber tables.
	ID string

	ws        *websocket.Conn
	writeWait time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
}

// Upgrader accepts proxy connections.
type Upgrader struct {
	websocket.Upgrader

	// WriteWait is the deadline for a single write.
	WriteWait time.Duration

	// PongWait is the read deadline, extended by every ping from the client.
	PongWait time.Duration
}

// Upgrade upgrades an HTTP request to a proxy connection.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := u.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, teoerrors.New(teoerrors.CodeUpgradeFailed).Wrap(err)
	}

	writeWait := u.WriteWait
	if writeWait <= 0 {
		writeWait = DefaultConfig().WriteWait
	}
	pongWait := u.PongWait
	if pongWait <= 0 {
		pongWait = DefaultConfig().PongWait
	}

	c := &Conn{ID: uuid.NewString(), ws: ws, writeWait: writeWait}

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPingHandler(func(data string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	return c, nil
}

// ReadPacket blocks for the next packet. Malformed packets are returned as
// errors; callers may continue reading after them.
func (c *Conn) ReadPacket() (*Packet, error) {
	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return DecodePacket(msg)
}

// WritePacket writes p.
func (c *Conn) WritePacket(p *Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, EncodePacket(p)); err != nil {
		return teoerrors.New(teoerrors.CodeSendFailed).Wrap(err)
	}
	return nil
}

// AnswerPacket builds the reply to req carrying data. It keeps the id,
// command, peer and name of req.
func AnswerPacket(req *Packet, data []byte) *Packet {
	return &Packet{ID: req.ID, Cmd: req.Cmd, Peer: req.Peer, Name: req.Name, Data: data}
}

// ErrorPacket builds a CmdError reply to req.
func ErrorPacket(req *Packet, msg string) *Packet {
	return &Packet{ID: req.ID, Cmd: CmdError, Peer: req.Peer, Name: req.Name, Data: []byte(msg)}
}

// PushPacket builds unsolicited CmdNone data from peer.
func PushPacket(peer string, data []byte) *Packet {
	return &Packet{Cmd: CmdNone, Peer: peer, Data: data}
}

// Answer replies to req with data.
func (c *Conn) Answer(req *Packet, data []byte) error {
	return c.WritePacket(AnswerPacket(req, data))
}

// AnswerError replies to req with CmdError.
func (c *Conn) AnswerError(req *Packet, msg string) error {
	return c.WritePacket(ErrorPacket(req, msg))
}

// Close sends a normal close frame and closes the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
		err = c.ws.Close()
	})
	return err
}
