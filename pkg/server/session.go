package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	teoerrors "github.com/teonet-go/teoweb/internal/errors"
	"github.com/teonet-go/teoweb/pkg/protocol"
)

// outFrame is an encoded frame queued for one session.
type outFrame struct {
	data    []byte
	patches int
	last    bool // close the session once written
}

// Session is one browser websocket. Reads run in the handler goroutine;
// all writes go through the send queue and writeLoop.
type Session struct {
	ID        string
	CreatedAt time.Time

	server *Server
	conn   *websocket.Conn
	send   chan outFrame
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
}

func newSession(srv *Server, conn *websocket.Conn) *Session {
	id := uuid.NewString()
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		server:    srv,
		conn:      conn,
		send:      make(chan outFrame, srv.cfg.SendBuffer),
		done:      make(chan struct{}),
		logger:    srv.logger.With("session", id),
	}
}

// enqueue queues f without blocking. It returns false when the session is
// closed or its queue is full.
func (s *Session) enqueue(f outFrame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- f:
		return true
	default:
		return false
	}
}

func (s *Session) enqueueControl(ct protocol.ControlType, payload any) bool {
	frame := protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(ct, payload))
	return s.enqueue(outFrame{data: frame.Encode()})
}

func (s *Session) enqueueError(code protocol.ErrorCode, message string) bool {
	frame := protocol.NewFrame(protocol.FrameError, protocol.EncodeErrorMessage(protocol.NewError(code, message)))
	return s.enqueue(outFrame{data: frame.Encode()})
}

// close stops the write loop and closes the connection. Safe to call more
// than once and from any goroutine.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// shutdown sends a close message and closes the session after it is
// written.
func (s *Session) shutdown() {
	ct, cm := protocol.NewClose(protocol.CloseServerShutdown, "server shutting down")
	frame := protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(ct, cm))
	if !s.enqueue(outFrame{data: frame.Encode(), last: true}) {
		s.close()
	}
}

// writeLoop writes queued frames and heartbeat pings until the session
// closes.
func (s *Session) writeLoop() {
	cfg := s.server.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer ticker.Stop()
	defer s.close()

	for {
		select {
		case f := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, f.data); err != nil {
				s.logger.Debug("write error", "error", err)
				cfg.Recorder.RecordWebSocketError("write")
				return
			}
			if f.patches > 0 {
				cfg.Recorder.RecordPatches(f.patches)
			}
			if f.last {
				return
			}

		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteWait)); err != nil {
				s.logger.Debug("ping error", "error", err)
				return
			}

		case <-s.done:
			return
		}
	}
}

// readLoop decodes browser frames until the connection fails or closes.
func (s *Session) readLoop(ctx context.Context) {
	cfg := s.server.cfg
	s.conn.SetReadLimit(cfg.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				s.logger.Warn("read error", "error", err)
				cfg.Recorder.RecordWebSocketError("read")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))

		frame, err := protocol.DecodeFrame(msg)
		if err != nil {
			s.logger.Warn("frame decode error", "error", err)
			s.enqueueError(protocol.ErrInvalidFrame, "invalid frame")
			continue
		}

		switch frame.Type {
		case protocol.FrameEvent:
			s.handleEvent(ctx, frame.Payload)

		case protocol.FrameControl:
			if !s.handleControl(frame.Payload) {
				return
			}

		default:
			s.logger.Warn("unexpected frame type", "type", frame.Type)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, payload []byte) {
	ev, err := protocol.DecodeEvent(payload)
	if err != nil {
		s.logger.Warn("event decode error", "error", err)
		s.enqueueError(protocol.ErrInvalidEvent, "invalid event")
		return
	}

	s.logger.Debug("event", "type", ev.Type, "hid", ev.HID)
	err = s.server.runAction(ctx, ev.HID)
	switch {
	case err == nil:
	case errors.Is(err, errActionNotFound):
		s.enqueueError(protocol.ErrHandlerNotFound, "no action for "+ev.HID)
	case errors.Is(err, teoerrors.New(teoerrors.CodeNotConnected)):
		s.enqueueError(protocol.ErrNotConnected, "proxy is not connected")
	default:
		s.logger.Warn("action failed", "hid", ev.HID, "error", err)
		s.enqueueError(protocol.ErrServerError, "action failed")
	}
}

// handleControl processes a control message and reports whether the
// session should keep reading.
func (s *Session) handleControl(payload []byte) bool {
	ct, data, err := protocol.DecodeControl(payload)
	if err != nil {
		s.logger.Warn("control decode error", "error", err)
		return true
	}

	switch ct {
	case protocol.ControlPing:
		if pp, ok := data.(*protocol.PingPong); ok {
			s.enqueueControl(protocol.NewPong(pp.Timestamp))
		}

	case protocol.ControlResyncRequest:
		if rr, ok := data.(*protocol.ResyncRequest); ok {
			s.server.resync(s, rr.LastSeq)
		}

	case protocol.ControlClose:
		if cm, ok := data.(*protocol.CloseMessage); ok {
			s.logger.Info("client closing", "reason", cm.Reason, "message", cm.Message)
		}
		return false
	}
	return true
}
