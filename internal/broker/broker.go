package broker

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/teonet-go/teoweb/internal/config"
	teoerrors "github.com/teonet-go/teoweb/internal/errors"
	"github.com/teonet-go/teoweb/pkg/teoproxy"
)

// Broker API command names.
const (
	APIHello = "hello"
	APIMsg   = "msg"

	consumerHello = "Consumer"
	cmdVersion    = "version"
)

// DefaultSendBuffer is the number of packets queued per connection.
const DefaultSendBuffer = 64

// Options configures a Broker.
type Options struct {
	Peer     string
	Version  string
	Interval time.Duration
	Seed     uint64

	WriteWait time.Duration
	PongWait  time.Duration

	// SendBuffer bounds the packets queued for one connection. A connection
	// whose queue is full is dropped.
	SendBuffer int

	Logger *slog.Logger
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Peer:      cfg.Broker.Peer,
		Version:   cfg.Broker.Version,
		Interval:  cfg.Broker.Interval,
		Seed:      cfg.Broker.Seed,
		WriteWait: cfg.Server.WriteWait,
		PongWait:  cfg.Server.PongWait,
		Logger:    logger,
	}
}

// session is one proxy connection attached to the broker peer. Packets
// for it are queued by the Run loop and written by writeLoop.
type session struct {
	conn     *teoproxy.Conn
	send     chan *teoproxy.Packet
	done     chan struct{}
	consumer bool
	streams  map[string]bool
}

func newSession(conn *teoproxy.Conn, buffer int) *session {
	return &session{
		conn:    conn,
		send:    make(chan *teoproxy.Packet, buffer),
		done:    make(chan struct{}),
		streams: make(map[string]bool),
	}
}

// queue adds p to the send queue without blocking.
func (s *session) queue(p *teoproxy.Packet) bool {
	select {
	case s.send <- p:
		return true
	default:
		return false
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case p := <-s.send:
			if err := s.conn.WritePacket(p); err != nil {
				s.conn.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

type request struct {
	s *session
	p *teoproxy.Packet
}

// Broker serves the broker API over proxy connections. All session state
// is owned by the Run loop.
type Broker struct {
	opts     Options
	logger   *slog.Logger
	upgrader teoproxy.Upgrader
	producer *Producer
	subs     *Subscribers

	sessions   map[string]*session
	register   chan *session
	unregister chan *session
	inbound    chan request
	publish    chan []string

	// done is closed when Run returns.
	done chan struct{}
}

// New creates a broker.
func New(opts Options) *Broker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	return &Broker{
		opts:   opts,
		logger: logger.With("component", "broker"),
		upgrader: teoproxy.Upgrader{
			Upgrader: websocket.Upgrader{
				ReadBufferSize:  1024,
				WriteBufferSize: 1024,
				CheckOrigin:     func(*http.Request) bool { return true },
			},
			WriteWait: opts.WriteWait,
			PongWait:  opts.PongWait,
		},
		producer:   NewProducer(opts.Interval, opts.Seed),
		subs:       NewSubscribers(),
		sessions:   make(map[string]*session),
		register:   make(chan *session),
		unregister: make(chan *session),
		inbound:    make(chan request),
		publish:    make(chan []string),
		done:       make(chan struct{}),
	}
}

// Handler returns the broker's HTTP routes.
func (b *Broker) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", b.serveWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

// Run starts the producer and processes connections until ctx is done.
func (b *Broker) Run(ctx context.Context) error {
	defer close(b.done)

	go b.producer.Run(ctx, func(values []string) {
		select {
		case b.publish <- values:
		case <-ctx.Done():
		}
	})

	b.logger.Info("broker started", "peer", b.opts.Peer, "interval", b.opts.Interval)

	for {
		select {
		case s := <-b.register:
			b.sessions[s.conn.ID] = s
			b.logger.Info("connection registered", "conn", s.conn.ID)

		case s := <-b.unregister:
			if _, ok := b.sessions[s.conn.ID]; ok {
				b.remove(s)
				b.logger.Info("connection removed", "conn", s.conn.ID)
			}

		case req := <-b.inbound:
			b.handle(req.s, req.p)

		case values := <-b.publish:
			for _, v := range values {
				b.deliver(v)
			}

		case <-ctx.Done():
			b.logger.Info("broker shutting down")
			for _, s := range b.sessions {
				b.remove(s)
				s.conn.Close()
			}
			return ctx.Err()
		}
	}
}

func (b *Broker) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r)
	if err != nil {
		b.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The first packet must connect the websocket to our peer.
	p, err := conn.ReadPacket()
	if err != nil {
		return
	}
	if p.Cmd != teoproxy.CmdConnectTo || p.Peer != b.opts.Peer {
		b.logger.Warn("connect rejected", "conn", conn.ID, "peer", p.Peer)
		_ = conn.AnswerError(p, "peer "+p.Peer+" not found")
		return
	}
	if err := conn.Answer(p, nil); err != nil {
		return
	}

	s := newSession(conn, b.opts.SendBuffer)
	defer close(s.done)
	if !b.send(b.register, s) {
		return
	}
	defer b.send(b.unregister, s)
	go s.writeLoop()

	for {
		p, err := conn.ReadPacket()
		if err != nil {
			if teoerrors.CodeOf(err) == teoerrors.CodeMalformedPacket {
				b.logger.Warn("malformed packet", "conn", conn.ID, "error", err)
				continue
			}
			return
		}
		select {
		case b.inbound <- request{s: s, p: p}:
		case <-b.done:
			return
		}
	}
}

// send hands s to the Run loop unless it has stopped.
func (b *Broker) send(ch chan *session, s *session) bool {
	select {
	case ch <- s:
		return true
	case <-b.done:
		return false
	}
}

// remove forgets s and its subscriptions. Run loop only.
func (b *Broker) remove(s *session) {
	delete(b.sessions, s.conn.ID)
	b.subs.Del(s.conn.ID)
}

// enqueue queues p for s. A session that cannot keep up is closed; its
// serveWS then unregisters it.
func (b *Broker) enqueue(s *session, p *teoproxy.Packet) {
	if _, ok := b.sessions[s.conn.ID]; !ok {
		return
	}
	if s.queue(p) {
		return
	}
	b.logger.Warn("connection too slow, dropping", "conn", s.conn.ID, "subscriptions", b.subs.Commands(s.conn.ID))
	b.remove(s)
	s.conn.Close()
}

func (b *Broker) handle(s *session, p *teoproxy.Packet) {
	if _, ok := b.sessions[s.conn.ID]; !ok {
		return // dropped while the packet was in flight
	}
	log := b.logger.With("conn", s.conn.ID)

	switch p.Cmd {
	case teoproxy.CmdSendTo:
		switch p.Name {
		case APIHello:
			log.Debug("hello", "data", string(p.Data))
			b.enqueue(s, teoproxy.AnswerPacket(p, append([]byte("Hello "), p.Data...)))

		case APIMsg:
			b.handleMsg(s, string(p.Data))
			b.enqueue(s, teoproxy.AnswerPacket(p, []byte("OK")))

		default:
			b.enqueue(s, teoproxy.ErrorPacket(p, "command "+p.Name+" not found"))
		}

	case teoproxy.CmdStream:
		s.streams[p.Name] = true
		log.Info("stream requested", "name", p.Name)
		b.enqueue(s, teoproxy.AnswerPacket(p, nil))

	default:
		b.enqueue(s, teoproxy.ErrorPacket(p, "unexpected command "+p.Cmd.String()))
	}
}

// handleMsg feeds msg data to the command reader.
func (b *Broker) handleMsg(s *session, data string) {
	parts := strings.Split(data, "/")
	log := b.logger.With("conn", s.conn.ID)

	switch {
	case data == consumerHello:
		s.consumer = true
		log.Info("consumer added")

	case len(parts) < 2:
		log.Debug("unknown message", "data", data)

	case parts[0] == CmdSubscribe:
		b.subs.Add(s.conn.ID, parts[1])
		log.Info("subscribe", "command", parts[1])
		if parts[1] == cmdVersion {
			b.enqueue(s, teoproxy.PushPacket(b.opts.Peer, []byte(cmdVersion+"/"+b.opts.Version)))
		}

	case parts[0] == CmdUnsubscribe:
		b.subs.DelCmd(s.conn.ID, parts[1])
		log.Info("unsubscribe", "command", parts[1])

	default:
		log.Debug("unknown message", "data", data)
	}
}

// deliver pushes value to every session streaming or subscribed to its
// command, once per session.
func (b *Broker) deliver(value string) {
	cmd, _, _ := strings.Cut(value, "/")
	for id, s := range b.sessions {
		if !s.streams[cmd] && !b.subs.Check(id, cmd) {
			continue
		}
		b.enqueue(s, teoproxy.PushPacket(b.opts.Peer, []byte(value)))
	}
}
