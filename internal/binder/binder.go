package binder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/teonet-go/teoweb/internal/config"
	teoerrors "github.com/teonet-go/teoweb/internal/errors"
	"github.com/teonet-go/teoweb/pkg/dom"
	"github.com/teonet-go/teoweb/pkg/teoproxy"
)

// Page element ids and classes.
const (
	ElementConnection = "connection"
	ElementFortune    = "fortune"
	ElementNumPlayers = "num_players"
	ElementNumServers = "num_servers"

	ClassConnected    = "connected"
	ClassDisconnected = "disconnected"
)

// Broker API used by the binder.
const (
	apiHello = "hello"
	apiMsg   = "msg"
)

const tracerName = "github.com/teonet-go/teoweb/internal/binder"

// Client is the proxy connection the binder drives.
type Client interface {
	Connect(ctx context.Context, host, peer string) error
	SendTo(peer, name string, data []byte) error
	Stream(peer, name string) error
	Close() error
}

// ClientFactory creates the client that reports to h.
type ClientFactory func(h teoproxy.Handler) Client

// ProxyClientFactory returns a factory for websocket proxy clients.
func ProxyClientFactory(cfg teoproxy.Config) ClientFactory {
	return func(h teoproxy.Handler) Client {
		return teoproxy.NewClient(h, cfg)
	}
}

// Recorder receives binder measurements.
type Recorder interface {
	RecordMessage(cmd string)
	RecordReconnect(delay time.Duration)
	SetConnected(connected bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordMessage(string)         {}
func (nopRecorder) RecordReconnect(time.Duration) {}
func (nopRecorder) SetConnected(bool)             {}

// Options configures a Binder.
type Options struct {
	// Host is the proxy host, Peer the broker's Teonet address.
	Host string
	Peer string

	// Reconnect is the backoff policy after a close.
	Reconnect config.ReconnectConfig

	// Sanitize passes fortune answers through bluemonday's UGC policy.
	Sanitize bool

	Logger   *slog.Logger
	Recorder Recorder
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Host:      cfg.Proxy.Host,
		Peer:      cfg.Proxy.Peer,
		Reconnect: cfg.Reconnect,
		Sanitize:  cfg.Sanitize,
		Logger:    logger,
	}
}

// Binder binds a proxy connection to the page document.
type Binder struct {
	opts      Options
	doc       *dom.Document
	client    Client
	policy    backoff.BackOff
	sanitizer *bluemonday.Policy
	logger    *slog.Logger
	recorder  Recorder
	tracer    trace.Tracer

	// closed is signalled after every close notification.
	closed chan struct{}

	// after schedules the reconnect timer.
	after func(d time.Duration) <-chan time.Time

	// mu serialises notification handlers and page actions.
	mu        sync.Mutex
	connected bool
	counter   int
}

// New creates a binder that renders into doc and talks through the client
// made by factory.
func New(doc *dom.Document, factory ClientFactory, opts Options) *Binder {
	if opts.Reconnect.Initial <= 0 {
		opts.Reconnect = config.New().Reconnect
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	b := &Binder{
		opts:     opts,
		doc:      doc,
		policy:   NewBackOff(opts.Reconnect),
		logger:   logger.With("component", "binder", "peer", opts.Peer),
		recorder: recorder,
		tracer:   otel.Tracer(tracerName),
		closed:   make(chan struct{}, 1),
		after:    time.After,
	}
	if opts.Sanitize {
		b.sanitizer = bluemonday.UGCPolicy()
	}
	b.client = factory(proxyHandler{b})
	return b
}

// Run connects and keeps reconnecting until ctx is cancelled. It returns
// ctx.Err() on cancellation.
func (b *Binder) Run(ctx context.Context) error {
	b.policy.Reset()
	select {
	case <-b.closed:
	default:
	}

	for {
		if err := b.connect(ctx); err == nil {
			b.policy.Reset()
			select {
			case <-b.closed:
			case <-ctx.Done():
				b.client.Close()
				return ctx.Err()
			}
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("connect failed", "host", b.opts.Host, "error", err)
			b.reflectDisconnected()
		}

		delay := b.policy.NextBackOff()
		if delay == backoff.Stop {
			return teoerrors.New(teoerrors.CodeRetryExhausted)
		}
		b.recorder.RecordReconnect(delay)
		b.logger.Debug("reconnect scheduled", "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.after(delay):
		}
	}
}

func (b *Binder) connect(ctx context.Context) error {
	ctx, span := b.tracer.Start(ctx, "binder.connect",
		trace.WithAttributes(
			attribute.String("teonet.host", b.opts.Host),
			attribute.String("teonet.peer", b.opts.Peer),
		))
	defer span.End()

	err := b.client.Connect(ctx, b.opts.Host, b.opts.Peer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// NextMessage asks the broker for the next fortune. The greeting counter
// advances even when the send fails.
func (b *Binder) NextMessage(ctx context.Context) error {
	_, span := b.tracer.Start(ctx, "binder.next_message")
	defer span.End()

	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.counter
	b.counter++
	span.SetAttributes(attribute.Int("teoweb.counter", i))

	if err := b.client.SendTo(b.opts.Peer, apiHello, []byte(fmt.Sprintf("Consumer %d!", i))); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return teoerrors.New(teoerrors.CodeActionFailed).Wrap(err)
	}
	return nil
}

// Counter returns the number of NextMessage calls so far.
func (b *Binder) Counter() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counter
}

// Connected reports the connection state shown on the page.
func (b *Binder) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// subscribe runs on connect: reflect the state, greet the broker and
// subscribe to its streams.
func (b *Binder) subscribe() {
	_, span := b.tracer.Start(context.Background(), "binder.subscribe")
	defer span.End()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.connected = true
	b.recorder.SetConnected(true)
	b.doc.Batch(func(tx *dom.Tx) {
		tx.SetText(ElementConnection, "connected")
		tx.AddClass(ElementConnection, ClassConnected)
		tx.RemoveClass(ElementConnection, ClassDisconnected)
	})

	b.send(span, apiMsg, "Consumer")
	b.stream(span, ElementNumPlayers)
	b.stream(span, ElementNumServers)
	b.send(span, apiMsg, "subscribe/version")
	b.send(span, apiMsg, "subscribe/"+ElementNumPlayers)
	b.send(span, apiMsg, "subscribe/"+ElementNumServers)

	b.logger.Info("subscribed")
}

func (b *Binder) send(span trace.Span, name, data string) {
	if err := b.client.SendTo(b.opts.Peer, name, []byte(data)); err != nil {
		span.RecordError(err)
		b.logger.Warn("send failed", "name", name, "data", data, "error", err)
	}
}

func (b *Binder) stream(span trace.Span, name string) {
	if err := b.client.Stream(b.opts.Peer, name); err != nil {
		span.RecordError(err)
		b.logger.Warn("stream failed", "name", name, "error", err)
	}
}

func (b *Binder) reflectDisconnected() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connected = false
	b.recorder.SetConnected(false)
	b.doc.Batch(func(tx *dom.Tx) {
		tx.SetText(ElementConnection, "disconnected")
		tx.AddClass(ElementConnection, ClassDisconnected)
		tx.RemoveClass(ElementConnection, ClassConnected)
	})
}

func (b *Binder) handleClose(err error) {
	if err != nil {
		b.logger.Info("connection closed", "error", err)
	} else {
		b.logger.Info("connection closed")
	}
	b.reflectDisconnected()

	select {
	case b.closed <- struct{}{}:
	default:
	}
}

func (b *Binder) handleMessage(p *teoproxy.Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recorder.RecordMessage(p.Cmd.String())
	b.logger.Debug("message", "packet", p)

	switch p.Cmd {
	case teoproxy.CmdSendTo:
		b.doc.SetHTML(ElementFortune, b.fortune(p.Data))

	case teoproxy.CmdNone:
		b.handleStream(string(p.Data))
	}
}

func (b *Binder) fortune(data []byte) string {
	if b.sanitizer != nil {
		return string(b.sanitizer.SanitizeBytes(data))
	}
	return string(data)
}

// handleStream applies a "name/value" stream payload. A payload without a
// value clears the element.
func (b *Binder) handleStream(payload string) {
	parts := strings.Split(payload, "/")
	switch parts[0] {
	case ElementNumPlayers, ElementNumServers:
		var value string
		if len(parts) < 2 {
			b.logger.Warn("stream value without payload", "data", payload)
		} else {
			value = parts[1]
		}
		b.doc.SetHTML(parts[0], value)
	}
}

// proxyHandler adapts the binder to teoproxy.Handler without exporting
// the notification methods on Binder.
type proxyHandler struct{ b *Binder }

func (h proxyHandler) OnConnect()                   { h.b.subscribe() }
func (h proxyHandler) OnClose(err error)            { h.b.handleClose(err) }
func (h proxyHandler) OnMessage(p *teoproxy.Packet) { h.b.handleMessage(p) }
