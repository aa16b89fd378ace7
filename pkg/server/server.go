package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	teoerrors "github.com/teonet-go/teoweb/internal/errors"
	"github.com/teonet-go/teoweb/pkg/dom"
	"github.com/teonet-go/teoweb/pkg/protocol"
)

// Action runs when a browser activates the element it is registered for.
type Action func(ctx context.Context) error

var errActionNotFound = errors.New("server: action not found")

// Server serves the page and pushes document patches to browser sessions.
type Server struct {
	cfg      Config
	doc      *dom.Document
	logger   *slog.Logger
	upgrader websocket.Upgrader
	history  *PatchHistory
	router   chi.Router

	// mu orders history updates, broadcasts and session registration.
	mu       sync.Mutex
	sessions map[string]*Session
	stopObs  func()

	actionsMu sync.RWMutex
	actions   map[string]Action
}

// New creates a server for doc and starts observing it.
func New(doc *dom.Document, cfg Config) *Server {
	cfg.applyDefaults()
	if cfg.SendBuffer < cfg.PatchHistory+2 {
		cfg.SendBuffer = cfg.PatchHistory + 2
	}

	s := &Server{
		cfg:      cfg,
		doc:      doc,
		logger:   cfg.Logger.With("component", "server"),
		history:  NewPatchHistory(cfg.PatchHistory),
		sessions: make(map[string]*Session),
		actions:  make(map[string]Action),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     cfg.CheckOrigin,
	}

	_, version := doc.Snapshot()
	s.history.Reset(version)
	s.stopObs = doc.Observe(s.broadcast)

	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	for _, mw := range s.cfg.Middleware {
		r.Use(mw)
	}
	r.Get("/", s.servePage)
	r.Get("/_teoweb/client.js", s.serveThinClient)
	r.Head("/_teoweb/client.js", s.serveThinClient)
	r.Get("/_teoweb/ws", s.serveWS)
	r.Post("/api/{action}", s.serveAction)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	return r
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Action registers fn for the element with id. Registering again replaces
// the previous action.
func (s *Server) Action(id string, fn Action) {
	s.actionsMu.Lock()
	defer s.actionsMu.Unlock()
	s.actions[id] = fn
}

func (s *Server) runAction(ctx context.Context, id string) error {
	s.actionsMu.RLock()
	fn, ok := s.actions[id]
	s.actionsMu.RUnlock()
	if !ok {
		return errActionNotFound
	}
	return fn(ctx)
}

// broadcast runs under the document lock for every effective mutation.
func (s *Server) broadcast(version uint64, patches []protocol.Patch) {
	payload := protocol.EncodePatches(&protocol.PatchesFrame{Seq: version, Patches: patches})

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(payload) > protocol.MaxPayloadSize {
		// Sessions see a gap and resync from a full page.
		s.logger.Error("patch frame too large", "seq", version, "size", len(payload))
		s.history.Reset(version)
		return
	}
	frame := protocol.NewFrame(protocol.FramePatches, payload)
	s.history.Add(version, frame)

	data := frame.Encode()
	for id, sess := range s.sessions {
		if !sess.enqueue(outFrame{data: data, patches: len(patches)}) {
			s.logger.Warn("session too slow, dropping", "session", id)
			delete(s.sessions, id)
			sess.close()
		}
	}
}

// replayLocked queues the frames after lastSeq for sess, or asks it to
// reload when they are gone. s.mu must be held.
func (s *Server) replayLocked(sess *Session, lastSeq uint64) bool {
	frames, ok := s.history.After(lastSeq)
	if !ok {
		s.logger.Info("resync not possible, reload requested", "session", sess.ID, "last_seq", lastSeq)
		return sess.enqueueControl(protocol.ControlResyncFull, nil)
	}
	for _, f := range frames {
		if !sess.enqueue(outFrame{data: f.WithFlags(protocol.FlagReplay).Encode()}) {
			return false
		}
	}
	return true
}

func (s *Server) resync(sess *Session, lastSeq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.replayLocked(sess, lastSeq) {
		delete(s.sessions, sess.ID)
		sess.close()
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	lastSeq, err := strconv.ParseUint(r.URL.Query().Get("seq"), 10, 64)
	if err != nil {
		http.Error(w, "missing or invalid seq", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", teoerrors.New(teoerrors.CodeUpgradeFailed).Wrap(err))
		s.cfg.Recorder.RecordWebSocketError("upgrade")
		return
	}
	sess := newSession(s, conn)

	s.mu.Lock()
	if !s.replayLocked(sess, lastSeq) {
		s.mu.Unlock()
		sess.close()
		return
	}
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("session opened", "session", sess.ID, "last_seq", lastSeq, "remote", remoteHost(r))
	s.cfg.Recorder.SessionOpened()
	defer func() {
		s.unregister(sess)
		s.cfg.Recorder.SessionClosed()
		s.logger.Info("session closed", "session", sess.ID)
	}()

	go sess.writeLoop()
	sess.readLoop(r.Context())
}

func (s *Server) unregister(sess *Session) {
	s.mu.Lock()
	if s.sessions[sess.ID] == sess {
		delete(s.sessions, sess.ID)
	}
	s.mu.Unlock()
	sess.close()
}

func (s *Server) serveAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "action")
	err := s.runAction(r.Context(), id)
	switch {
	case err == nil:
		if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
			// Plain form post from the page without the thin client.
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, errActionNotFound):
		http.Error(w, "unknown action "+id, http.StatusNotFound)
	case errors.Is(err, teoerrors.New(teoerrors.CodeNotConnected)):
		http.Error(w, "proxy is not connected", http.StatusServiceUnavailable)
	default:
		s.logger.Warn("action failed", "action", id, "error", err)
		http.Error(w, "action failed", http.StatusInternalServerError)
	}
}

// SessionCount returns the number of open browser sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close tells every session the server is going away, closes them and
// stops observing the document.
func (s *Server) Close() {
	s.stopObs()

	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		sessions = append(sessions, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.shutdown()
	}
}

// Run serves HTTP on the configured address until ctx is done, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return teoerrors.New(teoerrors.CodeListenFailed).WithDetail(s.cfg.Addr).Wrap(err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.WriteWait,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", ln.Addr().String())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case <-ctx.Done():
		s.logger.Info("shutting down...")
		s.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
		s.logger.Info("server shutdown complete")
		return nil
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
