package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	teoerrors "github.com/teonet-go/teoweb/internal/errors"
	"github.com/teonet-go/teoweb/pkg/dom"
	"github.com/teonet-go/teoweb/pkg/protocol"
)

type countingRecorder struct {
	mu       sync.Mutex
	patches  int
	opened   int
	closed   int
	wsErrors []string
}

func (r *countingRecorder) RecordPatches(n int) { r.mu.Lock(); r.patches += n; r.mu.Unlock() }
func (r *countingRecorder) SessionOpened()      { r.mu.Lock(); r.opened++; r.mu.Unlock() }
func (r *countingRecorder) SessionClosed()      { r.mu.Lock(); r.closed++; r.mu.Unlock() }
func (r *countingRecorder) RecordWebSocketError(t string) {
	r.mu.Lock()
	r.wsErrors = append(r.wsErrors, t)
	r.mu.Unlock()
}

func (r *countingRecorder) snapshot() (patches, opened, closed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.patches, r.opened, r.closed
}

type fixture struct {
	doc *dom.Document
	srv *Server
	ts  *httptest.Server
	rec *countingRecorder
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	doc := dom.New()
	rec := &countingRecorder{}
	cfg := Config{Recorder: rec, Gatherer: prometheus.NewRegistry()}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := New(doc, cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &fixture{doc: doc, srv: srv, ts: ts, rec: rec}
}

func (f *fixture) dial(t *testing.T, seq string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/_teoweb/ws?seq=" + seq
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return f.srv.SessionCount() > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *protocol.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := protocol.DecodeFrame(msg)
	require.NoError(t, err)
	return frame
}

func readPatches(t *testing.T, conn *websocket.Conn) (*protocol.Frame, *protocol.PatchesFrame) {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, protocol.FramePatches, frame.Type)
	pf, err := protocol.DecodePatches(frame.Payload)
	require.NoError(t, err)
	return frame, pf
}

func readError(t *testing.T, conn *websocket.Conn) *protocol.ErrorMessage {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, protocol.FrameError, frame.Type)
	em, err := protocol.DecodeErrorMessage(frame.Payload)
	require.NoError(t, err)
	return em
}

func writeFrame(t *testing.T, conn *websocket.Conn, ft protocol.FrameType, payload []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, protocol.NewFrame(ft, payload).Encode()))
}

func click(t *testing.T, conn *websocket.Conn, hid string) {
	t.Helper()
	writeFrame(t, conn, protocol.FrameEvent, protocol.EncodeEvent(&protocol.Event{Seq: 1, Type: protocol.EventClick, HID: hid}))
}

func TestPage_RendersSnapshot(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Title = "Fortunes" })
	f.doc.Batch(func(tx *dom.Tx) {
		tx.SetText("connection", "connected")
		tx.AddClass("connection", "connected")
	})
	f.doc.SetHTML("fortune", "<b>bold</b> move")
	f.doc.SetHTML("num_players", "<i>17</i>")

	resp, err := http.Get(f.ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	page := string(body)
	assert.Contains(t, page, "<title>Fortunes</title>")
	assert.Contains(t, page, `data-teoweb-seq="3"`)
	assert.Contains(t, page, `<span id="connection" class="connected">connected</span>`)
	assert.Contains(t, page, `<div id="fortune" class="">`+"<b>bold</b> move</div>")
	assert.Contains(t, page, `id="next"`)
}

func TestPage_TextIsEscaped(t *testing.T) {
	f := newFixture(t, nil)
	f.doc.SetText("connection", "<script>")

	resp, err := http.Get(f.ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Contains(t, string(body), "&lt;script&gt;")
}

func TestThinClient_ETag(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.ts.URL + "/_teoweb/client.js")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/javascript; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, body)
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/_teoweb/client.js", nil)
	req.Header.Set("If-None-Match", `"other", W/`+etag)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)
}

func TestWebSocket_RequiresSeq(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.ts.URL + "/_teoweb/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocket_LivePatches(t *testing.T) {
	f := newFixture(t, nil)
	f.doc.SetText("connection", "disconnected")

	conn := f.dial(t, "1")
	f.doc.Batch(func(tx *dom.Tx) {
		tx.SetText("connection", "connected")
		tx.AddClass("connection", "connected")
	})

	frame, pf := readPatches(t, conn)
	assert.False(t, frame.Flags.Has(protocol.FlagReplay))
	assert.Equal(t, uint64(2), pf.Seq)
	assert.Equal(t, []protocol.Patch{
		protocol.NewSetTextPatch("connection", "connected"),
		protocol.NewAddClassPatch("connection", "connected"),
	}, pf.Patches)

	f.doc.SetHTML("num_players", "42")
	_, pf = readPatches(t, conn)
	assert.Equal(t, uint64(3), pf.Seq)

	assert.Eventually(t, func() bool {
		patches, opened, _ := f.rec.snapshot()
		return patches == 3 && opened == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWebSocket_ReplaysMissedFrames(t *testing.T) {
	f := newFixture(t, nil)
	f.doc.SetHTML("num_players", "1")
	f.doc.SetHTML("num_players", "2")
	f.doc.SetHTML("num_players", "3")

	conn := f.dial(t, "1")

	for _, want := range []struct {
		seq   uint64
		value string
	}{{2, "2"}, {3, "3"}} {
		frame, pf := readPatches(t, conn)
		assert.True(t, frame.Flags.Has(protocol.FlagReplay))
		assert.Equal(t, want.seq, pf.Seq)
		assert.Equal(t, want.value, pf.Patches[0].Value)
	}

	f.doc.SetHTML("num_players", "4")
	frame, pf := readPatches(t, conn)
	assert.False(t, frame.Flags.Has(protocol.FlagReplay))
	assert.Equal(t, uint64(4), pf.Seq)
}

func TestWebSocket_ReplayKeepsHistoryFrames(t *testing.T) {
	f := newFixture(t, nil)
	f.doc.SetHTML("fortune", "a")
	f.doc.SetHTML("fortune", "b")

	conn := f.dial(t, "0")
	for i := 0; i < 2; i++ {
		frame, _ := readPatches(t, conn)
		require.True(t, frame.Flags.Has(protocol.FlagReplay))
	}

	kept, ok := f.srv.history.After(0)
	require.True(t, ok)
	require.Len(t, kept, 2)
	for _, frame := range kept {
		assert.False(t, frame.Flags.Has(protocol.FlagReplay))
	}
}

func TestWebSocket_ResyncFullWhenHistoryIsGone(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.PatchHistory = 2 })
	for _, v := range []string{"1", "2", "3", "4", "5"} {
		f.doc.SetHTML("num_servers", v)
	}

	conn := f.dial(t, "0")
	frame := readFrame(t, conn)
	require.Equal(t, protocol.FrameControl, frame.Type)
	ct, _, err := protocol.DecodeControl(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.ControlResyncFull, ct)
}

func TestWebSocket_ResyncRequest(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t, "0")

	f.doc.SetHTML("fortune", "a")
	f.doc.SetHTML("fortune", "b")
	readPatches(t, conn)
	readPatches(t, conn)

	ct, rr := protocol.NewResyncRequest(0)
	writeFrame(t, conn, protocol.FrameControl, protocol.EncodeControl(ct, rr))

	frame, pf := readPatches(t, conn)
	assert.True(t, frame.Flags.Has(protocol.FlagReplay))
	assert.Equal(t, uint64(1), pf.Seq)
	_, pf = readPatches(t, conn)
	assert.Equal(t, uint64(2), pf.Seq)
}

func TestWebSocket_PingPong(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t, "0")

	ct, pp := protocol.NewPing(1700000000000)
	writeFrame(t, conn, protocol.FrameControl, protocol.EncodeControl(ct, pp))

	frame := readFrame(t, conn)
	require.Equal(t, protocol.FrameControl, frame.Type)
	gotCT, payload, err := protocol.DecodeControl(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.ControlPong, gotCT)
	assert.Equal(t, uint64(1700000000000), payload.(*protocol.PingPong).Timestamp)
}

func TestWebSocket_ClickRunsAction(t *testing.T) {
	f := newFixture(t, nil)
	var calls atomic.Int32
	f.srv.Action(ActionNext, func(context.Context) error {
		calls.Add(1)
		f.doc.SetHTML("fortune", "Hello Consumer 0!")
		return nil
	})
	conn := f.dial(t, "0")

	click(t, conn, ActionNext)

	_, pf := readPatches(t, conn)
	assert.Equal(t, "Hello Consumer 0!", pf.Patches[0].Value)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebSocket_EventErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.Action(ActionNext, func(context.Context) error {
		return teoerrors.New(teoerrors.CodeActionFailed).Wrap(teoerrors.New(teoerrors.CodeNotConnected))
	})
	f.srv.Action("broken", func(context.Context) error { return errors.New("boom") })
	conn := f.dial(t, "0")

	click(t, conn, "missing")
	assert.Equal(t, protocol.ErrHandlerNotFound, readError(t, conn).Code)

	click(t, conn, ActionNext)
	assert.Equal(t, protocol.ErrNotConnected, readError(t, conn).Code)

	click(t, conn, "broken")
	assert.Equal(t, protocol.ErrServerError, readError(t, conn).Code)

	writeFrame(t, conn, protocol.FrameEvent, []byte{0xFF})
	assert.Equal(t, protocol.ErrInvalidEvent, readError(t, conn).Code)

	submit := protocol.NewEncoder()
	submit.WriteUvarint(1)
	submit.WriteU8(0x12)
	submit.WriteString(ActionNext)
	writeFrame(t, conn, protocol.FrameEvent, submit.Bytes())
	assert.Equal(t, protocol.ErrInvalidEvent, readError(t, conn).Code)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x7F, 0, 0, 0}))
	assert.Equal(t, protocol.ErrInvalidFrame, readError(t, conn).Code)
}

func TestWebSocket_CloseUnregisters(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t, "0")

	ct, cm := protocol.NewClose(protocol.CloseGoingAway, "bye")
	writeFrame(t, conn, protocol.FrameControl, protocol.EncodeControl(ct, cm))

	assert.Eventually(t, func() bool {
		_, _, closed := f.rec.snapshot()
		return f.srv.SessionCount() == 0 && closed == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAPI_Action(t *testing.T) {
	f := newFixture(t, nil)
	var calls atomic.Int32
	f.srv.Action(ActionNext, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	f.srv.Action("offline", func(context.Context) error {
		return teoerrors.New(teoerrors.CodeActionFailed).Wrap(teoerrors.New(teoerrors.CodeNotConnected))
	})

	tests := []struct {
		name        string
		action      string
		contentType string
		want        int
	}{
		{name: "ok", action: ActionNext, want: http.StatusNoContent},
		{name: "form", action: ActionNext, contentType: "application/x-www-form-urlencoded", want: http.StatusSeeOther},
		{name: "unknown", action: "nope", want: http.StatusNotFound},
		{name: "not_connected", action: "offline", want: http.StatusServiceUnavailable},
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, f.ts.URL+"/api/"+tc.action, strings.NewReader(url.Values{}.Encode()))
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			resp, err := client.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "teoweb_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	f := newFixture(t, func(c *Config) { c.Gatherer = reg })

	resp, err := http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok\n", string(body))

	resp, err = http.Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "teoweb_test_total 1")
}

func TestMiddlewareApplied(t *testing.T) {
	var seen atomic.Int32
	f := newFixture(t, func(c *Config) {
		c.Middleware = append(c.Middleware, func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen.Add(1)
				next.ServeHTTP(w, r)
			})
		})
	})

	resp, err := http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(1), seen.Load())
}

func TestServe_Shutdown(t *testing.T) {
	doc := dom.New()
	srv := New(doc, Config{Gatherer: prometheus.NewRegistry()})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/_teoweb/ws?seq=0", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()

	frame := readFrame(t, conn)
	require.Equal(t, protocol.FrameControl, frame.Type)
	ct, payload, err := protocol.DecodeControl(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.ControlClose, ct)
	assert.Equal(t, protocol.CloseServerShutdown, payload.(*protocol.CloseMessage).Reason)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestRun_ListenFailed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := New(dom.New(), Config{Addr: ln.Addr().String(), Gatherer: prometheus.NewRegistry()})
	err = srv.Run(context.Background())
	assert.Equal(t, teoerrors.CodeListenFailed, teoerrors.CodeOf(err))
}
