package binder

import (
	"context"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teonet-go/teoweb/internal/broker"
	"github.com/teonet-go/teoweb/internal/config"
	"github.com/teonet-go/teoweb/pkg/dom"
	"github.com/teonet-go/teoweb/pkg/teoproxy"
)

// TestBinder_AgainstLocalBroker drives the real proxy client against the
// local broker.
func TestBinder_AgainstLocalBroker(t *testing.T) {
	const peer = "local-broker"

	brk := broker.New(broker.Options{Peer: peer, Version: "0.0.1", Interval: 10 * time.Millisecond, Seed: 42})
	brokerCtx, stopBroker := context.WithCancel(context.Background())
	brokerDone := make(chan struct{})
	go func() {
		_ = brk.Run(brokerCtx)
		close(brokerDone)
	}()
	ts := httptest.NewServer(brk.Handler())
	defer func() {
		stopBroker()
		<-brokerDone
		ts.Close()
	}()

	doc := dom.New()
	b := New(doc, ProxyClientFactory(teoproxy.Config{HandshakeTimeout: time.Second}), Options{
		Host:      "ws://" + strings.TrimPrefix(ts.URL, "http://") + "/ws",
		Peer:      peer,
		Reconnect: config.ReconnectConfig{Initial: 10 * time.Millisecond, Multiplier: 2, Max: 100 * time.Millisecond},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, b.Connected, 2*time.Second, 5*time.Millisecond)

	text := func(id string) string {
		e, _ := doc.Element(id)
		return e.Content
	}
	assert.Equal(t, "connected", text(ElementConnection))

	for _, id := range []string{ElementNumPlayers, ElementNumServers} {
		require.Eventually(t, func() bool { return text(id) != "" }, 2*time.Second, 5*time.Millisecond, id)
		n, err := strconv.Atoi(text(id))
		require.NoError(t, err, id)
		assert.True(t, n >= 1 && n <= 100, "%s = %d", id, n)
	}

	require.NoError(t, b.NextMessage(ctx))
	require.Eventually(t, func() bool { return text(ElementFortune) == "Hello Consumer 0!" },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, b.NextMessage(ctx))
	require.Eventually(t, func() bool { return text(ElementFortune) == "Hello Consumer 1!" },
		2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
