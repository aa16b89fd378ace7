package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/teonet-go/teoweb/internal/config"
	teoerrors "github.com/teonet-go/teoweb/internal/errors"
)

func TestVersionShort(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--short"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != version {
		t.Errorf("version --short = %q, want %q", got, version)
	}
}

func TestVersionLong(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	for _, want := range []string{"Version:", "Commit:", "Go version:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("version output missing %q", want)
		}
	}
}

func TestServeRejectsBadConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve", "--config", "does-not-exist.yaml"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestUseLocalBroker(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{addr: ":8090", want: "localhost:8090"},
		{addr: "0.0.0.0:9000", want: "localhost:9000"},
		{addr: "127.0.0.1:9000", want: "127.0.0.1:9000"},
	}

	for _, tc := range tests {
		t.Run(tc.addr, func(t *testing.T) {
			cfg := config.New()
			cfg.Broker.Addr = tc.addr
			cfg.Broker.Peer = "local-peer"

			useLocalBroker(cfg)

			if cfg.Proxy.Host != tc.want {
				t.Errorf("proxy host = %q, want %q", cfg.Proxy.Host, tc.want)
			}
			if !cfg.Proxy.Insecure {
				t.Error("local broker must be dialled insecure")
			}
			if cfg.Proxy.Peer != "local-peer" {
				t.Errorf("proxy peer = %q, want local-peer", cfg.Proxy.Peer)
			}
		})
	}
}

func TestDisplayAddr(t *testing.T) {
	if got := displayAddr(":8080"); got != "localhost:8080" {
		t.Errorf("displayAddr(:8080) = %q", got)
	}
	if got := displayAddr("example.com:80"); got != "example.com:80" {
		t.Errorf("displayAddr(example.com:80) = %q", got)
	}
}

func TestIgnoreCanceled(t *testing.T) {
	if err := ignoreCanceled(context.Canceled); err != nil {
		t.Errorf("ignoreCanceled(Canceled) = %v", err)
	}
	if err := ignoreCanceled(fmt.Errorf("wrapped: %w", context.Canceled)); err != nil {
		t.Errorf("ignoreCanceled(wrapped) = %v", err)
	}
	if err := ignoreCanceled(context.DeadlineExceeded); err == nil {
		t.Error("deadline exceeded must be reported")
	}
}

func TestServeHTTP_ListenFailed(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	addr := busy.Addr().String()
	err = serveHTTP(context.Background(), addr, http.NotFoundHandler(), time.Second)
	if got := teoerrors.CodeOf(err); got != teoerrors.CodeBrokerFailed {
		t.Fatalf("CodeOf(err) = %q, want %q (err: %v)", got, teoerrors.CodeBrokerFailed, err)
	}

	var te *teoerrors.Error
	if !errors.As(err, &te) || te.Detail != addr || te.Wrapped == nil {
		t.Errorf("error = %+v, want detail %q and a cause", te, addr)
	}
}
