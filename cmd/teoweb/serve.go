package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teonet-go/teoweb/internal/binder"
	"github.com/teonet-go/teoweb/internal/broker"
	"github.com/teonet-go/teoweb/internal/config"
	"github.com/teonet-go/teoweb/pkg/dom"
	"github.com/teonet-go/teoweb/pkg/middleware"
	"github.com/teonet-go/teoweb/pkg/server"
	"github.com/teonet-go/teoweb/pkg/teoproxy"
)

func serveCmd(load loadFunc) *cobra.Command {
	var withBroker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web UI bound to a Teonet proxy",
		Long: `Serve the fortune page and keep it bound to the broker peer.

The binder connects to the proxy, greets the broker, subscribes to its
streams and reconnects with backoff when the connection closes. Browsers
receive every change over WebSocket; the "Next message" button asks the
broker for the next fortune.

Examples:
  teoweb serve
  teoweb serve --host=proxy.example.com --peer=<broker address>
  teoweb serve --with-broker`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			if withBroker {
				useLocalBroker(cfg)
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runServe(ctx, cfg, logger, withBroker)
		},
	}

	cmd.Flags().String("host", "", "Teonet proxy host")
	cmd.Flags().String("peer", "", "Broker peer address")
	cmd.Flags().Bool("insecure", false, "Dial the proxy over ws:// instead of wss://")
	cmd.Flags().StringP("addr", "a", "", "Page server listen address")
	cmd.Flags().Bool("sanitize", false, "Sanitize fortune HTML before showing it")
	cmd.Flags().String("broker-addr", "", "Local broker listen address (with --with-broker)")
	cmd.Flags().BoolVar(&withBroker, "with-broker", false, "Run the local broker and connect to it")
	return cmd
}

// useLocalBroker points the proxy settings at the in-process broker.
func useLocalBroker(cfg *config.Config) {
	host, port, err := net.SplitHostPort(cfg.Broker.Addr)
	if err != nil || host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	cfg.Proxy.Host = net.JoinHostPort(host, port)
	cfg.Proxy.Insecure = true
	cfg.Proxy.Peer = cfg.Broker.Peer
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, withBroker bool) error {
	metrics := middleware.NewMetrics()
	doc := dom.New()

	proxyCfg := teoproxy.Config{
		Insecure:         cfg.Proxy.Insecure,
		HandshakeTimeout: cfg.Proxy.HandshakeTimeout,
		WriteWait:        cfg.Server.WriteWait,
		PongWait:         cfg.Server.PongWait,
		Logger:           logger,
	}
	opts := binder.OptionsFromConfig(cfg, logger)
	opts.Recorder = metrics
	b := binder.New(doc, binder.ProxyClientFactory(proxyCfg), opts)

	scfg := server.ConfigFrom(cfg.Server, logger)
	scfg.Recorder = metrics
	scfg.Middleware = []func(http.Handler) http.Handler{
		middleware.OpenTelemetry(middleware.WithRequestFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics" && !strings.HasPrefix(r.URL.Path, "/_teoweb/")
		})),
		metrics.Handler,
	}
	srv := server.New(doc, scfg)
	srv.Action(server.ActionNext, b.NextMessage)

	printBanner()
	info("Page:   http://%s", displayAddr(cfg.Server.Addr))
	info("Proxy:  %s", cfg.ProxyURL())
	info("Broker: %s", cfg.Proxy.Peer)

	g, ctx := errgroup.WithContext(ctx)
	if withBroker {
		startBroker(ctx, g, cfg, logger)
	}
	g.Go(func() error {
		return ignoreCanceled(b.Run(ctx))
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})
	return g.Wait()
}

// displayAddr turns a listen address into something a browser can open.
func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func startBroker(ctx context.Context, g *errgroup.Group, cfg *config.Config, logger *slog.Logger) {
	brk := broker.New(broker.OptionsFromConfig(cfg, logger))
	g.Go(func() error {
		return ignoreCanceled(brk.Run(ctx))
	})
	g.Go(func() error {
		return serveHTTP(ctx, cfg.Broker.Addr, brk.Handler(), cfg.Server.ShutdownTimeout)
	})
}
