package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	teoerrors "github.com/teonet-go/teoweb/internal/errors"
)

func brokerCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run a local broker peer for development",
		Long: `Run a local stand-in for a Teonet proxy with the broker peer behind it.

It answers "hello" and "msg" requests, manages subscriptions and streams
random num_players and num_servers values every interval.

Examples:
  teoweb broker
  teoweb broker --broker-addr=:9000 --interval=500ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			printBanner()
			info("Broker: ws://%s/ws", displayAddr(cfg.Broker.Addr))
			info("Peer:   %s", cfg.Broker.Peer)
			logger.Info("starting broker", "addr", cfg.Broker.Addr, "interval", cfg.Broker.Interval)

			g, ctx := errgroup.WithContext(ctx)
			startBroker(ctx, g, cfg, logger)
			return g.Wait()
		},
	}

	cmd.Flags().String("broker-addr", "", "Listen address")
	cmd.Flags().Duration("interval", 0, "Stream value interval")
	return cmd
}

// serveHTTP serves h on addr until ctx is done.
func serveHTTP(ctx context.Context, addr string, h http.Handler, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return teoerrors.FromError(err, teoerrors.CodeBrokerFailed).WithDetail(addr)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return teoerrors.FromError(err, teoerrors.CodeBrokerFailed)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
