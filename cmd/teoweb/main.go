package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teonet-go/teoweb/internal/config"
	teoerrors "github.com/teonet-go/teoweb/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ╔╦╗┌─┐┌─┐┬ ┬┌─┐┌┐ 
   ║ ├┤ │ ││││├┤ ├┴┐
   ╩ └─┘└─┘└┴┘└─┘└─┘
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		teoerrors.SetColor(os.Getenv("NO_COLOR") == "")
		teoerrors.PrintError(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "teoweb",
		Short: "Web UI for the Teonet fortune broker",
		Long: `teoweb connects to a Teonet proxy, subscribes to the broker's
num_players and num_servers streams and shows them, together with the
broker's fortune answers, on a live web page.

  • Reconnects with capped exponential backoff
  • Pushes page updates to browsers over WebSocket
  • Ships a local broker for development`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default ./teoweb.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")

	load := func(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			return nil, nil, err
		}
		logger := cfg.Log.NewLogger()
		slog.SetDefault(logger)
		if f := cfg.File(); f != "" {
			logger.Debug("config loaded", "file", f)
		}
		return cfg, logger, nil
	}

	rootCmd.AddCommand(
		serveCmd(load),
		brokerCmd(load),
		versionCmd(),
	)
	return rootCmd
}

type loadFunc func(cmd *cobra.Command) (*config.Config, *slog.Logger, error)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// ignoreCanceled maps a clean shutdown to a nil error.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// printBanner prints the teoweb ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}
