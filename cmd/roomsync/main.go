package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/roomsync/internal/channel"
	"github.com/npezzotti/roomsync/internal/chatapi"
	"github.com/npezzotti/roomsync/internal/config"
	"github.com/npezzotti/roomsync/internal/logging"
	"github.com/npezzotti/roomsync/internal/session"
	"github.com/npezzotti/roomsync/internal/view"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

type clientFlags struct {
	api      string
	ws       string
	logLevel string
	logFile  string
	noColor  bool
}

func newRootCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:          "roomsync",
		Short:        "Chat with the roomsync assistant from the terminal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClientConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			return run(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.api, "api", "", "history service base URL (ROOMSYNC_API_URL)")
	f.StringVar(&flags.ws, "ws", "", "live channel websocket URL (ROOMSYNC_WS_URL)")
	f.StringVar(&flags.logLevel, "log-level", "", "log level (ROOMSYNC_LOG_LEVEL)")
	f.StringVar(&flags.logFile, "log-file", "", "write logs to this file, logs are dropped when unset (ROOMSYNC_LOG_FILE)")
	f.BoolVar(&flags.noColor, "no-color", false, "disable colored output (ROOMSYNC_NO_COLOR)")

	return cmd
}

func (cf *clientFlags) apply(cmd *cobra.Command, cfg *config.ClientConfig) {
	changed := cmd.Flags().Changed
	if changed("api") {
		cfg.ApiURL = cf.api
	}
	if changed("ws") {
		cfg.WsURL = cf.ws
	}
	if changed("log-level") {
		cfg.LogLevel = cf.logLevel
	}
	if changed("log-file") {
		cfg.LogFile = cf.logFile
	}
	if changed("no-color") {
		cfg.NoColor = cf.noColor
	}
}

func run(ctx context.Context, cfg *config.ClientConfig, in io.Reader, out io.Writer) error {
	// the terminal owns stdout, so logs only go to a file
	var logOut io.Writer = io.Discard
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		defer f.Close()
		logOut = f
	}

	logger, err := logging.New(logOut, cfg.LogLevel, false)
	if err != nil {
		return err
	}

	api, err := chatapi.NewClient(cfg.ApiURL,
		chatapi.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		chatapi.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	live := channel.New(cfg.WsURL,
		channel.WithLogger(logger),
		channel.WithReconnectDelay(cfg.ReconnectDelay),
	)
	if err := live.Connect(ctx); err != nil {
		return errors.Wrap(err, "connect live channel")
	}
	defer live.Disconnect()

	ctrl := session.NewController(logger, api, api, live)
	go ctrl.Run(ctx)
	defer func() {
		shutDownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := ctrl.Shutdown(shutDownCtx); err != nil {
			logger.Error().Err(err).Msg("session shutdown")
		}
	}()

	if err := ctrl.RefreshRooms(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial room list")
	}

	opts := []view.Option{view.WithLogger(logger)}
	if cfg.NoColor {
		opts = append(opts, view.WithPlain())
	}
	term := view.New(ctrl, in, out, opts...)

	err = term.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
