package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/roomsync/internal/api"
	"github.com/npezzotti/roomsync/internal/assistant"
	"github.com/npezzotti/roomsync/internal/config"
	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/logging"
	"github.com/npezzotti/roomsync/internal/server"
	"github.com/npezzotti/roomsync/internal/stats"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type serverFlags struct {
	addr           string
	driver         string
	dsn            string
	allowedOrigins string
	logLevel       string
	logConsole     bool
	openAIKey      string
	openAIModel    string
	openAIBaseURL  string
}

func newRootCmd() *cobra.Command {
	var flags serverFlags

	cmd := &cobra.Command{
		Use:          "roomsync-server",
		Short:        "Serve chat history and the live chat channel",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.addr, "addr", "", "server address (ROOMSYNC_ADDR)")
	f.StringVar(&flags.driver, "driver", "", "database driver, postgres or sqlite3 (ROOMSYNC_DB_DRIVER)")
	f.StringVar(&flags.dsn, "dsn", "", "database connection string (ROOMSYNC_DB_DSN)")
	f.StringVar(&flags.allowedOrigins, "allowed-origins", "", "comma-separated list of allowed origins (ROOMSYNC_ALLOWED_ORIGINS)")
	f.StringVar(&flags.logLevel, "log-level", "", "log level (ROOMSYNC_LOG_LEVEL)")
	f.BoolVar(&flags.logConsole, "log-console", false, "human readable logs (ROOMSYNC_LOG_CONSOLE)")
	f.StringVar(&flags.openAIKey, "openai-key", "", "OpenAI API key, replies echo the question when unset (OPENAI_API_KEY)")
	f.StringVar(&flags.openAIModel, "openai-model", "", "OpenAI chat model (OPENAI_MODEL)")
	f.StringVar(&flags.openAIBaseURL, "openai-base-url", "", "OpenAI compatible endpoint (OPENAI_BASE_URL)")

	return cmd
}

// apply copies the flags set on the command line over cfg.
func (sf *serverFlags) apply(cmd *cobra.Command, cfg *config.ServerConfig) {
	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.ServerAddr = sf.addr
	}
	if changed("driver") {
		cfg.DatabaseDriver = sf.driver
	}
	if changed("dsn") {
		cfg.DatabaseDSN = sf.dsn
	}
	if changed("allowed-origins") {
		cfg.AllowedOrigins = sf.allowedOrigins
	}
	if changed("log-level") {
		cfg.LogLevel = sf.logLevel
	}
	if changed("log-console") {
		cfg.LogConsole = sf.logConsole
	}
	if changed("openai-key") {
		cfg.OpenAIKey = sf.openAIKey
	}
	if changed("openai-model") {
		cfg.OpenAIModel = sf.openAIModel
	}
	if changed("openai-base-url") {
		cfg.OpenAIBaseURL = sf.openAIBaseURL
	}
}

func run(ctx context.Context, cfg *config.ServerConfig) error {
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogConsole)
	if err != nil {
		return err
	}

	db, err := database.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return errors.Wrap(err, "db open")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()
	logger.Info().Str("driver", cfg.DatabaseDriver).Msg("database ready")

	var replier assistant.Assistant = assistant.Echo{}
	if cfg.OpenAIKey != "" {
		replier, err = assistant.NewOpenAI(ctx, assistant.OpenAIConfig{
			APIKey:  cfg.OpenAIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		}, logger)
		if err != nil {
			return errors.Wrap(err, "assistant")
		}
		logger.Info().Str("model", cfg.OpenAIModel).Msg("answering with openai")
	} else {
		logger.Warn().Msg("no OpenAI key configured, replies echo the question")
	}

	mux := http.NewServeMux()

	statsRegistry := stats.NewRegistry(mux, logger)
	chatServer := server.NewChatServer(logger, db, replier, statsRegistry)
	srv := api.NewServer(mux, logger, chatServer, db, cfg)

	statsRegistry.Run()
	defer statsRegistry.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server")
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown")
	}

	logger.Info().Msg("shutting down chat server")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		return errors.Wrap(err, "chat server shutdown")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
