package config

import (
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

var validate = validator.New()

// ClientConfig configures the terminal client.
type ClientConfig struct {
	ApiURL         string        `env:"ROOMSYNC_API_URL,default=http://localhost:8000" validate:"required,url"`
	WsURL          string        `env:"ROOMSYNC_WS_URL,default=ws://localhost:8000/ws" validate:"required,url"`
	LogLevel       string        `env:"ROOMSYNC_LOG_LEVEL,default=warn" validate:"oneof=trace debug info warn error"`
	LogFile        string        `env:"ROOMSYNC_LOG_FILE"`
	RequestTimeout time.Duration `env:"ROOMSYNC_REQUEST_TIMEOUT,default=10s" validate:"gt=0"`
	ReconnectDelay time.Duration `env:"ROOMSYNC_RECONNECT_DELAY,default=2s" validate:"gt=0"`
	NoColor        bool          `env:"ROOMSYNC_NO_COLOR,default=false"`
}

// ServerConfig configures the history and live channel server.
type ServerConfig struct {
	ServerAddr     string `env:"ROOMSYNC_ADDR,default=:8000" validate:"required"`
	DatabaseDriver string `env:"ROOMSYNC_DB_DRIVER,default=sqlite3" validate:"oneof=postgres sqlite3"`
	DatabaseDSN    string `env:"ROOMSYNC_DB_DSN,default=roomsync.db" validate:"required"`
	AllowedOrigins string `env:"ROOMSYNC_ALLOWED_ORIGINS,default=http://localhost:3000"`
	LogLevel       string `env:"ROOMSYNC_LOG_LEVEL,default=info" validate:"oneof=trace debug info warn error"`
	LogConsole     bool   `env:"ROOMSYNC_LOG_CONSOLE,default=false"`

	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL,default=gpt-4o-mini" validate:"required_with=OpenAIKey"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" validate:"omitempty,url"`
}

// LoadClientConfig reads the client configuration from the environment and
// an optional .env file. Flags may override fields before Validate is called.
func LoadClientConfig() (*ClientConfig, error) {
	_ = godotenv.Load()

	var cfg ClientConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, errors.Wrap(err, "load client config")
	}

	return &cfg, nil
}

func (c *ClientConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid client config")
	}
	return nil
}

func LoadServerConfig() (*ServerConfig, error) {
	_ = godotenv.Load()

	var cfg ServerConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, errors.Wrap(err, "load server config")
	}

	return &cfg, nil
}

func (c *ServerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid server config")
	}
	return nil
}

// Origins splits AllowedOrigins on commas.
func (c *ServerConfig) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
