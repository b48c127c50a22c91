package logger

import (
	"context"
	"os"
	"strings"
	"time"

	appCtx "github.com/ticketrush/onsale-service/internal/pkg/context"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Call Init before use.
var Logger zerolog.Logger

// Init configures the root logger from LOG_LEVEL and APP_ENV.
// dev -> human console output; anything else -> JSON lines.
func Init() {
	level := zerolog.InfoLevel
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	var out = os.Stdout
	base := zerolog.New(out)
	if strings.TrimSpace(os.Getenv("APP_ENV")) == "dev" {
		base = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly})
	}

	Logger = base.Level(level).With().Timestamp().Logger()
}

// WithCtx returns the root logger stamped with the request id from ctx,
// so every line of a request carries the same correlation id.
func WithCtx(ctx context.Context) *zerolog.Logger {
	if rid := appCtx.GetRequestID(ctx); rid != "" {
		l := Logger.With().Str("request_id", rid).Logger()
		return &l
	}
	return &Logger
}
