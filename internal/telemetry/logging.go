// Package telemetry wires structured logging and OpenTelemetry tracing and
// metrics for the lifecycle engine daemon, exactly as the rest of this
// codebase's sibling services do it: a single process-wide slog logger
// configured at startup and handed to every component explicitly, plus an
// OTLP gRPC tracer/meter pair with graceful flush on shutdown.
package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger configures a single slog logger for the named service: JSON
// output if SWARM_JSON_LOG is 1/true/json, text otherwise. The level comes
// from SWARM_LOG_LEVEL. It also installs the logger as the slog default so
// that library code not given an explicit logger still logs somewhere
// sane, though every internal component is constructed with a logger
// argument and never reads the package default.
func InitLogger(service string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("SWARM_JSON_LOG"))
	var handler slog.Handler
	if mode == "1" || mode == "true" || mode == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelFromEnv()})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: levelFromEnv()})
	}
	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", mode == "1" || mode == "true" || mode == "json")
	return logger
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("SWARM_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
