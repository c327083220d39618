package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sweater-ventures/devslog"
	"golang.org/x/term"
)

type ContextKey string

var LoggerContextKey = ContextKey("logger")

var logLevel = new(slog.LevelVar)

// InitLogging installs the default logger: devslog on a terminal, JSON
// otherwise or when JSON_LOGGING=true.
func InitLogging() {
	logLevel.Set(slog.LevelInfo)
	jsonLogging := false
	jsonLoggingEnv, ok := os.LookupEnv("JSON_LOGGING")
	if ok && strings.ToLower(jsonLoggingEnv) == "true" {
		jsonLogging = true
	}
	if jsonLogging || !term.IsTerminal(int(os.Stdout.Fd())) {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})))
		return
	}
	slog.SetDefault(slog.New(devslog.NewHandler(os.Stdout, &devslog.Options{
		HandlerOptions: &slog.HandlerOptions{
			Level: logLevel,
		},
		TimeFormat:           "[ 03:04:05 PM ]",
		StringIndentation:    true,
		DisableAttributeType: true,
	})))
}

// ParseLogLevel maps a --log-level value to a slog level. "default" is
// debug in dev mode and info otherwise.
func ParseLogLevel(level string, devMode bool) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "default", "":
		if devMode {
			return slog.LevelDebug, nil
		}
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// SetLogLevel changes the level of the default logger at runtime.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
