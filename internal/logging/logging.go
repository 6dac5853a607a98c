package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the process-wide slog logger at the given level. It
// mirrors the setup every homenavi-style service does once at boot.
func Setup(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}
