package infra

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/Guizzs26/openmusic-export/internal/config"
)

var (
	logFileMu sync.Mutex
	logFile   *os.File
)

// SetupLogger builds the process logger. When LOG_FILE is set the output is
// written to stdout and appended to that file.
func SetupLogger(cfg *config.Config) *slog.Logger {
	var w io.Writer = os.Stdout

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			logFileMu.Lock()
			logFile = f
			logFileMu.Unlock()
			w = io.MultiWriter(os.Stdout, f)
		}
	}

	return NewLogger(w, cfg.LogLevel, cfg.LogFormat)
}

func NewLogger(w io.Writer, levelName, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(levelName)}

	var handler slog.Handler
	if strings.ToUpper(format) == "JSON" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CloseLogger releases the log file opened by SetupLogger, if any
func CloseLogger() {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}
