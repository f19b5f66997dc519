// Package logger configures the process-wide slog logger on top of zap.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

var logFile *os.File

// Setup installs a JSON logger on stderr at level. Unknown levels mean info.
func Setup(level string) {
	install(zapcore.AddSync(os.Stderr), level)
}

// SetupFile logs to a timestamped file in dir instead of the terminal, for
// commands that draw a full-screen UI. It returns the log file path.
func SetupFile(level, dir string) (string, error) {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("hotwallet-tracker_%s.log", time.Now().Format("2006-01-02_15-04-05")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create log file: %w", err)
	}

	Close()
	logFile = f
	install(zapcore.AddSync(f), level)
	return path, nil
}

// SetupWriter logs to w. Used by tests.
func SetupWriter(w io.Writer, level string) {
	install(zapcore.AddSync(w), level)
}

// Close releases the log file opened by SetupFile
func Close() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func install(ws zapcore.WriteSyncer, level string) {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), ws, parseLevel(level))
	slog.SetDefault(slog.New(zapslog.NewHandler(core)))
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
