// Package logging builds the engine's slog loggers and redacts secrets
// from anything that ends up in them. Debug runs log JSON lines to a file
// under the data directory; everything else gets a no-op logger, since
// stdout and stderr belong to the RPC transport.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	logDirName  = "logs"
	logFileName = "datapilot-engine.log"
)

// FileLogger bundles a logger with its teardown. Enabled is false when
// debug logging is off or setup failed; Logger is always usable.
type FileLogger struct {
	Logger  *slog.Logger
	Close   func() error
	Path    string
	Enabled bool
}

// Nop returns a logger that drops everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func disabled() FileLogger {
	return FileLogger{Logger: Nop(), Close: func() error { return nil }}
}

// NewFileLogger opens the debug log file under dataDir. With debug off it
// returns a disabled FileLogger and no error; setup failures also return a
// disabled FileLogger so the caller can keep running and report the error.
func NewFileLogger(dataDir string, debug bool) (FileLogger, error) {
	if !debug {
		return disabled(), nil
	}
	logDir := filepath.Join(dataDir, logDirName)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return disabled(), err
	}
	path := filepath.Join(logDir, logFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return disabled(), err
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	})
	return FileLogger{
		Logger:  slog.New(handler),
		Close:   file.Close,
		Path:    path,
		Enabled: true,
	}, nil
}
