package fakertesting

import (
	"io"
	"log/slog"
	"os"

	"github.com/malbeclabs/tsfaker/utils/pkg/logger"
)

// NewLogger returns a test logger in the CLI text format. DEBUG=1 shows
// info logs and DEBUG=2 debug logs with source locations; otherwise only
// errors are printed.
func NewLogger() *slog.Logger {
	return newLogger(os.Stderr, os.Getenv("DEBUG"))
}

func newLogger(w io.Writer, debug string) *slog.Logger {
	opts := logger.Options{Writer: w, Format: logger.FormatText, NoColor: true, Level: slog.LevelError}
	switch debug {
	case "2":
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	case "1":
		opts.Level = slog.LevelInfo
	}
	return logger.New(opts)
}
