package util

import (
	"log/slog"
	"os"
)

// CloseFunc closes c and logs (rather than panics) on failure, for use in
// defers where the close error cannot usefully be propagated.
func CloseFunc(c interface{ Close() error }) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		slog.Error("close", "err", err)
	}
}

// CloseFileFunc closes f and logs on failure.
func CloseFileFunc(f *os.File) {
	if f == nil {
		return
	}
	if err := f.Close(); err != nil {
		slog.Error("close file", "err", err)
	}
}
