package sink

import (
	"io"
	"os"
	"strings"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// OpenOutput resolves a sink output setting: "-" is stdout, empty discards,
// anything else is a file opened for append.
func OpenOutput(path string) (io.WriteCloser, error) {
	switch strings.TrimSpace(path) {
	case "-":
		return nopCloser{os.Stdout}, nil
	case "":
		return nopCloser{io.Discard}, nil
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
