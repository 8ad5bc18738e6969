package metrics

import (
	"context"
	"errors"

	"github.com/ddndrk/disthene/internal/bus"
)

// ErrorLabel returns a short, stable label for a post error.
func ErrorLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, bus.ErrQueueFull):
		return "Bus queue full"
	case errors.Is(err, bus.ErrClosed):
		return "Bus closed"
	case errors.Is(err, context.DeadlineExceeded):
		return "Context deadline exceeded"
	case errors.Is(err, context.Canceled):
		return "Context canceled"
	default:
		return "Other error"
	}
}
