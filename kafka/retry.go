package kafka

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kbukum/taskguard/resilience"
)

// retryableWrite reports whether writing the same event again may succeed.
// Broker error codes carry their own verdict; otherwise lost connections
// and per-attempt timeouts are retried and everything else is not.
func retryableWrite(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var werrs kafkago.WriteErrors
	if errors.As(err, &werrs) {
		for _, e := range werrs {
			if e != nil && !retryableWrite(e) {
				return false
			}
		}
		return true
	}

	var code kafkago.Error
	if errors.As(err, &code) {
		return code.Temporary()
	}

	if errors.Is(err, resilience.ErrTimeout) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
