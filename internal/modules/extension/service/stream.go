package service

import (
	"log/slog"
	"time"

	extout "ucx/internal/modules/extension/port/out"
)

const (
	// callTimeout bounds one full request/response exchange with a peer.
	callTimeout = 5 * time.Second

	// drainTimeout bounds the graceful close after an exchange; a peer that
	// keeps the stream open past it gets a hard reset.
	drainTimeout = 2 * time.Second
)

// releaseStream closes the stream gracefully within drainTimeout and resets
// it when the close hangs or fails. Always safe to defer.
func releaseStream(stream extout.Stream, logger *slog.Logger) {
	_ = stream.SetDeadline(time.Now().Add(drainTimeout))
	if err := stream.Close(); err != nil {
		logger.Debug("stream close failed, resetting", "error", err)
		_ = stream.Reset()
	}
}
