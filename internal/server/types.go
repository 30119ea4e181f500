// Package server defines shared sentinel errors and helpers reused by the
// client, stream and hub code.
package server

import (
	"errors"
	"strings"
)

const sendQueueSize = 256

var (
	errStreamClosed  = errors.New("stream closed")
	errSendQueueFull = errors.New("send queue full")
	errHubClosed     = errors.New("hub is shutting down")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
