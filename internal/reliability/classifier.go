package reliability

import (
	"context"
	"errors"
	"math"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeMessageType reports whether a realtime speech service
// error frame describes a transient condition.
func IsRetryableRealtimeMessageType(messageType string) bool {
	switch messageType {
	case "rate_limited", "resource_exhausted", "queue_overflow", "error":
		return true
	default:
		return false
	}
}

// Backoff computes min(base*growth^(attempt-1), cap), rounded to the
// millisecond. Attempts start at 1.
func Backoff(attempt int, base time.Duration, growth float64, cap time.Duration) time.Duration {
	if attempt <= 1 {
		if base > cap {
			return cap
		}
		return base
	}
	if growth < 1 {
		growth = 1
	}
	d := float64(base) * math.Pow(growth, float64(attempt-1))
	if d >= float64(cap) || math.IsInf(d, 0) {
		return cap
	}
	return time.Duration(d).Round(time.Millisecond)
}

// CloseKind describes why a duplex channel went away.
type CloseKind string

const (
	CloseNormal    CloseKind = "normal"
	CloseGoingAway CloseKind = "going_away"
	CloseTimeout   CloseKind = "timeout"
	CloseCanceled  CloseKind = "canceled"
	CloseAbnormal  CloseKind = "abnormal"
)

// ClassifyClose maps a read/dial error to a CloseKind for logs and metrics.
func ClassifyClose(err error) CloseKind {
	switch {
	case err == nil:
		return CloseNormal
	case errors.Is(err, context.Canceled):
		return CloseCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return CloseTimeout
	case websocket.IsCloseError(err, websocket.CloseNormalClosure):
		return CloseNormal
	case websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseServiceRestart, websocket.CloseTryAgainLater):
		return CloseGoingAway
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CloseTimeout
	}
	return CloseAbnormal
}
