package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableRealtimeMessageType(t *testing.T) {
	for _, typ := range []string{"rate_limited", "queue_overflow", "error"} {
		if !IsRetryableRealtimeMessageType(typ) {
			t.Fatalf("IsRetryableRealtimeMessageType(%q) = false, want true", typ)
		}
	}
	if IsRetryableRealtimeMessageType("auth_error") {
		t.Fatalf("IsRetryableRealtimeMessageType(auth_error) = true, want false")
	}
}

func TestBackoffGrowthAndCap(t *testing.T) {
	base := 1500 * time.Millisecond
	capDur := 30 * time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, base},
		{1, base},
		{2, 2550 * time.Millisecond},
		{3, 4335 * time.Millisecond},
		{20, capDur},
	}
	for _, tc := range cases {
		got := Backoff(tc.attempt, base, 1.7, capDur)
		if diff := got - tc.want; diff > time.Millisecond || diff < -time.Millisecond {
			t.Fatalf("Backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffBaseAboveCap(t *testing.T) {
	if got := Backoff(1, time.Minute, 2, time.Second); got != time.Second {
		t.Fatalf("Backoff(base>cap) = %v, want %v", got, time.Second)
	}
}

func TestClassifyClose(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want CloseKind
	}{
		{"nil", nil, CloseNormal},
		{"canceled", fmt.Errorf("dial: %w", context.Canceled), CloseCanceled},
		{"deadline", context.DeadlineExceeded, CloseTimeout},
		{"normal close", &websocket.CloseError{Code: websocket.CloseNormalClosure}, CloseNormal},
		{"restart", &websocket.CloseError{Code: websocket.CloseServiceRestart}, CloseGoingAway},
		{"other", errors.New("boom"), CloseAbnormal},
	}
	for _, tc := range cases {
		if got := ClassifyClose(tc.err); got != tc.want {
			t.Fatalf("ClassifyClose(%s) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
