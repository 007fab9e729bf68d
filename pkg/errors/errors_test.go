package errors

import (
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NewInvalidArgument("empty query"), http.StatusBadRequest},
		{NewRateLimited("too many"), http.StatusTooManyRequests},
		{NewQueueFull("no room"), http.StatusServiceUnavailable},
		{NewQueueTimeout("aged out"), http.StatusServiceUnavailable},
		{NewShutdown("draining"), http.StatusServiceUnavailable},
		{NewExecutionTimeout("killed"), http.StatusInternalServerError},
		{NewUpstreamError("boom"), http.StatusInternalServerError},
		{NewInternalError("oops"), http.StatusInternalServerError},
	}

	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestEnvelopeType(t *testing.T) {
	if EnvelopeType(NewInvalidArgument("x")) != TypeInvalidRequest {
		t.Error("expected invalid_request_error")
	}
	if EnvelopeType(NewRateLimited("x")) != TypeRateLimit {
		t.Error("expected rate_limit_error")
	}
	if EnvelopeType(NewQueueFull("x")) != TypeServerError {
		t.Error("expected server_error")
	}
}

func TestUpstreamErrorTruncation(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'a'
	}
	err := NewUpstreamError(string(long))
	if len(err.Message) != 500 {
		t.Errorf("expected truncation to 500 chars, got %d", len(err.Message))
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(NewQueueFull("x")) {
		t.Error("queue full should be retryable")
	}
	if Retryable(NewInvalidArgument("x")) {
		t.Error("invalid argument should not be retryable")
	}
}
