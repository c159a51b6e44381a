package offramp

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestRetryExhaustsOnTransportFailure(t *testing.T) {
	svc := newTestService(t, "https://app.example.com")

	attempts := 0
	svc.httpClient.Transport = rtFunc(func(r *http.Request) (*http.Response, error) {
		attempts++
		return nil, errors.New("connection refused")
	})

	var delays []time.Duration
	svc.retrier.maxRetries = 4
	svc.retrier.initial = 100 * time.Millisecond
	svc.retrier.max = 400 * time.Millisecond
	svc.retrier.sleep = func(d time.Duration) { delays = append(delays, d) }

	req, _ := http.NewRequest(http.MethodGet, "https://app.example.com/api/things", nil)
	_, err := svc.retrier.do(req)
	if err == nil {
		t.Fatal("expected failure after exhausted retries")
	}

	if attempts != 5 {
		t.Fatalf("attempts = %d, want maxRetries+1 = 5", attempts)
	}
	want := []time.Duration{100, 200, 400, 400}
	for i := range want {
		want[i] *= time.Millisecond
	}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v (doubling capped at max)", i, delays[i], want[i])
		}
	}
}

func TestRetryDoesNotRetryHTTPErrors(t *testing.T) {
	svc := newTestService(t, "https://app.example.com")

	attempts := 0
	svc.httpClient.Transport = rtFunc(func(r *http.Request) (*http.Response, error) {
		attempts++
		return textResponse(http.StatusInternalServerError, "boom"), nil
	})
	svc.retrier.sleep = func(time.Duration) { t.Fatal("slept before an HTTP error response") }

	req, _ := http.NewRequest(http.MethodGet, "https://app.example.com/api/things", nil)
	resp, err := svc.retrier.do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1: HTTP error statuses are never retried", attempts)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 passed through", resp.StatusCode)
	}
}

func TestRetrySucceedsMidway(t *testing.T) {
	svc := newTestService(t, "https://app.example.com")

	attempts := 0
	svc.httpClient.Transport = rtFunc(func(r *http.Request) (*http.Response, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("reset by peer")
		}
		return textResponse(http.StatusOK, "recovered"), nil
	})
	svc.retrier.sleep = func(time.Duration) {}

	req, _ := http.NewRequest(http.MethodGet, "https://app.example.com/api/things", nil)
	resp, err := svc.retrier.do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
