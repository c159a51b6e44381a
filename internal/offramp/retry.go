package offramp

import (
	"net/http"
	"time"
)

// retrier wraps a single network attempt with bounded exponential backoff.
// Only transport failures are retried: an HTTP response with an error
// status did arrive, and retrying it would just mask server-side problems.
type retrier struct {
	client     *http.Client
	maxRetries int
	initial    time.Duration
	max        time.Duration

	sleep func(time.Duration)
}

func newRetrier(client *http.Client, cfg *Config) *retrier {
	return &retrier{
		client:     client,
		maxRetries: cfg.Retry.maxRetries,
		initial:    cfg.Retry.initialBackoffDur,
		max:        cfg.Retry.maxBackoffDur,
		sleep:      time.Sleep,
	}
}

// do issues the request up to maxRetries+1 times. The backoff before each
// retry doubles, capped at max. The last transport error is returned on
// exhaustion.
func (rt *retrier) do(req *http.Request) (*http.Response, error) {
	backoff := rt.initial
	var lastErr error
	for attempt := 0; attempt <= rt.maxRetries; attempt++ {
		if attempt > 0 {
			rt.sleep(backoff)
			backoff *= 2
			if backoff > rt.max {
				backoff = rt.max
			}
		}
		resp, err := rt.client.Do(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
