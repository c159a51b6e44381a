package offramp

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func testConfig(t *testing.T, origin string) Config {
	t.Helper()
	var cfg Config
	cfg.Server.Origin = origin
	cfg.Cache.Path = t.TempDir()
	cfg.Cache.Generation = 1
	if err := cfg.compile(); err != nil {
		t.Fatalf("compile config: %v", err)
	}
	return cfg
}

func newTestService(t *testing.T, origin string) *Service {
	t.Helper()
	svc, err := NewService(testConfig(t, origin))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

// rtFunc lets a test stand in for the network.
type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}
