package offramp

import (
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Service is the offline caching proxy. It owns the registry and all
// background work; construct one per process (or per test) with NewService.
type Service struct {
	cfg Config

	reg        *Registry
	classifier *classifier
	httpClient *http.Client
	retrier    *retrier

	// flight dedupes concurrent background revalidations per cache key.
	flight singleflight.Group

	bgSem  chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	cacheErrLog *rateLimitedLogger
	stats       *statsCollector
}

func NewService(cfg Config) (*Service, error) {
	if cfg.originURL == nil {
		if err := cfg.compile(); err != nil {
			return nil, err
		}
	}
	reg, err := OpenRegistry(cfg.Cache.Path)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	s := &Service{
		cfg:         cfg,
		reg:         reg,
		classifier:  newClassifier(&cfg),
		httpClient:  client,
		retrier:     newRetrier(client, &cfg),
		bgSem:       make(chan struct{}, 32),
		stopCh:      make(chan struct{}),
		cacheErrLog: newRateLimitedLogger("cache", 1*time.Minute),
	}

	if cfg.Logging.logStatsEveryDur > 0 {
		s.stats = newStatsCollector()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(cfg.Logging.logStatsEveryDur)
		}()
	}

	return s, nil
}

func (s *Service) Close() {
	close(s.stopCh)
	s.wg.Wait()
	_ = s.reg.Close()
}

// Handler is the interception surface: every outgoing application request
// is routed through it.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

// startedWriter records whether the response has begun, so the panic
// fallback knows a second response can no longer be written.
type startedWriter struct {
	http.ResponseWriter
	started bool
}

func (w *startedWriter) WriteHeader(code int) {
	w.started = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *startedWriter) Write(b []byte) (int, error) {
	w.started = true
	return w.ResponseWriter.Write(b)
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	// A caching-layer failure must never cost the caller its response; the
	// last resort is always a direct uncached fetch. Once the response has
	// started there is nothing left to salvage, so only log.
	sw := &startedWriter{ResponseWriter: w}
	defer func() {
		if p := recover(); p != nil {
			if sw.started {
				log.Printf("handle %s: panic after response started: %v", r.URL.Path, p)
				return
			}
			log.Printf("handle %s: panic: %v, falling through to network", r.URL.Path, p)
			s.passThrough(sw, r)
		}
	}()

	if r.Method != http.MethodGet {
		s.passThrough(sw, r)
		return
	}

	target := s.targetURL(r)
	switch s.classifier.Classify(r, target) {
	case ClassCrossOrigin:
		s.passThrough(sw, r)
	case ClassFont:
		s.serveFont(sw, r, target)
	case ClassImage:
		s.serveImage(sw, r, target)
	case ClassAPI:
		s.serveAPI(sw, r, target)
	case ClassPage:
		s.servePage(sw, r, target)
	default:
		s.serveOther(sw, r, target)
	}
}

// targetURL resolves the absolute URL a request is headed for. Proxy-style
// absolute-form requests keep their own URL; origin-form requests resolve
// against the configured application origin.
func (s *Service) targetURL(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u
	}
	return s.cfg.originURL.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
}

func (s *Service) targetForPath(p string) *url.URL {
	return s.cfg.originURL.ResolveReference(&url.URL{Path: p})
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// buildRequest prepares the outbound copy of an intercepted request.
// stripCreds drops cookies and authorization for cross-origin-safe fetches.
func (s *Service) buildRequest(r *http.Request, target *url.URL, stripCreds bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	copyHeaders(req.Header, r.Header)
	if stripCreds {
		req.Header.Del("Cookie")
		req.Header.Del("Authorization")
	}
	req.Header.Set("Accept-Encoding", "identity")
	return req, nil
}

// fetchEntry performs one network attempt and snapshots the full response.
// The body is read to completion before the entry exists, so a stored entry
// is never partial.
func (s *Service) fetchEntry(req *http.Request) (CacheEntry, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return CacheEntry{}, err
	}
	return entryFromResponse(resp)
}

func entryFromResponse(resp *http.Response) (CacheEntry, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return CacheEntry{}, err
	}
	ent := CacheEntry{
		Status:   resp.StatusCode,
		Header:   cloneHeader(resp.Header),
		Body:     body,
		StoredAt: time.Now().Unix(),
	}
	ent.Header.Del("Content-Length")
	return ent, nil
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}

// cacheGet treats storage errors as misses, logged rate-limited.
func (s *Service) cacheGet(cache, key string) (CacheEntry, bool) {
	ent, ok, err := s.reg.Get(cache, key)
	if err != nil {
		s.cacheErrLog.Printf("read %s: %v", cache, err)
		return CacheEntry{}, false
	}
	return ent, ok
}

// cachePut only ever stores successful responses; callers check status.
func (s *Service) cachePut(cache, key string, ent CacheEntry) {
	if err := s.reg.Put(cache, key, ent); err != nil {
		s.cacheErrLog.Printf("write %s: %v", cache, err)
	}
}

// passThrough proxies the request to its target exactly as issued. Used for
// non-GET methods, cross-origin requests, and as the error-boundary
// fallback.
func (s *Service) passThrough(w http.ResponseWriter, r *http.Request) {
	target := s.targetURL(r)
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		s.badGateway(w, err)
		return
	}
	copyHeaders(req.Header, r.Header)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.badGateway(w, err)
		return
	}
	ent, err := entryFromResponse(resp)
	if err != nil {
		s.badGateway(w, err)
		return
	}
	s.writeEntry(w, ent, "bypass")
}

func (s *Service) badGateway(w http.ResponseWriter, err error) {
	log.Printf("origin unreachable: %v", err)
	setProxyHeaders(w.Header(), "bad-gateway")
	http.Error(w, "bad gateway", http.StatusBadGateway)
}

func (s *Service) writeEntry(w http.ResponseWriter, ent CacheEntry, decision string) {
	for k, vs := range ent.Header {
		if strings.EqualFold(k, "x-offramp") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setProxyHeaders(w.Header(), decision)
	w.WriteHeader(ent.Status)
	_, _ = w.Write(ent.Body)

	if s.stats != nil {
		switch decision {
		case "hit", "miss":
			s.stats.Observe(len(ent.Body))
		}
	}
}

func setProxyHeaders(h http.Header, decision string) {
	if decision != "" {
		h.Set("X-Offramp", decision)
	}
	// The foreground app reads this header from JS; in a CORS context custom
	// headers are invisible unless explicitly exposed.
	ensureExposedHeader(h, "X-Offramp")
}

func ensureExposedHeader(h http.Header, name string) {
	if name == "" {
		return
	}

	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}

	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}

	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ss := s.stats.Snapshot()
			counts := make([]string, 0, 4)
			total := 0
			for _, name := range s.cfg.currentCaches() {
				n, err := s.reg.EntryCount(name)
				if err != nil {
					continue
				}
				counts = append(counts, name+"="+strconv.Itoa(n))
				total += n
			}
			log.Printf(
				"cached: %d entries (%s), resp min/avg/max %s/%s/%s",
				total,
				strings.Join(counts, " "),
				formatBytes(ss.MinRespBytes),
				formatBytes(ss.AvgRespBytes),
				formatBytes(ss.MaxRespBytes),
			)
		}
	}
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}
