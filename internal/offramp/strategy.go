package offramp

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"time"
)

// Per-class strategies. All of them share two rules: only successful
// responses are ever stored, and an error response that did arrive is
// returned (not cached) in preference to nothing.

// serveFont is cache-first. Fonts are immutable binaries; once cached they
// never hit the network again within a generation. Misses are fetched with
// credentials omitted so cross-origin font CDNs accept the request.
func (s *Service) serveFont(w http.ResponseWriter, r *http.Request, target *url.URL) {
	cache := s.cfg.fontCache()
	key := target.String()
	if ent, ok := s.cacheGet(cache, key); ok {
		s.writeEntry(w, ent, "hit")
		return
	}

	req, err := s.buildRequest(r, target, true)
	if err != nil {
		s.badGateway(w, err)
		return
	}
	ent, err := s.fetchEntry(req)
	if err != nil {
		// Propagate untouched; the caller's font fallback handles it.
		s.badGateway(w, err)
		return
	}
	if !isSuccess(ent.Status) {
		s.writeEntry(w, ent, "ignore-by-status")
		return
	}
	s.cachePut(cache, key, ent)
	s.writeEntry(w, ent, "miss")
}

// serveImage is cache-first with background revalidation. A hit is served
// immediately while a detached fetch refreshes the entry for next time. A
// miss that also fails on the network degrades to the placeholder image.
func (s *Service) serveImage(w http.ResponseWriter, r *http.Request, target *url.URL) {
	cache := s.cfg.imageCache()
	key := target.String()
	if ent, ok := s.cacheGet(cache, key); ok {
		s.writeEntry(w, ent, "hit")
		s.revalidateAsync(target, cache, key)
		return
	}

	req, err := s.buildRequest(r, target, false)
	if err != nil {
		s.serveImageFallback(w)
		return
	}
	ent, err := s.fetchEntry(req)
	if err != nil {
		s.serveImageFallback(w)
		return
	}
	if !isSuccess(ent.Status) {
		s.writeEntry(w, ent, "ignore-by-status")
		return
	}
	s.cachePut(cache, key, ent)
	s.writeEntry(w, ent, "miss")
}

func (s *Service) serveImageFallback(w http.ResponseWriter) {
	phKey := s.targetForPath(s.cfg.Assets.PlaceholderImage).String()
	if ph, ok := s.cacheGet(s.cfg.staticCache(), phKey); ok {
		s.writeEntry(w, ph, "placeholder")
		return
	}
	setProxyHeaders(w.Header(), "placeholder")
	http.Error(w, "image unavailable", http.StatusNotFound)
}

// revalidateAsync refreshes a cache entry without holding up the response
// already on its way out. Concurrent refreshes of the same key collapse
// into one flight; the cache write happens only after the full body has
// been read.
func (s *Service) revalidateAsync(target *url.URL, cache, key string) {
	select {
	case s.bgSem <- struct{}{}:
	default:
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.bgSem }()
		defer func() {
			if p := recover(); p != nil {
				log.Printf("revalidate %s: panic: %v", key, p)
			}
		}()

		_, _, _ = s.flight.Do(cache+"|"+key, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
			if err != nil {
				return nil, nil
			}
			req.Header.Set("Accept-Encoding", "identity")
			ent, err := s.fetchEntry(req)
			if err != nil || !isSuccess(ent.Status) {
				return nil, nil
			}
			s.cachePut(cache, key, ent)
			return nil, nil
		})
	}()
}

// serveAPI is network-first through the retry engine, with the cache as a
// read-through fallback once retries are exhausted.
func (s *Service) serveAPI(w http.ResponseWriter, r *http.Request, target *url.URL) {
	cache := s.cfg.apiCache()
	key := target.String()

	req, err := s.buildRequest(r, target, false)
	if err != nil {
		s.badGateway(w, err)
		return
	}
	resp, err := s.retrier.do(req)
	if err == nil {
		ent, rerr := entryFromResponse(resp)
		if rerr == nil {
			if !isSuccess(ent.Status) {
				s.writeEntry(w, ent, "ignore-by-status")
				return
			}
			s.cachePut(cache, key, ent)
			s.writeEntry(w, ent, "miss")
			return
		}
		err = rerr
	}

	log.Printf("api %s: network failed after retries: %v", target.Path, err)
	if ent, ok := s.cacheGet(cache, key); ok {
		s.writeEntry(w, ent, "offline-cache")
		return
	}
	s.writeEntry(w, offlineAPIEntry(), "offline")
}

func offlineAPIEntry() CacheEntry {
	h := make(http.Header)
	h.Set("Content-Type", "application/json; charset=utf-8")
	return CacheEntry{
		Status: http.StatusServiceUnavailable,
		Header: h,
		Body:   []byte(`{"error":"service_unavailable","message":"network unreachable and no cached response","offline":true}`),
	}
}

// servePage is network-first with a chain of offline fallbacks: exact
// cached match, then the reserved offline document, then an inline
// stand-in. A navigation must always get a document back.
func (s *Service) servePage(w http.ResponseWriter, r *http.Request, target *url.URL) {
	cache := s.cfg.staticCache()
	key := target.String()

	req, err := s.buildRequest(r, target, false)
	if err == nil {
		var ent CacheEntry
		ent, err = s.fetchEntry(req)
		if err == nil {
			if !isSuccess(ent.Status) {
				s.writeEntry(w, ent, "ignore-by-status")
				return
			}
			s.cachePut(cache, key, ent)
			s.writeEntry(w, ent, "miss")
			return
		}
	}

	if ent, ok := s.cacheGet(cache, key); ok {
		s.writeEntry(w, ent, "offline-cache")
		return
	}
	docKey := s.targetForPath(s.cfg.Assets.OfflineDocument).String()
	if doc, ok := s.cacheGet(cache, docKey); ok {
		s.writeEntry(w, doc, "offline-doc")
		return
	}
	s.writeEntry(w, offlinePageEntry(), "offline-fallback")
}

func offlinePageEntry() CacheEntry {
	h := make(http.Header)
	h.Set("Content-Type", "text/html; charset=utf-8")
	return CacheEntry{
		Status: http.StatusServiceUnavailable,
		Header: h,
		Body:   []byte("<!doctype html><html><head><title>Offline</title></head><body><h1>You are offline</h1><p>This page is not available without a network connection.</p></body></html>"),
	}
}

// serveOther is plain network-first: static assets (scripts, styles) cache
// on success; on network failure any cached match is served, otherwise the
// failure propagates.
func (s *Service) serveOther(w http.ResponseWriter, r *http.Request, target *url.URL) {
	cache := s.cfg.staticCache()
	key := target.String()

	req, err := s.buildRequest(r, target, false)
	if err == nil {
		var ent CacheEntry
		ent, err = s.fetchEntry(req)
		if err == nil {
			if !isSuccess(ent.Status) {
				s.writeEntry(w, ent, "ignore-by-status")
				return
			}
			s.cachePut(cache, key, ent)
			s.writeEntry(w, ent, "miss")
			return
		}
	}

	if ent, ok := s.cacheGet(cache, key); ok {
		s.writeEntry(w, ent, "offline-cache")
		return
	}
	s.badGateway(w, err)
}
