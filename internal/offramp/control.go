package offramp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// The control channel is a one-request/one-reply protocol the foreground
// application uses to inspect and manage the caches without going through
// the interception path. Every message gets exactly one reply, including on
// internal failure.

type ControlRequest struct {
	Action    string `json:"action"`
	CacheName string `json:"cacheName,omitempty"`
	URL       string `json:"url,omitempty"`
}

type ControlReply struct {
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	IsOffline bool   `json:"isOffline,omitempty"`
}

func (s *Service) HandleControlMessage(msg ControlRequest) (reply ControlReply) {
	defer func() {
		if p := recover(); p != nil {
			reply = ControlReply{Success: false, Error: fmt.Sprintf("internal error: %v", p)}
		}
	}()

	switch msg.Action {
	case "ping":
		return ControlReply{Success: true, Result: map[string]any{
			"alive":      true,
			"generation": s.cfg.Cache.Generation,
		}}
	case "clearCache":
		return s.controlClearCache(msg.CacheName)
	case "cacheSize":
		return s.controlCacheSize()
	case "networkTest":
		return s.controlNetworkTest(msg.URL)
	default:
		return ControlReply{Success: false, Error: "Unknown action: " + msg.Action}
	}
}

func (s *Service) controlClearCache(name string) ControlReply {
	if name != "" {
		n, err := s.reg.DeleteCache(name)
		if err != nil {
			return ControlReply{Success: false, Error: err.Error()}
		}
		return ControlReply{Success: true, Result: map[string]any{
			"message": fmt.Sprintf("cleared %s (%d entries)", name, n),
			"entries": n,
		}}
	}

	names, err := s.reg.CacheNames()
	if err != nil {
		return ControlReply{Success: false, Error: err.Error()}
	}
	total := 0
	for _, nm := range names {
		n, err := s.reg.DeleteCache(nm)
		if err != nil {
			return ControlReply{Success: false, Error: err.Error()}
		}
		total += n
	}
	return ControlReply{Success: true, Result: map[string]any{
		"message": fmt.Sprintf("cleared %d caches (%d entries)", len(names), total),
		"caches":  len(names),
		"entries": total,
	}}
}

func (s *Service) controlCacheSize() ControlReply {
	counts := map[string]int{}
	total := 0
	for _, name := range s.cfg.currentCaches() {
		n, err := s.reg.EntryCount(name)
		if err != nil {
			return ControlReply{Success: false, Error: err.Error()}
		}
		counts[name] = n
		total += n
	}
	return ControlReply{Success: true, Result: map[string]any{
		"caches": counts,
		"total":  total,
	}}
}

func (s *Service) controlNetworkTest(urlStr string) ControlReply {
	if urlStr == "" {
		urlStr = s.targetForPath(s.cfg.Health.Path).String()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, urlStr, nil)
	if err != nil {
		return ControlReply{Success: false, Error: err.Error()}
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return ControlReply{Success: true, IsOffline: true, Result: map[string]any{
			"online":       false,
			"error":        err.Error(),
			"responseTime": elapsed,
		}}
	}
	resp.Body.Close()
	return ControlReply{Success: true, Result: map[string]any{
		"online":       true,
		"responseTime": elapsed,
		"status":       resp.StatusCode,
	}}
}

// ControlHandler serves the control protocol on its own listener so control
// traffic never competes with interception.
func (s *Service) ControlHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		var msg ControlRequest
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			_ = json.NewEncoder(w).Encode(ControlReply{Success: false, Error: "invalid message: " + err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(s.HandleControlMessage(msg))
	})
}
