package offramp

import (
	"context"
	"log"
	"net/http"
)

// Install pre-populates the static cache with the shell assets, the offline
// document and the placeholder image. Each asset is fetched independently:
// one missing optional asset must not abort the rest. Failures are logged,
// never fatal, so activation proceeds regardless.
func (s *Service) Install(ctx context.Context) {
	assets := make([]string, 0, len(s.cfg.Assets.Shell)+2)
	assets = append(assets, s.cfg.Assets.Shell...)
	assets = appendMissing(assets, s.cfg.Assets.OfflineDocument)
	assets = appendMissing(assets, s.cfg.Assets.PlaceholderImage)

	cache := s.cfg.staticCache()
	stored := 0
	for _, p := range assets {
		target := s.targetForPath(p)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			log.Printf("install: %s: %v", p, err)
			continue
		}
		req.Header.Set("Accept-Encoding", "identity")
		ent, err := s.fetchEntry(req)
		if err != nil {
			log.Printf("install: %s: %v", p, err)
			continue
		}
		if !isSuccess(ent.Status) {
			log.Printf("install: %s: status %d", p, ent.Status)
			continue
		}
		s.cachePut(cache, target.String(), ent)
		stored++
	}
	log.Printf("install: cached %d/%d shell assets into %s", stored, len(assets), cache)
}

// Activate garbage-collects superseded generations: every named cache not
// in the current generation set is deleted. Runs before the listeners come
// up, so the new generation takes all traffic immediately.
func (s *Service) Activate() error {
	names, err := s.reg.CacheNames()
	if err != nil {
		return err
	}
	current := make(map[string]struct{}, 4)
	for _, name := range s.cfg.currentCaches() {
		current[name] = struct{}{}
	}
	for _, name := range names {
		if _, ok := current[name]; ok {
			continue
		}
		n, err := s.reg.DeleteCache(name)
		if err != nil {
			log.Printf("activate: delete %s: %v", name, err)
			continue
		}
		log.Printf("activate: deleted superseded cache %s (%d entries)", name, n)
	}
	return nil
}

func appendMissing(list []string, p string) []string {
	for _, have := range list {
		if have == p {
			return list
		}
	}
	return append(list, p)
}
