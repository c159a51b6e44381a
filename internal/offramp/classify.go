package offramp

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

var fontExtensions = map[string]struct{}{
	".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
}

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
	".svg": {}, ".ico": {}, ".avif": {},
}

// classifier assigns a resource class to a request. Pure and total: every
// request gets exactly one class, defaulting to other. Rules run in order,
// first match wins.
type classifier struct {
	ownHost      string
	cssProviders map[string]struct{}
	binaryCDNs   map[string]struct{}
}

func newClassifier(cfg *Config) *classifier {
	return &classifier{
		ownHost:      cfg.originURL.Host,
		cssProviders: hostSet(cfg.Fonts.CSSProviders),
		binaryCDNs:   hostSet(cfg.Fonts.BinaryCDNs),
	}
}

func hostSet(hosts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			out[h] = struct{}{}
		}
	}
	return out
}

// Classify inspects the resolved target URL and the request's Accept
// header. The target is the absolute URL the request is headed for; for
// relative requests its host equals the application origin's host.
func (c *classifier) Classify(r *http.Request, target *url.URL) Class {
	host := strings.ToLower(target.Hostname())
	if p := target.Port(); p != "" {
		host = host + ":" + p
	}
	ext := strings.ToLower(path.Ext(target.Path))

	// Font CSS providers serve stylesheets that reference the binaries;
	// those must reach the network untouched.
	if _, ok := c.cssProviders[host]; ok {
		return ClassCrossOrigin
	}
	if _, ok := fontExtensions[ext]; ok {
		return ClassFont
	}
	if _, ok := c.binaryCDNs[host]; ok {
		return ClassFont
	}
	if strings.Contains(target.Path, "/api/") {
		return ClassAPI
	}
	if _, ok := imageExtensions[ext]; ok {
		return ClassImage
	}
	if acceptsHTML(r.Header.Get("Accept")) || ext == "" || strings.HasSuffix(target.Path, "/") || ext == ".html" {
		return ClassPage
	}
	if host != "" && host != strings.ToLower(c.ownHost) {
		return ClassCrossOrigin
	}
	return ClassOther
}

func acceptsHTML(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mt := strings.TrimSpace(part)
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = strings.TrimSpace(mt[:i])
		}
		if mt == "text/html" || mt == "application/xhtml+xml" {
			return true
		}
	}
	return false
}
