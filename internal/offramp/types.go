package offramp

import (
	"bytes"
	"encoding/gob"
	"net/http"
)

// Class is the coarse resource category assigned to a request. It drives
// both the caching strategy and the named cache the response lands in.
// Classes are recomputed per request and never persisted.
type Class int

const (
	ClassFont Class = iota
	ClassImage
	ClassAPI
	ClassPage
	ClassCrossOrigin
	ClassOther
)

func (c Class) String() string {
	switch c {
	case ClassFont:
		return "font"
	case ClassImage:
		return "image"
	case ClassAPI:
		return "api"
	case ClassPage:
		return "page"
	case ClassCrossOrigin:
		return "cross-origin"
	default:
		return "other"
	}
}

// CacheEntry is a stored response snapshot. Entries are immutable once
// written; a refresh replaces the whole entry.
type CacheEntry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64 // unix seconds
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}

func init() {
	// Ensure http.Header is registered for gob.
	gob.Register(http.Header{})
}
