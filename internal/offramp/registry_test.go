package offramp

import (
	"net/http"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func openTestRegistry(t *testing.T, dir string) *Registry {
	t.Helper()
	reg, err := OpenRegistry(dir)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	return reg
}

func sampleEntry(body string) CacheEntry {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain")
	return CacheEntry{Status: 200, Header: h, Body: []byte(body), StoredAt: time.Now().Unix()}
}

func TestRegistryPutGetDelete(t *testing.T) {
	reg := openTestRegistry(t, t.TempDir())
	defer reg.Close()

	if _, ok, err := reg.Get("api-v1", "k"); err != nil || ok {
		t.Fatalf("empty get: ok=%v err=%v", ok, err)
	}

	want := sampleEntry("hello")
	if err := reg.Put("api-v1", "k", want); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := reg.Get("api-v1", "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != want.Status || string(got.Body) != "hello" || got.Header.Get("Content-Type") != "text/plain" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}

	// Replacement, not mutation: a second put fully overwrites.
	if err := reg.Put("api-v1", "k", sampleEntry("fresh")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, _, _ = reg.Get("api-v1", "k")
	if string(got.Body) != "fresh" {
		t.Fatalf("replacement body = %q, want %q", got.Body, "fresh")
	}

	if err := reg.Delete("api-v1", "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := reg.Get("api-v1", "k"); ok {
		t.Fatal("entry still present after delete")
	}
}

func TestRegistryLazyCacheCreationAndNames(t *testing.T) {
	reg := openTestRegistry(t, t.TempDir())
	defer reg.Close()

	names, err := reg.CacheNames()
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no caches before first write, got %v", names)
	}

	_ = reg.Put("static-v2", "a", sampleEntry("a"))
	_ = reg.Put("api-v2", "b", sampleEntry("b"))
	_ = reg.Put("api-v2", "c", sampleEntry("c"))

	names, _ = reg.CacheNames()
	if !reflect.DeepEqual(names, []string{"api-v2", "static-v2"}) {
		t.Fatalf("names = %v", names)
	}
	n, err := reg.EntryCount("api-v2")
	if err != nil || n != 2 {
		t.Fatalf("count = %d err=%v, want 2", n, err)
	}
}

func TestRegistryDeleteCache(t *testing.T) {
	reg := openTestRegistry(t, t.TempDir())
	defer reg.Close()

	_ = reg.Put("image-v1", "a", sampleEntry("a"))
	_ = reg.Put("image-v1", "b", sampleEntry("b"))
	_ = reg.Put("image-v12", "keepme", sampleEntry("x"))

	n, err := reg.DeleteCache("image-v1")
	if err != nil {
		t.Fatalf("delete cache: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d entries, want 2", n)
	}
	// Prefix deletion must not bleed into a cache whose name merely starts
	// with the deleted one.
	if _, ok, _ := reg.Get("image-v12", "keepme"); !ok {
		t.Fatal("image-v12 entry lost during image-v1 deletion")
	}
	if n, _ := reg.DeleteCache("never-existed"); n != 0 {
		t.Fatalf("deleting absent cache removed %d entries", n)
	}
}

func TestRegistryDeleteCacheRejectsColonNames(t *testing.T) {
	reg := openTestRegistry(t, t.TempDir())
	defer reg.Close()

	// Keys are URLs, so "api-v1:https" is a prefix of api-v1's keyspace; a
	// delete by that name must be refused, not carve out a slice of api-v1.
	_ = reg.Put("api-v1", "https://app.example.com/api/a", sampleEntry("a"))
	_ = reg.Put("api-v1", "https://app.example.com/api/b", sampleEntry("b"))

	if _, err := reg.DeleteCache("api-v1:https"); err == nil {
		t.Fatal("DeleteCache accepted a cache name containing ':'")
	}
	if n, _ := reg.EntryCount("api-v1"); n != 2 {
		t.Fatalf("api-v1 has %d entries after rejected delete, want 2", n)
	}
}

func TestRegistrySurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")

	reg := openTestRegistry(t, dir)
	_ = reg.Put("static-v1", "k", sampleEntry("persisted"))
	if err := reg.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reg = openTestRegistry(t, dir)
	defer reg.Close()
	got, ok, err := reg.Get("static-v1", "k")
	if err != nil || !ok {
		t.Fatalf("get after reopen: ok=%v err=%v", ok, err)
	}
	if string(got.Body) != "persisted" {
		t.Fatalf("body = %q after reopen", got.Body)
	}
}
