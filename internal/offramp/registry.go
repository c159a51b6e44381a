package offramp

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Registry holds the full set of named caches in one LevelDB database.
// Entries live under "e:<cache>:<key>"; each cache also has a marker row
// "n:<cache>" written on first put, so caches exist lazily and can be
// enumerated without scanning entries. Cache names must not contain ':'.
type Registry struct {
	db *leveldb.DB
}

func OpenRegistry(path string) (*Registry, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

func entryKey(cache, key string) []byte {
	return []byte("e:" + cache + ":" + key)
}

// Get returns the stored entry, a presence flag, and a storage error.
// A decode failure is reported as an error, not a silent miss, so callers
// can log it; they still treat it as a miss.
func (r *Registry) Get(cache, key string) (CacheEntry, bool, error) {
	b, err := r.db.Get(entryKey(cache, key), nil)
	if err == leveldb.ErrNotFound {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	var ent CacheEntry
	if err := decodeGob(b, &ent); err != nil {
		return CacheEntry{}, false, fmt.Errorf("decode %s:%s: %w", cache, key, err)
	}
	return ent, true, nil
}

func (r *Registry) Put(cache, key string, ent CacheEntry) error {
	if strings.Contains(cache, ":") {
		return fmt.Errorf("invalid cache name %q", cache)
	}
	b, err := encodeGob(ent)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(entryKey(cache, key), b)
	batch.Put([]byte("n:"+cache), nil)
	return r.db.Write(batch, nil)
}

func (r *Registry) Delete(cache, key string) error {
	return r.db.Delete(entryKey(cache, key), nil)
}

// CacheNames lists every cache that has ever been written and not since
// deleted, sorted.
func (r *Registry) CacheNames() ([]string, error) {
	it := r.db.NewIterator(util.BytesPrefix([]byte("n:")), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), []byte("n:"))))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// DeleteCache removes a whole named cache and returns how many entries it
// held. Deleting a cache that does not exist is not an error. The name is
// validated like in Put: a ':' would turn the prefix scan into a slice of
// some other cache's entries (keys are URLs and contain colons).
func (r *Registry) DeleteCache(cache string) (int, error) {
	if strings.Contains(cache, ":") {
		return 0, fmt.Errorf("invalid cache name %q", cache)
	}
	it := r.db.NewIterator(util.BytesPrefix([]byte("e:"+cache+":")), nil)
	batch := new(leveldb.Batch)
	n := 0
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
		n++
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return 0, err
	}
	batch.Delete([]byte("n:" + cache))
	if err := r.db.Write(batch, nil); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Registry) EntryCount(cache string) (int, error) {
	it := r.db.NewIterator(util.BytesPrefix([]byte("e:"+cache+":")), nil)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	if err := it.Error(); err != nil {
		return 0, err
	}
	return n, nil
}
