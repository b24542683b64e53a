package driver

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"opal/internal/artifact"
	"opal/internal/target"
)

// diskCacheSchema versions the cache payload; bump to invalidate everything
// written by older builds.
const diskCacheSchema uint16 = 1

// Digest keys cache entries. It covers the input artifact bytes, the target
// triple and pointer size, and both schema versions, so any change that could
// alter the lowered output misses.
type Digest [sha256.Size]byte

func cacheKey(input []byte, tgt target.Target) Digest {
	h := sha256.New()
	var ver [4]byte
	binary.LittleEndian.PutUint16(ver[0:], diskCacheSchema)
	binary.LittleEndian.PutUint16(ver[2:], artifact.Schema)
	h.Write(ver[:])
	h.Write([]byte(tgt.Triple))
	h.Write([]byte{byte(tgt.PtrSize), 0})
	h.Write(input)
	var d Digest
	h.Sum(d[:0])
	return d
}

// DiskCache stores lowered artifacts keyed by input digest. Safe for
// concurrent use.
type DiskCache struct {
	mu  sync.RWMutex
	dir string
}

type diskPayload struct {
	Schema   uint16
	Triple   string
	Artifact []byte
}

// OpenDiskCache initializes a cache under dir, or under the standard user
// cache location when dir is empty (XDG_CACHE_HOME, falling back to
// ~/.cache).
func OpenDiskCache(app, dir string) (*DiskCache, error) {
	if dir == "" {
		base := os.Getenv("XDG_CACHE_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			base = filepath.Join(home, ".cache")
		}
		dir = filepath.Join(base, app)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) pathFor(key Digest) string {
	return filepath.Join(c.dir, "lowered", hex.EncodeToString(key[:])+".mp")
}

// Put serializes and writes a payload, atomically via temp file + rename.
func (c *DiskCache) Put(key Digest, payload *diskPayload) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if err := msgpack.NewEncoder(f).Encode(payload); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// Get reads a payload; the first result is false on a clean miss.
func (c *DiskCache) Get(key Digest, out *diskPayload) (bool, error) {
	if c == nil {
		return false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if err := msgpack.NewDecoder(f).Decode(out); err != nil {
		return false, err
	}
	return true, nil
}

// DropAll invalidates the cache, useful after format changes.
func (c *DiskCache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.dir + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(c.dir, old); err != nil {
		return err
	}
	return os.RemoveAll(old)
}

// cacheLookup decodes a hit into a bundle. Any decode failure counts as a
// miss: a stale or corrupt entry just means recompiling.
func cacheLookup(c *DiskCache, key Digest) (*artifact.Bundle, bool) {
	if c == nil {
		return nil, false
	}
	var payload diskPayload
	ok, err := c.Get(key, &payload)
	if err != nil || !ok || payload.Schema != diskCacheSchema {
		return nil, false
	}
	b, err := artifact.Decode(bytes.NewReader(payload.Artifact))
	if err != nil || b.Table == nil {
		return nil, false
	}
	return b, true
}

// cacheStore writes the lowered bundle. Failures are ignored: the cache is
// an accelerator, never a correctness dependency.
func cacheStore(c *DiskCache, key Digest, b *artifact.Bundle, tgt target.Target) {
	if c == nil {
		return
	}
	var buf bytes.Buffer
	if err := artifact.Encode(&buf, b); err != nil {
		return
	}
	_ = c.Put(key, &diskPayload{
		Schema:   diskCacheSchema,
		Triple:   tgt.Triple,
		Artifact: buf.Bytes(),
	})
}
