package website

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/minio/crc64nvme"
)

type etagKey struct {
	path    string
	size    int64
	modTime time.Time
}

// etagCache remembers content checksums so each asset is hashed once per modification.
type etagCache struct {
	mu    sync.Mutex
	etags map[etagKey]string
}

func newETagCache() *etagCache {
	return &etagCache{etags: make(map[etagKey]string)}
}

// ETag returns a strong validator for f derived from a CRC64-NVME of its content.
// f is rewound to the start before returning.
func (c *etagCache) ETag(f *os.File, info os.FileInfo) (string, error) {
	key := etagKey{path: f.Name(), size: info.Size(), modTime: info.ModTime()}

	c.mu.Lock()
	etag, ok := c.etags[key]
	c.mu.Unlock()
	if ok {
		return etag, nil
	}

	h := crc64nvme.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", f.Name(), err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind %s: %w", f.Name(), err)
	}

	etag = fmt.Sprintf(`"%016x"`, h.Sum64())

	c.mu.Lock()
	c.etags[key] = etag
	c.mu.Unlock()

	return etag, nil
}
