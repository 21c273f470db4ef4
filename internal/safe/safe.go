// internal/safe/safe.go
package safe

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/xxh3"
	"golang.org/x/exp/mmap"
	"lukechampine.com/blake3"
)

// EmptyHash is the content hash of a zero-length file. No blob is stored for
// such files.
var EmptyHash = func() string {
	sum := blake3.Sum256(nil)
	return hex.EncodeToString(sum[:])
}()

// Safe hashes working tree files and reads and writes their blobs.
type Safe struct {
	compress bool
	cm       *compressionManager
	cache    *lru.Cache[string, []byte] // blob path -> content
}

// Options configures Safe behavior
type Options struct {
	Compress  bool // zstd-compress written blobs
	Level     int  // 1=fastest .. 4=best
	CacheSize int  // number of blobs to cache
}

// New creates a new Safe instance
func New(opts Options) (*Safe, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.Level == 0 {
		opts.Level = 2
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	s := &Safe{compress: opts.Compress, cache: cache}
	if opts.Compress {
		if s.cm, err = newCompressionManager(opts.Level); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NameHash derives the stable blob name of a relative path.
func NameHash(path string) string {
	sum := xxh3.Hash128([]byte(filepath.ToSlash(path))).Bytes()
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the content hash of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile returns the content hash of the file at path. When saveTo is not
// empty the content is also written there (compressed if configured) and the
// number of bytes written is returned.
func (s *Safe) HashFile(path, saveTo string) (string, int64, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer r.Close()

	src := io.NewSectionReader(r, 0, int64(r.Len()))
	h := blake3.New(32, nil)

	if saveTo == "" {
		if _, err := io.Copy(h, src); err != nil {
			return "", 0, fmt.Errorf("hashing %s: %w", path, err)
		}
		return hex.EncodeToString(h.Sum(nil)), 0, nil
	}

	if err := os.MkdirAll(filepath.Dir(saveTo), 0755); err != nil {
		return "", 0, fmt.Errorf("creating blob directory: %w", err)
	}
	out, err := os.Create(saveTo)
	if err != nil {
		return "", 0, fmt.Errorf("creating blob: %w", err)
	}
	counter := &countingWriter{w: out}

	tee := io.TeeReader(src, h)
	if s.compress {
		err = s.cm.compressTo(counter, tee)
	} else {
		_, err = io.Copy(counter, tee)
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(saveTo)
		return "", 0, fmt.Errorf("writing blob for %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), counter.n, nil
}

// Read returns the uncompressed content of a blob.
func (s *Safe) Read(blobPath string) ([]byte, error) {
	if content, ok := s.cache.Get(blobPath); ok {
		return content, nil
	}

	content, err := os.ReadFile(blobPath)
	if err != nil {
		return nil, err
	}
	if s.compress {
		if content, err = s.cm.decompress(content); err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", blobPath, err)
		}
	}

	s.cache.Add(blobPath, content)
	return content, nil
}

// CopyBlob copies a stored blob without decoding it.
func (s *Safe) CopyBlob(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Purge drops cached blobs. Needed when branch folders are retired and their
// paths may be reused.
func (s *Safe) Purge() {
	s.cache.Purge()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Compressing reports whether written blobs are compressed.
func (s *Safe) Compressing() bool {
	return s.compress
}
