// Package cachestore implements the cache store port on the local
// filesystem. Artifacts are content addressed: the key is hashed into the
// file name, so any key string is path safe on any platform. Large payloads
// are LZ4 compressed transparently; callers always see plain bytes.
package cachestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4"

	"github.com/gantry-dev/gantry/domain/ports"
)

// DefaultCompressThreshold is the payload size at which compression kicks
// in. Below it the frame overhead outweighs the savings.
const DefaultCompressThreshold = 4 << 10

// File suffixes distinguish the storage encoding, so reads never sniff
// payload bytes.
const (
	rawSuffix        = ".raw"
	compressedSuffix = ".lz4"
)

type fileStoreConfig struct {
	root      string      // root directory of the store
	dirPerm   os.FileMode // permission for created directories
	filePerm  os.FileMode // permission for stored artifacts
	threshold int         // compress payloads at or above this size
}

func defaultFileStoreConfig() fileStoreConfig {
	return fileStoreConfig{
		root:      filepath.Join(os.Getenv("HOME"), ".gantry", "cache"),
		dirPerm:   0o755,
		filePerm:  0o600,
		threshold: DefaultCompressThreshold,
	}
}

// FileStoreOption configures a FileStore instance.
type FileStoreOption func(*fileStoreConfig)

// WithRoot sets the store's root directory.
func WithRoot(root string) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.root = root
	}
}

// WithFilePermissions sets the permissions for stored artifacts.
// Default is 0o600 (user-only).
func WithFilePermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.filePerm = perm
	}
}

// WithDirPermissions sets the permissions for created directories.
// Default is 0o755.
func WithDirPermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.dirPerm = perm
	}
}

// WithCompressThreshold sets the payload size at which LZ4 compression
// kicks in. Zero compresses everything.
func WithCompressThreshold(n int) FileStoreOption {
	return func(c *fileStoreConfig) {
		if n >= 0 {
			c.threshold = n
		}
	}
}

// FileStore provides file-based artifact storage.
type FileStore struct {
	config fileStoreConfig
}

var _ ports.CacheStore = (*FileStore)(nil)

// NewFileStore creates a FileStore with the given options.
func NewFileStore(opts ...FileStoreOption) *FileStore {
	cfg := defaultFileStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FileStore{config: cfg}
}

// Get retrieves a cached artifact. A missing key reports found=false, not
// an error.
func (s *FileStore) Get(key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, errors.New("cachestore: empty key")
	}
	base := s.entryPath(key)

	data, err := os.ReadFile(base + compressedSuffix)
	if err == nil {
		payload, derr := decompress(data)
		if derr != nil {
			return nil, false, fmt.Errorf("decompress cached artifact: %w", derr)
		}
		return payload, true, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("read cached artifact: %w", err)
	}

	data, err = os.ReadFile(base + rawSuffix)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached artifact: %w", err)
	}
	return data, true, nil
}

// Put persists an artifact under the key, replacing any previous value, and
// returns the size stored on disk. Writes go through a temp file and
// rename, so readers never observe a torn artifact.
func (s *FileStore) Put(key string, payload []byte) (int64, error) {
	if key == "" {
		return 0, errors.New("cachestore: empty key")
	}
	base := s.entryPath(key)

	if err := os.MkdirAll(filepath.Dir(base), s.config.dirPerm); err != nil {
		return 0, fmt.Errorf("create cache directory: %w", err)
	}

	stored := payload
	suffix := rawSuffix
	if len(payload) >= s.config.threshold {
		compressed, err := compress(payload)
		if err != nil {
			return 0, fmt.Errorf("compress artifact: %w", err)
		}
		// An incompressible payload stays raw.
		if len(compressed) < len(payload) {
			stored = compressed
			suffix = compressedSuffix
		}
	}

	if err := s.writeAtomic(base+suffix, stored); err != nil {
		return 0, err
	}

	// Drop the other encoding of a previous value for this key.
	stale := base + rawSuffix
	if suffix == rawSuffix {
		stale = base + compressedSuffix
	}
	if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("replace cached artifact: %w", err)
	}

	return int64(len(stored)), nil
}

// Path returns the store's root directory.
func (s *FileStore) Path() string {
	return s.config.root
}

// entryPath maps a key to its file path without suffix. Keys are hashed so
// the name is path safe regardless of what the key contains, and entries
// shard into 256 directories by the first hash byte.
func (s *FileStore) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(s.config.root, name[:2], name)
}

func (s *FileStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Chmod(s.config.filePerm); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("set artifact permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit artifact: %w", err)
	}
	return nil
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}
