package blob

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tabula/internal/interfaces"
	"golang.org/x/crypto/blake2b"
)

// Store is the content-addressed blob store: a local cache directory of
// hash-named files, mirrored into a remote object store under a fixed key
// prefix. Local writes always precede remote mirroring so a remote outage
// never loses data.
type Store struct {
	cacheDir  string
	keyPrefix string
	remote    interfaces.ObjectStore // nil disables mirroring
	logger    arbor.ILogger
}

var _ interfaces.BlobStore = (*Store)(nil)

// NewStore creates a blob store rooted at cacheDir. remote may be nil for
// local-only operation (tests, air-gapped deployments).
func NewStore(cacheDir, keyPrefix string, remote interfaces.ObjectStore, logger arbor.ILogger) (*Store, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob cache directory: %w", err)
	}
	return &Store{
		cacheDir:  cacheDir,
		keyPrefix: keyPrefix,
		remote:    remote,
		logger:    logger,
	}, nil
}

// HashBytes computes the content hash used for deduplication and
// addressing: BLAKE2b-256, base64url without padding.
func HashBytes(data []byte) string {
	sum := blake2b.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (s *Store) localPath(hash string) string {
	return filepath.Join(s.cacheDir, hash)
}

func (s *Store) remoteKey(hash string) string {
	return s.keyPrefix + hash
}

// Put hashes the bytes and stores them locally then remotely. Writing the
// same bytes twice is a no-op after the first write.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	hash := HashBytes(data)
	path := s.localPath(hash)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeFileAtomic(path, data); err != nil {
			return "", &interfaces.BlobStoreError{Op: "put", Hash: hash, Path: path, Err: err}
		}
		s.logger.Debug().Str("hash", hash).Int("size", len(data)).Msg("Blob written to local cache")
	} else if err != nil {
		return "", &interfaces.BlobStoreError{Op: "put", Hash: hash, Path: path, Err: err}
	}

	if s.remote != nil {
		exists, err := s.remote.Exists(ctx, s.remoteKey(hash))
		if err != nil {
			return hash, &interfaces.BlobStoreError{Op: "mirror", Hash: hash, Err: err}
		}
		if !exists {
			if err := s.remote.Upload(ctx, s.remoteKey(hash), path); err != nil {
				// The local copy is already durable; surface the mirror
				// failure so the caller can decide whether to retry.
				return hash, &interfaces.BlobStoreError{Op: "mirror", Hash: hash, Err: err}
			}
			s.logger.Debug().Str("hash", hash).Msg("Blob mirrored to remote store")
		}
	}

	return hash, nil
}

// Exists checks the local cache first to avoid redundant network calls.
func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	if _, err := os.Stat(s.localPath(hash)); err == nil {
		return true, nil
	} else if !os.IsNotExist(err) {
		return false, &interfaces.BlobStoreError{Op: "exists", Hash: hash, Err: err}
	}

	if s.remote == nil {
		return false, nil
	}
	exists, err := s.remote.Exists(ctx, s.remoteKey(hash))
	if err != nil {
		return false, &interfaces.BlobStoreError{Op: "exists", Hash: hash, Err: err}
	}
	return exists, nil
}

// FetchLocalPath returns a local filesystem path for the blob, syncing in
// either direction as requested. Ingestion and processing may run on
// different hosts, so a blob can be local-only, remote-only, or both.
func (s *Store) FetchLocalPath(ctx context.Context, hash string, ensureRemote, downloadIfMissing bool) (string, error) {
	path := s.localPath(hash)
	_, statErr := os.Stat(path)

	switch {
	case statErr == nil:
		if ensureRemote && s.remote != nil {
			exists, err := s.remote.Exists(ctx, s.remoteKey(hash))
			if err != nil {
				return "", &interfaces.BlobStoreError{Op: "fetch", Hash: hash, Path: path, Err: err}
			}
			if !exists {
				if err := s.remote.Upload(ctx, s.remoteKey(hash), path); err != nil {
					return "", &interfaces.BlobStoreError{Op: "fetch", Hash: hash, Path: path, Err: err}
				}
				s.logger.Debug().Str("hash", hash).Msg("Blob uploaded during fetch")
			}
		}
		return path, nil

	case os.IsNotExist(statErr):
		if !downloadIfMissing || s.remote == nil {
			return "", interfaces.ErrBlobNotFound
		}
		exists, err := s.remote.Exists(ctx, s.remoteKey(hash))
		if err != nil {
			return "", &interfaces.BlobStoreError{Op: "fetch", Hash: hash, Err: err}
		}
		if !exists {
			return "", interfaces.ErrBlobNotFound
		}
		if err := s.remote.Download(ctx, s.remoteKey(hash), path); err != nil {
			return "", &interfaces.BlobStoreError{Op: "fetch", Hash: hash, Path: path, Err: err}
		}
		s.logger.Debug().Str("hash", hash).Msg("Blob downloaded from remote store")
		return path, nil

	default:
		return "", &interfaces.BlobStoreError{Op: "fetch", Hash: hash, Path: path, Err: statErr}
	}
}

// BackupText writes a processed-text snapshot with metadata front-matter,
// overwriting any prior snapshot for the hash. Used for crash recovery and
// auditability of extraction/translation output.
func (s *Store) BackupText(ctx context.Context, text, hash string, metadata map[string]interface{}) error {
	content := renderFrontMatter(metadata) + text
	path := filepath.Join(s.cacheDir, "text", hash+".md")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &interfaces.BlobStoreError{Op: "backup", Hash: hash, Path: path, Err: err}
	}
	if err := writeFileAtomic(path, []byte(content)); err != nil {
		return &interfaces.BlobStoreError{Op: "backup", Hash: hash, Path: path, Err: err}
	}

	if s.remote != nil {
		if err := s.remote.UploadBytes(ctx, "text/"+hash+".md", []byte(content)); err != nil {
			return &interfaces.BlobStoreError{Op: "backup", Hash: hash, Err: err}
		}
	}
	return nil
}

// renderFrontMatter emits a deterministic YAML-ish front-matter block.
// Keys are sorted so repeated backups of identical content are byte-identical.
func renderFrontMatter(metadata map[string]interface{}) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("---\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, metadata[k])
	}
	b.WriteString("---\n")
	return b.String()
}

// writeFileAtomic writes via a temp file and rename so a crash mid-write
// never leaves a truncated blob under a valid hash name.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
