package interfaces

import "context"

// BlobStore is content-addressed storage for raw document bytes and
// processed-text snapshots: a local cache directory mirrored to a remote
// object store, deduplicated by cryptographic hash.
type BlobStore interface {
	// Put hashes the bytes, writes them to the local cache if absent, mirrors
	// to the remote store, and returns the content hash. Idempotent.
	Put(ctx context.Context, data []byte) (string, error)

	// Exists checks the local cache first, then the remote store.
	Exists(ctx context.Context, hash string) (bool, error)

	// FetchLocalPath returns a local filesystem path for the blob. When the
	// blob is missing locally and downloadIfMissing is set, it is pulled from
	// the remote store. When ensureRemote is set and the local copy is not yet
	// mirrored, an upload is triggered. Returns ErrBlobNotFound when the blob
	// is nowhere to be found.
	FetchLocalPath(ctx context.Context, hash string, ensureRemote, downloadIfMissing bool) (string, error)

	// BackupText writes a processed-text snapshot with metadata front-matter,
	// keyed by hash, overwriting any prior snapshot.
	BackupText(ctx context.Context, text, hash string, metadata map[string]interface{}) error
}

// ObjectStore is the remote backend the blob store mirrors into, addressed
// by key under a fixed bucket.
type ObjectStore interface {
	Upload(ctx context.Context, key, localPath string) error
	UploadBytes(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key, localPath string) error
	Exists(ctx context.Context, key string) (bool, error)
}
