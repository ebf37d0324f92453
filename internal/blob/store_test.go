package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tabula/internal/common"
	"github.com/ternarybob/tabula/internal/interfaces"
)

// fakeRemote is an in-memory object store that counts uploads so dedup
// behavior is observable.
type fakeRemote struct {
	objects     map[string][]byte
	uploadCalls int
	failUploads bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{objects: make(map[string][]byte)}
}

func (f *fakeRemote) Upload(ctx context.Context, key, localPath string) error {
	f.uploadCalls++
	if f.failUploads {
		return errors.New("remote unavailable")
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeRemote) UploadBytes(ctx context.Context, key string, data []byte) error {
	f.uploadCalls++
	if f.failUploads {
		return errors.New("remote unavailable")
	}
	f.objects[key] = data
	return nil
}

func (f *fakeRemote) Download(ctx context.Context, key, localPath string) error {
	data, ok := f.objects[key]
	if !ok {
		return errors.New("no such key")
	}
	return os.WriteFile(localPath, data, 0644)
}

func (f *fakeRemote) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func newTestStore(t *testing.T, remote interfaces.ObjectStore) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), "raw/", remote, common.GetLogger())
	require.NoError(t, err)
	return store
}

func TestHashDeterminism(t *testing.T) {
	a := HashBytes([]byte("regulatory filing"))
	b := HashBytes([]byte("regulatory filing"))
	c := HashBytes([]byte("different content"))

	assert.Equal(t, a, b, "identical content must hash identically")
	assert.NotEqual(t, a, c)
	assert.False(t, strings.ContainsAny(a, "/+="), "hash must be filesystem and URL safe")
}

func TestPutDeduplicates(t *testing.T) {
	remote := newFakeRemote()
	store := newTestStore(t, remote)
	ctx := context.Background()

	data := []byte("same bytes twice")
	hash1, err := store.Put(ctx, data)
	require.NoError(t, err)
	hash2, err := store.Put(ctx, data)
	require.NoError(t, err)

	assert.Equal(t, hash1, hash2)
	// Second Put finds the remote copy via Exists and must not re-upload.
	assert.Equal(t, 1, remote.uploadCalls, "identical content must be uploaded exactly once")

	exists, err := store.Exists(ctx, hash1)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPutLocalSurvivesRemoteFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.failUploads = true
	store := newTestStore(t, remote)
	ctx := context.Background()

	hash, err := store.Put(ctx, []byte("important bytes"))
	require.Error(t, err)

	var blobErr *interfaces.BlobStoreError
	require.ErrorAs(t, err, &blobErr)
	assert.Equal(t, "mirror", blobErr.Op)

	// The hash is returned and the local copy is durable despite the
	// failed mirror.
	require.NotEmpty(t, hash)
	path, err := store.FetchLocalPath(ctx, hash, false, false)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestFetchLocalPathDownloads(t *testing.T) {
	remote := newFakeRemote()
	store := newTestStore(t, remote)
	ctx := context.Background()

	hash, err := store.Put(ctx, []byte("fetch me"))
	require.NoError(t, err)

	// Simulate processing on a different host: drop the local copy.
	require.NoError(t, os.Remove(filepath.Join(store.cacheDir, hash)))

	_, err = store.FetchLocalPath(ctx, hash, false, false)
	assert.ErrorIs(t, err, interfaces.ErrBlobNotFound)

	path, err := store.FetchLocalPath(ctx, hash, false, true)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fetch me", string(data))
}

func TestFetchLocalPathEnsureRemote(t *testing.T) {
	remote := newFakeRemote()
	localOnly := newTestStore(t, nil)
	ctx := context.Background()

	hash, err := localOnly.Put(ctx, []byte("local first"))
	require.NoError(t, err)

	// Attach the remote afterwards; ensureRemote should trigger the upload.
	localOnly.remote = remote
	_, err = localOnly.FetchLocalPath(ctx, hash, true, false)
	require.NoError(t, err)

	exists, err := remote.Exists(ctx, "raw/"+hash)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBackupTextOverwrites(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	meta := map[string]interface{}{"title": "Annual Report", "lang": "de"}
	require.NoError(t, store.BackupText(ctx, "first draft", "abc123", meta))
	require.NoError(t, store.BackupText(ctx, "second draft", "abc123", meta))

	data, err := os.ReadFile(filepath.Join(store.cacheDir, "text", "abc123.md"))
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "second draft")
	assert.NotContains(t, content, "first draft")
	assert.True(t, strings.HasPrefix(content, "---\n"), "snapshot must carry front-matter")
	assert.Contains(t, content, "lang: de")
	assert.Contains(t, content, "title: Annual Report")
}

func TestBackupTextNoMetadata(t *testing.T) {
	store := newTestStore(t, nil)
	require.NoError(t, store.BackupText(context.Background(), "bare text", "nometa", nil))

	data, err := os.ReadFile(filepath.Join(store.cacheDir, "text", "nometa.md"))
	require.NoError(t, err)
	assert.Equal(t, "bare text", string(data))
}
