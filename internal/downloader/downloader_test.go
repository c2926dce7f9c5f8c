package downloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frederic-klein/llamapkg/internal/storage"
)

func uploadJob(t *testing.T, store *storage.LocalArtifacts, name, version, content string) Job {
	t.Helper()
	src := filepath.Join(t.TempDir(), name+"-"+version+".tar.gz")
	require.NoError(t, os.WriteFile(src, []byte(content), 0644))
	up, err := store.Upload(context.Background(), name, version, src)
	require.NoError(t, err)
	return Job{Name: name, Version: version, Locator: up.Locator, SHA256: up.SHA256}
}

func TestDownloader_Download(t *testing.T) {
	store := storage.NewLocalArtifacts(t.TempDir(), nil)
	jobs := []Job{
		uploadJob(t, store, "llamatext", "1.0.0", "text"),
		uploadJob(t, store, "llamacore", "0.2.0", "core"),
		uploadJob(t, store, "llamavision", "2.1.0", "vision"),
	}

	dl := NewDownloader(2, t.TempDir(), store, nil, nil)
	results, err := dl.Download(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, jobs[i], r.Job)
		require.NoError(t, r.Error)
		assert.Equal(t, filepath.Join(dl.DestDir(r.Job.Name, r.Job.Version), r.Job.Name+"-"+r.Job.Version+".tar.gz"), r.Path)
		assert.FileExists(t, r.Path)
	}
}

func TestDownloader_ChecksumMismatch(t *testing.T) {
	store := storage.NewLocalArtifacts(t.TempDir(), nil)
	job := uploadJob(t, store, "llamatext", "1.0.0", "text")
	job.SHA256 = "deadbeef"

	dl := NewDownloader(1, t.TempDir(), store, nil, nil)
	results, err := dl.Download(context.Background(), []Job{job})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Error, ErrChecksumMismatch)
	assert.NoFileExists(t, filepath.Join(dl.DestDir("llamatext", "1.0.0"), "llamatext-1.0.0.tar.gz"))
}

func TestDownloader_StopsAtFirstFailure(t *testing.T) {
	store := storage.NewLocalArtifacts(t.TempDir(), nil)
	jobs := []Job{
		uploadJob(t, store, "first", "1.0.0", "ok"),
		{Name: "broken", Version: "1.0.0", Locator: ""},
		uploadJob(t, store, "never", "1.0.0", "skipped"),
	}

	dl := NewDownloader(1, t.TempDir(), store, nil, nil)
	results, err := dl.Download(context.Background(), jobs)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrStorage)

	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Job.Name)
	assert.NoError(t, results[0].Error)
	assert.FileExists(t, results[0].Path, "completed downloads are not rolled back")
	assert.Equal(t, "broken", results[1].Job.Name)
	assert.Error(t, results[1].Error)
}

func TestDownloader_ReusesVerifiedCache(t *testing.T) {
	storeDir := t.TempDir()
	store := storage.NewLocalArtifacts(storeDir, nil)
	job := uploadJob(t, store, "llamatext", "1.0.0", "text")

	dl := NewDownloader(1, t.TempDir(), store, nil, nil)
	_, err := dl.Download(context.Background(), []Job{job})
	require.NoError(t, err)

	// With the stored copy gone, only the cache can satisfy the job.
	_, err = store.Remove("llamatext", "1.0.0")
	require.NoError(t, err)

	results, err := dl.Download(context.Background(), []Job{job})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.FileExists(t, results[0].Path)
}

func TestDownloader_CanceledContext(t *testing.T) {
	store := storage.NewLocalArtifacts(t.TempDir(), nil)
	job := uploadJob(t, store, "llamatext", "1.0.0", "text")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dl := NewDownloader(1, t.TempDir(), store, nil, nil)
	results, err := dl.Download(ctx, []Job{job})
	assert.Empty(t, results)
	assert.ErrorIs(t, err, context.Canceled)
}
