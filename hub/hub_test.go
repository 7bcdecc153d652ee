package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(hits, 1)
		switch req.URL.Path {
		case "/KB/bert-base-swedish-cased/resolve/main/vocab.txt":
			if req.Header.Get("Authorization") != "Bearer secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte("[PAD]\n[UNK]\n[CLS]\n[SEP]\nat\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadFile(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	cacheDir := t.TempDir()
	repo := New("KB/bert-base-swedish-cased").
		WithAuth("secret").
		WithCacheDir(cacheDir).
		WithEndpoint(srv.URL)

	localPath, err := repo.DownloadFile("vocab.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cacheDir, "models--KB--bert-base-swedish-cased", "snapshots", "main", "vocab.txt"), localPath)
	content, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "[CLS]")
	assert.True(t, repo.IsCached("vocab.txt"))
	assert.NoFileExists(t, localPath+".lock")

	// Second call is served from the cache.
	_, err = repo.DownloadFile("vocab.txt")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestDownloadFileErrors(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	repo := New("KB/bert-base-swedish-cased").WithCacheDir(t.TempDir()).WithEndpoint(srv.URL)

	_, err := repo.DownloadFile("tokenizer.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, repo.IsCached("tokenizer.json"))

	// Without the token, the server refuses.
	_, err = repo.DownloadFile("vocab.txt")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	_, err = repo.DownloadFile("../escape.txt")
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = repo.WithAuth("secret").DownloadFileContext(ctx, "vocab.txt")
	require.ErrorIs(t, err, context.Canceled)
}

func TestFileURL(t *testing.T) {
	repo := New("google/flan-t5-small").WithRevision("v1.0")
	assert.Equal(t, "https://huggingface.co/google/flan-t5-small/resolve/v1.0/tokenizer.model", repo.FileURL("tokenizer.model"))
}
