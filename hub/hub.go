// Package hub fetches files (vocabularies, tokenizer configurations) from HuggingFace Hub model
// repositories and caches them locally.
//
// Example:
//
//	repo := hub.New("KB/bert-base-swedish-cased").WithAuth(os.Getenv("HF_TOKEN"))
//	vocabPath, err := repo.DownloadFile("vocab.txt")
//	if err != nil {
//		panic(err)
//	}
package hub

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-nerkit/internal/files"
	"github.com/pkg/errors"
)

// DefaultEndpoint is the HuggingFace Hub address used to build download URLs.
const DefaultEndpoint = "https://huggingface.co"

// DefaultDirCreationPerm is used when creating the cache directories.
const DefaultDirCreationPerm = 0755

// DefaultRevision is the branch used when none is given.
const DefaultRevision = "main"

// Repo represents a HuggingFace Hub model repository, and a local cache where its files are stored.
//
// Create it with New and configure it with the With* methods.
type Repo struct {
	// ID of the repository, e.g. "KB/bert-base-swedish-cased".
	ID string

	revision  string
	authToken string
	cacheDir  string
	endpoint  string
	client    *http.Client
}

// New creates a Repo reference for the given model id, using the default cache directory
// (see DefaultCacheDir) and the "main" revision.
func New(id string) *Repo {
	return &Repo{
		ID:       id,
		revision: DefaultRevision,
		cacheDir: DefaultCacheDir(),
		endpoint: DefaultEndpoint,
		client:   http.DefaultClient,
	}
}

// DefaultCacheDir returns $HF_HOME/hub if HF_HOME is set, otherwise ~/.cache/huggingface/hub.
func DefaultCacheDir() string {
	if hfHome := os.Getenv("HF_HOME"); hfHome != "" {
		return filepath.Join(hfHome, "hub")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "huggingface", "hub")
	}
	return filepath.Join(home, ".cache", "huggingface", "hub")
}

// WithAuth sets the token used to access private or gated repositories.
// An empty token disables authentication.
func (r *Repo) WithAuth(authToken string) *Repo {
	r.authToken = authToken
	return r
}

// WithRevision sets the branch, tag or commit to download from.
func (r *Repo) WithRevision(revision string) *Repo {
	r.revision = revision
	return r
}

// WithCacheDir sets the local directory where files are cached.
func (r *Repo) WithCacheDir(cacheDir string) *Repo {
	r.cacheDir = cacheDir
	return r
}

// WithEndpoint overrides the Hub address. Mostly used for mirrors and tests.
func (r *Repo) WithEndpoint(endpoint string) *Repo {
	r.endpoint = strings.TrimSuffix(endpoint, "/")
	return r
}

// WithHTTPClient sets the client used for downloads.
func (r *Repo) WithHTTPClient(client *http.Client) *Repo {
	r.client = client
	return r
}

// FileURL returns the resolve URL of fileName in the repository.
func (r *Repo) FileURL(fileName string) string {
	return r.endpoint + "/" + r.ID + "/resolve/" + url.PathEscape(r.revision) + "/" + fileName
}

// repoCacheDir is where the files of this repo/revision live.
func (r *Repo) repoCacheDir() string {
	name := "models--" + strings.ReplaceAll(r.ID, "/", "--")
	return filepath.Join(r.cacheDir, name, "snapshots", r.revision)
}

// LocalPath returns the path where fileName is (or would be) cached.
func (r *Repo) LocalPath(fileName string) string {
	return filepath.Join(r.repoCacheDir(), filepath.FromSlash(path.Clean(fileName)))
}

// IsCached reports whether fileName was already downloaded.
func (r *Repo) IsCached(fileName string) bool {
	return files.Exists(r.LocalPath(fileName))
}

// DownloadFile downloads fileName (if not yet cached) and returns its local path.
func (r *Repo) DownloadFile(fileName string) (string, error) {
	return r.DownloadFileContext(context.Background(), fileName)
}

// DownloadFileContext is like DownloadFile, but the download can be cancelled with ctx.
func (r *Repo) DownloadFileContext(ctx context.Context, fileName string) (string, error) {
	if r.ID == "" {
		return "", errors.New("hub.Repo has no ID, create it with hub.New")
	}
	if path.IsAbs(fileName) || strings.HasPrefix(path.Clean(fileName), "..") {
		return "", errors.Errorf("invalid file name %q for repo %q", fileName, r.ID)
	}
	localPath := r.LocalPath(fileName)
	if err := r.lockedDownload(ctx, r.FileURL(fileName), localPath, false); err != nil {
		return "", errors.WithMessagef(err, "repo %q", r.ID)
	}
	return localPath, nil
}
