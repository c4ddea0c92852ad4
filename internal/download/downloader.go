package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/EikeiDev/apkupdateross/internal/httputil"
	"github.com/EikeiDev/apkupdateross/internal/logging"
)

var log = logging.L("download")

// Profile selects the User-Agent sent to hosts whose URL contains Match.
type Profile struct {
	Match     string
	UserAgent string
}

// TransferError reports a failed or rejected download.
type TransferError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransferError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Options configures a Downloader.
type Options struct {
	Client   *http.Client
	Profiles []Profile
	Retry    httputil.RetryConfig
}

// Downloader turns catalog URLs into byte streams and owns the directory
// that holds per-attempt workspaces.
type Downloader struct {
	dir      string
	client   *http.Client
	profiles []Profile
	retry    httputil.RetryConfig
}

// New creates a Downloader rooted at dir.
func New(dir string, opts Options) *Downloader {
	client := opts.Client
	if client == nil {
		// No overall timeout: large bundles on slow links are legitimate.
		client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 60 * time.Second,
		}}
	}
	return &Downloader{
		dir:      dir,
		client:   client,
		profiles: opts.Profiles,
		retry:    opts.Retry,
	}
}

// Dir returns the downloader's base directory.
func (d *Downloader) Dir() string { return d.dir }

func (d *Downloader) headers(url string) http.Header {
	h := http.Header{}
	for _, p := range d.profiles {
		if p.Match != "" && strings.Contains(url, p.Match) {
			h.Set("User-Agent", p.UserAgent)
			break
		}
	}
	return h
}

// Open starts a download and returns the body with its advertised length,
// or 0 when the server did not send one.
func (d *Downloader) Open(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	resp, err := httputil.Get(ctx, d.client, url, d.headers(url), d.retry)
	if err != nil {
		return nil, 0, &TransferError{URL: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, &TransferError{URL: url, StatusCode: resp.StatusCode}
	}

	size := resp.ContentLength
	if size < 0 {
		size = 0
	}
	return resp.Body, size, nil
}

// Lazy returns a reader that opens url on its first Read, so a multi-part
// install does not hold idle connections for parts still waiting their turn.
func (d *Downloader) Lazy(ctx context.Context, url string) io.ReadCloser {
	return &lazyReader{ctx: ctx, url: url, d: d}
}

type lazyReader struct {
	ctx  context.Context
	url  string
	d    *Downloader
	mu   sync.Mutex
	body io.ReadCloser
	err  error
	done bool
}

func (r *lazyReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return 0, os.ErrClosed
	}
	if r.body == nil && r.err == nil {
		r.body, _, r.err = r.d.Open(r.ctx, r.url)
	}
	if r.err != nil {
		return 0, r.err
	}
	return r.body.Read(p)
}

func (r *lazyReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.done = true
	if r.body != nil {
		return r.body.Close()
	}
	return nil
}

// Workspace is a private directory for one install attempt.
type Workspace struct {
	Dir string
}

// NewWorkspace creates a fresh workspace for the attempt with the given id.
func (d *Downloader) NewWorkspace(id int) (*Workspace, error) {
	if err := os.MkdirAll(d.dir, 0700); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	dir, err := os.MkdirTemp(d.dir, fmt.Sprintf("%d-*", id))
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// Remove deletes the workspace and everything in it.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Dir)
}

// Fetch downloads url completely into the workspace and returns the file path.
func (d *Downloader) Fetch(ctx context.Context, ws *Workspace, url string) (string, error) {
	body, _, err := d.Open(ctx, url)
	if err != nil {
		return "", err
	}
	defer body.Close()

	f, err := os.CreateTemp(ws.Dir, "bundle-*")
	if err != nil {
		return "", fmt.Errorf("create bundle file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: body}); err != nil {
		os.Remove(f.Name())
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransferError{URL: url, Err: err}
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync bundle file: %w", err)
	}
	return f.Name(), nil
}

// StaleAge is how long an untouched workspace or staged file is kept before
// Cleanup treats it as left behind by a dead process.
const StaleAge = 24 * time.Hour

// Cleanup removes workspaces and staged files under the download directory
// that were not modified within maxAge. Directories are pruned bottom-up, so
// a shared parent survives as long as anything below it is still fresh.
// Other processes may be using the directory at the same time.
func (d *Downloader) Cleanup(maxAge time.Duration) error {
	removed, _, err := prune(d.dir, time.Now().Add(-maxAge))
	if os.IsNotExist(err) {
		return nil
	}
	if removed > 0 {
		log.Debug("download directory cleaned", "removed", removed)
	}
	return err
}

// prune removes entries of dir modified before cutoff. It reports how many
// entries it removed and whether dir is empty afterwards.
func prune(dir string, cutoff time.Time) (removed int, empty bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, false, err
	}

	kept := 0
	var firstErr error
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		info, err := e.Info()
		if err != nil {
			// Removed concurrently.
			continue
		}
		if e.IsDir() {
			n, childEmpty, err := prune(path, cutoff)
			removed += n
			if err != nil && !os.IsNotExist(err) && firstErr == nil {
				firstErr = err
			}
			if childEmpty && info.ModTime().Before(cutoff) {
				if err := os.Remove(path); err == nil {
					removed++
					continue
				}
			}
			kept++
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				if firstErr == nil {
					firstErr = err
				}
				kept++
				continue
			}
			removed++
			continue
		}
		kept++
	}
	return removed, kept == 0, firstErr
}

// ctxReader stops a long copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
