package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// HTTPStore is a read-only BlobStore over a base URL. Blob names are resolved
// relative to the base, sizes come from HEAD requests, and partial reads use
// Range requests so fetching one shard never downloads the dataset.
type HTTPStore struct {
	base         *url.URL
	client       *http.Client
	showProgress bool
}

// HTTPOption configures an HTTPStore.
type HTTPOption func(*HTTPStore)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPStore) { s.client = c }
}

// WithProgress renders a progress bar to stderr while streaming blobs.
// Meant for interactive conversion jobs, not data-loading workers.
func WithProgress() HTTPOption {
	return func(s *HTTPStore) { s.showProgress = true }
}

// NewHTTPStore creates a read-only store over baseURL.
func NewHTTPStore(baseURL string, opts ...HTTPOption) (*HTTPStore, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing base URL %q", baseURL)
	}
	s := &HTTPStore{base: base, client: http.DefaultClient}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *HTTPStore) blobURL(name string) string {
	u := *s.base
	u.Path, _ = url.JoinPath(u.Path, name)
	return u.String()
}

// Open resolves the blob's size via HEAD.
func (s *HTTPStore) Open(ctx context.Context, name string) (Blob, error) {
	blobURL := s.blobURL(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, blobURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "HEAD %q", blobURL)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Errorf("HEAD %q: unexpected status %s", blobURL, resp.Status)
	case resp.ContentLength < 0:
		return nil, errors.Errorf("HEAD %q: server did not report a length", blobURL)
	}

	return &httpBlob{store: s, url: blobURL, size: resp.ContentLength}, nil
}

// Put is unsupported; HTTP datasets are published out of band.
func (s *HTTPStore) Put(context.Context, string, []byte) error {
	return ErrReadOnly
}

// List is unsupported: plain HTTP has no enumeration. Readers never need it —
// the index names every shard.
func (s *HTTPStore) List(context.Context, string) ([]string, error) {
	return nil, errors.Wrap(ErrReadOnly, "HTTP store cannot list")
}

type httpBlob struct {
	store *HTTPStore
	url   string
	size  int64
}

func (b *httpBlob) Size() int64 { return b.size }

func (b *httpBlob) Close() error { return nil }

func (b *httpBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= b.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > b.size {
		want = b.size - off
	}
	rc, err := b.ReadRange(ctx, off, want)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.ReadFull(rc, p[:want])
	if err != nil {
		return n, err
	}
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

func (b *httpBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= b.size {
		return nil, io.EOF
	}
	end := off + length - 1
	if end >= b.size {
		end = b.size - 1
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))

	resp, err := b.store.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "GET %q", b.url)
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, errors.Errorf("GET %q: unexpected status %s", b.url, resp.Status)
	}

	body := resp.Body
	if b.store.showProgress {
		bar := progressbar.DefaultBytes(end-off+1, "downloading")
		body = &progressReader{rc: resp.Body, tee: progressbar.NewReader(resp.Body, bar)}
	}
	return body, nil
}

// progressReader forwards reads through the progress bar while keeping the
// response body as the thing that gets closed.
type progressReader struct {
	rc  io.ReadCloser
	tee progressbar.Reader
}

func (r *progressReader) Read(p []byte) (int, error) { return r.tee.Read(p) }

func (r *progressReader) Close() error {
	_ = r.tee.Close()
	return r.rc.Close()
}
