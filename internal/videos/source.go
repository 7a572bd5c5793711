package videos

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Source is where an ingested video comes from.
type Source interface {
	describe() string
}

// UploadSource is a video uploaded directly by the operator.
type UploadSource struct {
	Filename string
	MimeType string
	Reader   io.Reader
}

func (s UploadSource) describe() string { return s.Filename }

// URLSource is a video fetched from a direct URL.
type URLSource struct {
	URL      string
	Metadata map[string]any
}

func (s URLSource) describe() string { return s.URL }

// ValidateURL checks that raw is an absolute http(s) URL with a host.
func ValidateURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return parsed, nil
}

// Fetcher probes and downloads videos over HTTP.
type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// NewFetcher constructs a Fetcher. A non-positive maxBytes disables the limit.
func NewFetcher(client *http.Client, maxBytes int64) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{Client: client, MaxBytes: maxBytes}
}

// Probe issues a HEAD request, following redirects, and returns the content
// type when it names a video.
func (f *Fetcher) Probe(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build probe request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("probe %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	contentType := mediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(contentType, "video/") {
		return "", fmt.Errorf("%w: %s reports %q", ErrNotVideo, rawURL, contentType)
	}
	return contentType, nil
}

// Download copies the body of rawURL into dst and returns its content type,
// defaulting to video/mp4, and the number of bytes written.
func (f *Fetcher) Download(ctx context.Context, rawURL string, dst io.Writer) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build download request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, fmt.Errorf("download %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	n, err := copyLimited(dst, resp.Body, f.MaxBytes)
	if err != nil {
		return "", n, fmt.Errorf("download %s: %w", rawURL, err)
	}

	contentType := mediaType(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = "video/mp4"
	}
	return contentType, n, nil
}

// copyLimited copies src to dst failing with ErrTooLarge past limit bytes.
func copyLimited(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	if limit <= 0 {
		return io.Copy(dst, src)
	}
	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, ErrTooLarge
	}
	return n, nil
}

// UploadMimeType resolves the MIME type of an upload from the declared type or
// the file extension and checks that it names a video.
func UploadMimeType(filename, declared string) (string, error) {
	contentType := mediaType(declared)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mediaType(mime.TypeByExtension(strings.ToLower(path.Ext(filename))))
	}
	if contentType == "" {
		switch strings.ToLower(path.Ext(filename)) {
		case ".mp4", ".m4v":
			contentType = "video/mp4"
		case ".mov":
			contentType = "video/quicktime"
		case ".avi":
			contentType = "video/x-msvideo"
		}
	}
	if !strings.HasPrefix(contentType, "video/") {
		return "", fmt.Errorf("%w: %s has type %q", ErrNotVideo, filename, contentType)
	}
	return contentType, nil
}

func mediaType(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(header)
	}
	return parsed
}
