// Package resolver recovers original source locations for parsed stack
// frames: it fetches generated files, discovers source-map references and
// maps frame coordinates back through the map chain. All fetched material is
// memoized in an explicit per-event Cache; failures degrade to the generated
// location and never propagate as errors.
package resolver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sentinel errors for source fetch failures.
var (
	ErrUnreachable  = errors.New("source unreachable")
	ErrFetchStatus  = errors.New("source fetch failed")
	ErrFetchTimeout = errors.New("source fetch timeout")
	ErrBadDataURI   = errors.New("malformed data URI")
)

// Bodies larger than this are cut off; minified bundles rarely come close.
const maxSourceBytes = 4 << 20

// Fetcher loads source material: data: URIs in-memory, http(s) URLs over the
// network under a fixed timeout, anything else from disk relative to root.
type Fetcher struct {
	root   string
	client *http.Client
}

// NewFetcher creates a Fetcher. Local paths resolve against root.
func NewFetcher(root string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		root:   root,
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves the text behind path.
func (f *Fetcher) Fetch(ctx context.Context, path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "data:"):
		return decodeDataURI(path)
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		return f.fetchHTTP(ctx, path)
	default:
		return f.readLocal(path)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrFetchStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return "", classifyError(err)
	}
	return string(body), nil
}

func (f *Fetcher) readLocal(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	b, err := os.ReadFile(filepath.Join(f.root, clean))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnreachable, path)
	}
	return string(b), nil
}

// decodeDataURI handles data:[mediatype][;base64],payload.
func decodeDataURI(uri string) (string, error) {
	rest := strings.TrimPrefix(uri, "data:")
	comma := strings.Index(rest, ",")
	if comma < 0 {
		return "", ErrBadDataURI
	}
	meta, payload := rest[:comma], rest[comma+1:]

	if strings.HasSuffix(meta, ";base64") {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadDataURI, err)
		}
		return string(b), nil
	}

	decoded, err := url.QueryUnescape(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadDataURI, err)
	}
	return decoded, nil
}

// classifyError maps transport errors to sentinel errors.
func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
