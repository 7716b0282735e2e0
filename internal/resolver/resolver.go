package resolver

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/go-sourcemap/sourcemap"
	"github.com/probelab/stacktrap/pkg/models"
)

// maxMapDepth bounds transitively chained source maps. Past it the resolver
// falls back to the generated location and records a depth error.
const maxMapDepth = 8

var reSourceMapURL = regexp.MustCompile(`(?m)[#@]\s*sourceMappingURL=(\S+)`)

// Resolver maps frames back to their original source through source maps.
// One Resolver serves one ingestion attempt; its Cache must be Reset between
// events by the caller.
type Resolver struct {
	fetcher *Fetcher
	cache   *Cache
}

func New(fetcher *Fetcher, cache *Cache) *Resolver {
	return &Resolver{fetcher: fetcher, cache: cache}
}

// Cache exposes the resolver's memo for its owner's Reset lifecycle call.
func (r *Resolver) Cache() *Cache { return r.cache }

// Resolve returns a copy of the frame annotated with the recovered source
// text and line. It never fails: fetch, parse and mapping problems leave the
// frame at its generated coordinates with ResolveError set.
func (r *Resolver) Resolve(ctx context.Context, f models.StackFrame) models.StackFrame {
	out := f
	if f.Native || f.File == "" || f.Line == 0 {
		return out
	}

	sf, line, err := r.locate(ctx, f.File, f.Line, f.Column, 0)
	if err != nil {
		out.ResolveError = err.Error()
	}
	if sf != nil && sf.Err == nil {
		out.SourceFile = sf
		out.SourceLine = line
	}
	return out
}

// locate fetches file, follows its source-map chain and returns the source
// text and line to display. On any failure past the initial fetch it falls
// back to the generated file's own line, returning both the fallback and the
// triggering error.
func (r *Resolver) locate(ctx context.Context, file string, line, col, depth int) (*models.SourceFile, int, error) {
	sf := r.cache.SourceFile(file, func() *models.SourceFile {
		text, err := r.fetcher.Fetch(ctx, file)
		return &models.SourceFile{Path: file, Text: text, Err: err}
	})
	if sf.Err != nil {
		return nil, 0, sf.Err
	}

	mapURL := lastSourceMapURL(sf.Text)
	if mapURL == "" {
		return sf, line, nil
	}
	if depth >= maxMapDepth {
		return sf, line, fmt.Errorf("source map chain exceeds depth %d at %s", maxMapDepth, file)
	}

	absMapURL := resolveRef(file, mapURL)
	cons, err := r.cache.Consumer(absMapURL, func() (*sourcemap.Consumer, error) {
		data, err := r.fetcher.Fetch(ctx, absMapURL)
		if err != nil {
			return nil, err
		}
		return sourcemap.Parse(absMapURL, []byte(data))
	})
	if err != nil {
		return sf, line, err
	}

	source, _, origLine, origCol, ok := cons.Source(line, col)
	if !ok || source == "" {
		return sf, line, nil
	}

	origFile := resolveRef(absMapURL, source)
	if content := cons.SourceContent(source); content != "" {
		r.cache.Seed(origFile, content)
	}

	// Map columns are zero-based; display columns are one-based.
	orig, origDisplayLine, err := r.locate(ctx, origFile, origLine, origCol+1, depth+1)
	if err != nil || orig == nil {
		return sf, line, err
	}
	return orig, origDisplayLine, nil
}

// lastSourceMapURL returns the final sourceMappingURL comment in text, or "".
// When a file carries several such comments they are not merged: the last one
// wins, matching what browsers do.
func lastSourceMapURL(text string) string {
	matches := reSourceMapURL.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	u := matches[len(matches)-1][1]
	return strings.TrimSuffix(strings.TrimSpace(u), "*/")
}

// resolveRef resolves ref against the location of base: URL resolution for
// absolute bases, path join for everything else. data: refs stand alone.
func resolveRef(base, ref string) string {
	if strings.HasPrefix(ref, "data:") ||
		strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") {
		bu, err := url.Parse(base)
		if err != nil {
			return ref
		}
		ru, err := url.Parse(ref)
		if err != nil {
			return ref
		}
		return bu.ResolveReference(ru).String()
	}
	if strings.HasPrefix(ref, "/") {
		return ref
	}
	return path.Join(path.Dir(base), ref)
}
