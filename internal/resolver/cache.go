package resolver

import (
	"sync"

	"github.com/go-sourcemap/sourcemap"
	"github.com/probelab/stacktrap/pkg/models"
)

// Cache memoizes fetched source files and parsed map consumers for the
// lifetime of one event's resolution. It is owned by a single ingestion
// attempt and Reset between events: fresh per event, shared within it.
// Loads are guarded per entry so concurrent frames referencing the same path
// share exactly one fetch.
type Cache struct {
	mu    sync.Mutex
	files map[string]*fileEntry
	maps  map[string]*mapEntry
}

type fileEntry struct {
	once sync.Once
	sf   *models.SourceFile
}

type mapEntry struct {
	once sync.Once
	cons *sourcemap.Consumer
	err  error
}

func NewCache() *Cache {
	c := &Cache{}
	c.Reset()
	return c
}

// Reset discards all memoized files and maps.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = make(map[string]*fileEntry)
	c.maps = make(map[string]*mapEntry)
}

// SourceFile returns the memoized file for path, calling load at most once.
// Failed loads are memoized too (as a SourceFile with Err set).
func (c *Cache) SourceFile(path string, load func() *models.SourceFile) *models.SourceFile {
	c.mu.Lock()
	e, ok := c.files[path]
	if !ok {
		e = &fileEntry{}
		c.files[path] = e
	}
	c.mu.Unlock()

	e.once.Do(func() { e.sf = load() })
	return e.sf
}

// Seed stores text for path without fetching, used for map-embedded
// sourcesContent. A later SourceFile call for the same path reuses it.
func (c *Cache) Seed(path, text string) {
	c.SourceFile(path, func() *models.SourceFile {
		return &models.SourceFile{Path: path, Text: text}
	})
}

// Consumer returns the memoized parsed map for url, calling load at most once.
func (c *Cache) Consumer(url string, load func() (*sourcemap.Consumer, error)) (*sourcemap.Consumer, error) {
	c.mu.Lock()
	e, ok := c.maps[url]
	if !ok {
		e = &mapEntry{}
		c.maps[url] = e
	}
	c.mu.Unlock()

	e.once.Do(func() { e.cons, e.err = load() })
	return e.cons, e.err
}
