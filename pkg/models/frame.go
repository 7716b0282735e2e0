package models

import (
	"strings"
	"sync"
)

// StackFrame is one parsed stack-trace frame. Each pipeline stage (parser,
// classifier, resolver) returns a new value rather than mutating in place, so
// frames can be resolved concurrently without aliasing.
type StackFrame struct {
	// Raw parse output.
	File   string `json:"file"`
	Line   int    `json:"line,omitempty"`   // 0 when the source had none
	Column int    `json:"column,omitempty"` // 0 when the source had none
	Callee string `json:"callee"`
	Native bool   `json:"native,omitempty"`

	// Set by the path classifier.
	FileRelative   string `json:"fileRelative,omitempty"`
	FileShort      string `json:"fileShort,omitempty"`
	FileName       string `json:"fileName,omitempty"`
	CalleeShort    string `json:"calleeShort,omitempty"`
	ExternalDomain string `json:"externalDomain,omitempty"`
	ThirdParty     bool   `json:"thirdParty,omitempty"`

	// Index marks the frame that carries the originating request URL
	// rather than a code location. It is exempt from third-party rules.
	Index bool `json:"index,omitempty"`

	// Hide marks probe-bundle and browser-extension frames: kept in the
	// persisted stack, excluded from the fingerprint and default display.
	Hide bool `json:"hide,omitempty"`

	// Set by the source resolver when mapping succeeded.
	SourceFile *SourceFile `json:"-"`
	SourceLine int         `json:"sourceLine,omitempty"`

	// ResolveError carries a failed resolution; the frame itself stays
	// usable at its generated coordinates.
	ResolveError string `json:"error,omitempty"`
}

// SourceFile is one fetched source text, owned by the resolver cache and
// shared read-only by every frame referencing the same path within one event.
type SourceFile struct {
	Path string
	Text string
	Err  error

	once  sync.Once
	lines []string
}

// Lines splits the text lazily; the split is done at most once even when
// several frames read the same file concurrently.
func (sf *SourceFile) Lines() []string {
	sf.once.Do(func() {
		sf.lines = strings.Split(sf.Text, "\n")
	})
	return sf.lines
}

// Line returns the 1-based line n, or "" when out of range.
func (sf *SourceFile) Line(n int) string {
	lines := sf.Lines()
	if n < 1 || n > len(lines) {
		return ""
	}
	return strings.TrimRight(lines[n-1], "\r")
}
