package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/stacktrap/internal/resolver"
	"github.com/probelab/stacktrap/internal/stack"
	"github.com/probelab/stacktrap/pkg/models"
)

func testNormalizer(root string, maxFrames, maxBytes int) *Normalizer {
	return NewNormalizer(
		stack.Classifier{Root: root},
		resolver.NewFetcher(root, time.Second),
		maxFrames, maxBytes,
	)
}

func plainProject() *models.Project {
	return &models.Project{ID: 7, Key: "k", Origin: "*"}
}

const threeFrameStack = "Error: boom\n" +
	"    at capture (https://cdn.example.com/stacktrap.min.js:1:100)\n" +
	"    at handleClick (/srv/app/src/ui.js:40:11)\n" +
	"    at main (/srv/app/src/index.js:3:1)\n"

func TestNormalize_HidesProbeFramesAndFingerprintsTheRest(t *testing.T) {
	n := testNormalizer("/srv/app", 10, 100_000)

	got, err := n.Normalize(context.Background(), plainProject(),
		models.Report{Name: "Error", Message: "boom", Stack: threeFrameStack}, "ua")
	require.NoError(t, err)

	require.Len(t, got.Payload.Stack, 3)
	assert.True(t, got.Payload.Stack[0].Hide, "probe bundle frame must be hidden")
	assert.False(t, got.Payload.Stack[1].Hide)
	assert.False(t, got.Payload.Stack[2].Hide)

	// the fingerprint must only see frames 1-2
	withoutProbe := "at handleClick (/srv/app/src/ui.js:40:11)\n" +
		"at main (/srv/app/src/index.js:3:1)"
	other, err := n.Normalize(context.Background(), plainProject(),
		models.Report{Name: "Error", Message: "boom", Stack: withoutProbe}, "ua")
	require.NoError(t, err)
	assert.Equal(t, other.Fingerprint, got.Fingerprint)
}

func TestNormalize_ExtensionFramesHidden(t *testing.T) {
	n := testNormalizer("/srv/app", 10, 100_000)
	got, err := n.Normalize(context.Background(), plainProject(),
		models.Report{Stack: "at inject (chrome-extension://abcdef/content.js:1:1)"}, "ua")
	require.NoError(t, err)
	require.Len(t, got.Payload.Stack, 1)
	assert.True(t, got.Payload.Stack[0].Hide)
}

func TestNormalize_TruncatesToMaxFrames(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("    at fn (/srv/app/a.js:1:1)\n")
	}

	n := testNormalizer("/srv/app", 5, 100_000)
	got, err := n.Normalize(context.Background(), plainProject(),
		models.Report{Stack: b.String()}, "ua")
	require.NoError(t, err)
	assert.Len(t, got.Payload.Stack, 5)
}

func TestNormalize_SourceExcerptWindow(t *testing.T) {
	root := t.TempDir()
	var b strings.Builder
	for i := 1; i <= 40; i++ {
		b.WriteString(strings.Repeat("x", 3))
		b.WriteString("\n")
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "app.js"), []byte(b.String()), 0o644))

	project := &models.Project{ID: 1, Key: "k", Origin: "*", Scrape: true}
	n := testNormalizer(root, 10, 100_000)
	got, err := n.Normalize(context.Background(), project,
		models.Report{Stack: "at fn (src/app.js:20:2)"}, "ua")
	require.NoError(t, err)

	require.Len(t, got.Payload.Stack, 1)
	pf := got.Payload.Stack[0]
	assert.Equal(t, 15, pf.SourceStart)
	assert.Len(t, pf.SourceLines, 11, "five lines either side of the resolved line")
}

func TestNormalize_ExcerptClampedAtTopOfFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.js"), []byte("l1\nl2\nl3\nl4\n"), 0o644))

	project := &models.Project{ID: 1, Key: "k", Origin: "*", Scrape: true}
	n := testNormalizer(root, 10, 100_000)
	got, err := n.Normalize(context.Background(), project,
		models.Report{Stack: "at fn (a.js:2:1)"}, "ua")
	require.NoError(t, err)

	pf := got.Payload.Stack[0]
	assert.Equal(t, 1, pf.SourceStart)
	assert.Equal(t, "l2", pf.SourceLines[1])
}

func TestNormalize_SizeBackpressure(t *testing.T) {
	root := t.TempDir()
	content := strings.Repeat("some source line\n", 50)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.js"), []byte(content), 0o644))

	project := &models.Project{ID: 1, Key: "k", Origin: "*", Scrape: true}
	report := models.Report{Name: "Error", Stack: "at fn (big.js:25:1)"}

	// generous budget keeps the excerpt
	full, err := testNormalizer(root, 10, 100_000).
		Normalize(context.Background(), project, report, "ua")
	require.NoError(t, err)
	require.NotEmpty(t, full.Payload.Stack[0].SourceLines)

	// a budget between stripped and full size forces the strip
	stripped := full.Payload
	stripped.StripSource()
	strippedData, err := json.Marshal(stripped)
	require.NoError(t, err)
	require.Less(t, len(strippedData), len(full.Data), "stripping must strictly shrink the payload")

	budget := (len(strippedData) + len(full.Data)) / 2
	mid, err := testNormalizer(root, 10, budget).
		Normalize(context.Background(), project, report, "ua")
	require.NoError(t, err)
	assert.Empty(t, mid.Payload.Stack[0].SourceLines)
	assert.LessOrEqual(t, len(mid.Data), budget)

	// over budget even after stripping: deny
	_, err = testNormalizer(root, 10, 10).
		Normalize(context.Background(), project, report, "ua")
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestNormalize_ResolveFailureDegradesToUnresolvedFrame(t *testing.T) {
	project := &models.Project{ID: 1, Key: "k", Origin: "*", Scrape: true}
	n := testNormalizer(t.TempDir(), 10, 100_000)

	got, err := n.Normalize(context.Background(), project,
		models.Report{Stack: "at fn (missing.js:1:1)"}, "ua")
	require.NoError(t, err)
	require.Len(t, got.Payload.Stack, 1)
	assert.NotEmpty(t, got.Payload.Stack[0].Error)
	assert.Empty(t, got.Payload.Stack[0].SourceLines)
}

func TestNormalize_DerivesOSFromUserAgent(t *testing.T) {
	n := testNormalizer("/srv/app", 10, 100_000)
	report := models.Report{Name: "Error", Stack: "at fn (/srv/app/a.js:1:1)"}

	tests := []struct {
		agent  string
		wantOS string
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36", "Windows"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15", "Mac"},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0", "Linux"},
	}
	for _, tt := range tests {
		got, err := n.Normalize(context.Background(), plainProject(), report, tt.agent)
		require.NoError(t, err)
		assert.Contains(t, got.Payload.OS, tt.wantOS, "agent %q", tt.agent)
		assert.Equal(t, tt.agent, got.Payload.Agent)
	}

	// no agent, no guess
	got, err := n.Normalize(context.Background(), plainProject(), report, "")
	require.NoError(t, err)
	assert.Empty(t, got.Payload.OS)
}

func TestFingerprint_Determinism(t *testing.T) {
	frames := []models.StackFrame{
		{Callee: "foo", File: "/a.js", Line: 1, Column: 2},
		{Callee: "bar", File: "/b.js", Line: 3, Column: 4},
	}
	fp1 := Fingerprint(1, frames, "error", "Error", "x")
	fp2 := Fingerprint(1, frames, "error", "Error", "x")
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 8)

	// different project, same stack: different group
	assert.NotEqual(t, fp1, Fingerprint(2, frames, "error", "Error", "x"))
}

func TestFingerprint_FallbackWithoutVisibleFrames(t *testing.T) {
	hidden := []models.StackFrame{{Callee: "capture", File: "/probe.js", Hide: true}}

	fp := Fingerprint(1, hidden, "error", "TypeError", "x is null")
	assert.Equal(t, Fingerprint(1, nil, "error", "TypeError", "x is null"), fp)
	assert.NotEqual(t, Fingerprint(1, nil, "error", "TypeError", "other"), fp)
}
