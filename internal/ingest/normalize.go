// Package ingest normalizes raw error reports into fingerprinted events and
// runs the transactional write path that maintains issue and session
// aggregates.
package ingest

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/mssola/useragent"
	"golang.org/x/sync/errgroup"

	"github.com/probelab/stacktrap/internal/resolver"
	"github.com/probelab/stacktrap/internal/stack"
	"github.com/probelab/stacktrap/pkg/models"
)

// ErrPayloadTooLarge means the serialized event still exceeds the byte budget
// after source excerpts were stripped; the event must be denied, not
// persisted truncated.
var ErrPayloadTooLarge = errors.New("event payload too large")

// sourceWindow is the half-height of the excerpt around a resolved line.
const sourceWindow = 5

// Probe bundles and browser extensions produce frames that belong to the
// capture machinery, not the application. They stay in the persisted stack
// but are hidden from the fingerprint and default display.
var probeBundles = []string{
	"/stacktrap.js",
	"/stacktrap.min.js",
	"/probe.js",
}

var extensionSchemes = []string{
	"chrome-extension://",
	"moz-extension://",
	"safari-extension://",
	"safari-web-extension://",
}

// Normalizer orchestrates parser, classifier and resolver over one report's
// whole stack and produces the canonical grouping fingerprint.
type Normalizer struct {
	classifier stack.Classifier
	fetcher    *resolver.Fetcher
	maxFrames  int
	maxBytes   int
}

func NewNormalizer(classifier stack.Classifier, fetcher *resolver.Fetcher, maxFrames, maxBytes int) *Normalizer {
	return &Normalizer{
		classifier: classifier,
		fetcher:    fetcher,
		maxFrames:  maxFrames,
		maxBytes:   maxBytes,
	}
}

// NormalizedEvent is the persistable outcome of normalization.
type NormalizedEvent struct {
	Payload     models.EventPayload
	Data        []byte // serialized Payload, within budget
	Fingerprint []byte
}

// Normalize parses the report's stack, optionally resolves original sources
// (when the project opted in to scraping), hides probe frames, attaches
// source excerpts, enforces the byte budget and fingerprints the result.
func (n *Normalizer) Normalize(ctx context.Context, project *models.Project, report models.Report, agent string) (*NormalizedEvent, error) {
	frames := stack.Parse(rawInput(report))
	if len(frames) > n.maxFrames {
		// earliest frames are closest to the throw site
		frames = frames[:n.maxFrames]
	}

	for i := range frames {
		if i == 0 && frames[i].File == report.URI {
			frames[i].Index = true
		}
		frames[i] = n.classifier.Classify(frames[i])
	}

	if project.Scrape && len(frames) > 0 {
		n.resolveAll(ctx, frames)
	}

	for i := range frames {
		frames[i].Hide = hidden(frames[i])
	}

	payload := models.EventPayload{
		Name:    report.Name,
		Message: report.Message,
		URI:     report.URI,
		Stack:   payloadFrames(frames),
		OS:      osFromAgent(agent),
		Agent:   agent,
		Meta:    report.Meta,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	if len(data) > n.maxBytes {
		payload.StripSource()
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal stripped payload: %w", err)
		}
		if len(data) > n.maxBytes {
			return nil, ErrPayloadTooLarge
		}
	}

	return &NormalizedEvent{
		Payload:     payload,
		Data:        data,
		Fingerprint: Fingerprint(project.ID, frames, report.Type, report.Name, report.Message),
	}, nil
}

// resolveAll resolves every frame concurrently through one fresh cache, then
// resets it: fetches are shared within the event and never across events.
func (n *Normalizer) resolveAll(ctx context.Context, frames []models.StackFrame) {
	cache := resolver.NewCache()
	res := resolver.New(n.fetcher, cache)
	defer cache.Reset()

	g, gctx := errgroup.WithContext(ctx)
	for i := range frames {
		g.Go(func() error {
			frames[i] = res.Resolve(gctx, frames[i])
			return nil
		})
	}
	g.Wait()
}

func rawInput(report models.Report) stack.RawInput {
	if report.Stack == "" {
		return stack.None()
	}
	if report.Name == "SyntaxError" {
		return stack.SyntaxError(report.Stack)
	}
	return stack.Text(report.Stack)
}

// osFromAgent extracts the operating system from the User-Agent header.
// Unrecognized agents yield "", not a guess.
func osFromAgent(agent string) string {
	if agent == "" {
		return ""
	}
	info := useragent.New(agent).OSInfo()
	return strings.TrimSpace(info.FullName)
}

func hidden(f models.StackFrame) bool {
	for _, scheme := range extensionSchemes {
		if strings.HasPrefix(f.File, scheme) {
			return true
		}
	}
	for _, bundle := range probeBundles {
		if strings.HasSuffix(f.File, bundle) || f.File == strings.TrimPrefix(bundle, "/") {
			return true
		}
	}
	return false
}

// payloadFrames builds the display-ready list, attaching a ±5 line excerpt
// window centered on the resolved line when one is available.
func payloadFrames(frames []models.StackFrame) []models.PayloadFrame {
	out := make([]models.PayloadFrame, 0, len(frames))
	for _, f := range frames {
		pf := models.PayloadFrame{
			Callee:      f.Callee,
			CalleeShort: f.CalleeShort,
			File:        f.File,
			FileShort:   f.FileShort,
			FileName:    f.FileName,
			Line:        f.Line,
			Column:      f.Column,
			Native:      f.Native,
			ThirdParty:  f.ThirdParty,
			Hide:        f.Hide,
			Error:       f.ResolveError,
		}
		if f.SourceFile != nil && f.SourceLine > 0 {
			lines := f.SourceFile.Lines()
			start := f.SourceLine - sourceWindow
			if start < 1 {
				start = 1
			}
			end := f.SourceLine + sourceWindow
			if end > len(lines) {
				end = len(lines)
			}
			if start <= end {
				window := make([]string, 0, end-start+1)
				for ln := start; ln <= end; ln++ {
					window = append(window, f.SourceFile.Line(ln))
				}
				pf.SourceLines = window
				pf.SourceStart = start
			}
		}
		out = append(out, pf)
	}
	return out
}

// Fingerprint derives the grouping hash: project id plus one
// callee@file:line:col line per non-hidden frame, or the
// projectID:type:name:message fallback when no visible frames exist. xxhash
// is seedless here, so equal normalized stacks always produce equal bytes.
func Fingerprint(projectID int64, frames []models.StackFrame, typ, name, message string) []byte {
	var b strings.Builder
	visible := 0
	for _, f := range frames {
		if f.Hide {
			continue
		}
		if visible == 0 {
			b.WriteString(strconv.FormatInt(projectID, 10))
		}
		fmt.Fprintf(&b, "\n%s@%s:%d:%d", f.Callee, f.File, f.Line, f.Column)
		visible++
	}
	if visible == 0 {
		b.Reset()
		fmt.Fprintf(&b, "%d:%s:%s:%s", projectID, typ, name, message)
	}

	sum := xxhash.Sum64String(b.String())
	hash := make([]byte, 8)
	binary.BigEndian.PutUint64(hash, sum)
	return hash
}
