// Package stack turns raw, runtime-specific stack-trace text into structured
// frames and classifies their paths. It does no I/O and never fails: lines
// that match no known frame shape are dropped.
package stack

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/probelab/stacktrap/pkg/models"
)

// InputKind tags the variants of RawInput.
type InputKind int

const (
	KindNone InputKind = iota
	KindText
	KindFrames
	KindSyntaxError
)

// RawInput is the tagged form of whatever a probe captured: plain stack text,
// pre-split frame lines, or the formatted representation of a syntax error
// (which has no conventional stack and gets a synthetic frame instead).
type RawInput struct {
	Kind   InputKind
	Text   string
	Frames []string
}

func Text(s string) RawInput         { return RawInput{Kind: KindText, Text: s} }
func Frames(lines []string) RawInput { return RawInput{Kind: KindFrames, Frames: lines} }
func SyntaxError(s string) RawInput  { return RawInput{Kind: KindSyntaxError, Text: s} }
func None() RawInput                 { return RawInput{Kind: KindNone} }

// The frame grammar ladder, tried in priority order, first match wins.
//
//	at foo (eval at bar (app.js:1:2), <anonymous>:3:4)   V8 eval frame
//	at foo (app.js:10:5)                                  V8 frame
//	foo@app.js:10:5                                       Firefox / Safari
//	app.js:10:5                                           bare location
var (
	reEval = regexp.MustCompile(`^at (.+?) \(eval at [^(]*\(([^()]*)\)`)
	reV8   = regexp.MustCompile(`^at (.+?) \((.*)\)$`)
	reAt   = regexp.MustCompile(`^([^@]*)@(.+)$`)
	reBare = regexp.MustCompile(`^(?:at )?(.+?):(\d+):(\d+)$`)

	reLineCol = regexp.MustCompile(`^(.*?):(\d+):(\d+)$`)
	reLine    = regexp.MustCompile(`^(.*?):(\d+)$`)
)

type extractor func(m []string) (models.StackFrame, bool)

// ladder pairs each pattern with its extractor so the matching policy stays
// declarative and testable per pattern.
var ladder = []struct {
	re      *regexp.Regexp
	extract extractor
}{
	{reEval, func(m []string) (models.StackFrame, bool) {
		return frameAt(m[1], m[2]), true
	}},
	{reV8, func(m []string) (models.StackFrame, bool) {
		return frameAt(m[1], m[2]), true
	}},
	{reAt, func(m []string) (models.StackFrame, bool) {
		return frameAt(strings.TrimSpace(m[1]), m[2]), true
	}},
	{reBare, func(m []string) (models.StackFrame, bool) {
		line, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		return models.StackFrame{File: cleanPath(m[1]), Line: line, Column: col}, true
	}},
}

// Parse converts raw input into an ordered frame sequence. Unparsable lines
// are skipped; absent input yields an empty slice.
func Parse(in RawInput) []models.StackFrame {
	var lines []string
	switch in.Kind {
	case KindText:
		lines = strings.Split(in.Text, "\n")
	case KindFrames:
		lines = in.Frames
	case KindSyntaxError:
		lines = strings.Split(in.Text, "\n")
	default:
		return []models.StackFrame{}
	}

	frames := make([]models.StackFrame, 0, len(lines))
	if in.Kind == KindSyntaxError {
		if f, ok := syntheticSyntaxFrame(lines); ok {
			frames = append(frames, f)
		}
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		for _, p := range ladder {
			if p.re == reAt && strings.HasPrefix(line, "at ") {
				continue
			}
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if f, ok := p.extract(m); ok {
				frames = append(frames, f)
			}
			break
		}
	}
	return frames
}

// frameAt builds a frame from a callee and a raw location literal
// (file:line:col, file:line, a bare file, or "native").
func frameAt(callee, loc string) models.StackFrame {
	f := models.StackFrame{Callee: strings.TrimSpace(callee)}
	loc = strings.TrimSpace(loc)

	switch {
	case loc == "native":
		f.Native = true
	case loc == "" || loc == "<anonymous>":
		// no location captured
	default:
		if m := reLineCol.FindStringSubmatch(loc); m != nil {
			f.File = cleanPath(m[1])
			f.Line, _ = strconv.Atoi(m[2])
			f.Column, _ = strconv.Atoi(m[3])
		} else if m := reLine.FindStringSubmatch(loc); m != nil {
			f.File = cleanPath(m[1])
			f.Line, _ = strconv.Atoi(m[2])
		} else {
			f.File = cleanPath(loc)
		}
	}

	// Built-in array methods surface without a usable location on some
	// runtimes; treat them as native.
	if f.File == "" && f.Line == 0 && strings.SplitN(f.Callee, ".", 2)[0] == "Array" {
		f.Native = true
	}
	return f
}

// cleanPath normalizes separators so Windows-captured stacks group with
// everything else.
func cleanPath(p string) string {
	return strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
}

// syntheticSyntaxFrame recovers file, line and a caret column from a
// formatted syntax error:
//
//	/app/broken.js:3
//	const = 5;
//	      ^
//	SyntaxError: Unexpected token '='
//
// The caret-derived column is implementation-defined across runtimes; absence
// of a caret leaves the column unset.
func syntheticSyntaxFrame(lines []string) (models.StackFrame, bool) {
	if len(lines) == 0 {
		return models.StackFrame{}, false
	}
	m := reLine.FindStringSubmatch(strings.TrimRight(lines[0], "\r"))
	if m == nil {
		return models.StackFrame{}, false
	}
	f := models.StackFrame{File: cleanPath(m[1])}
	f.Line, _ = strconv.Atoi(m[2])

	for _, raw := range lines[1:] {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "^" {
			f.Column = len(line) - len(trimmed) + 1
			break
		}
		if strings.Contains(line, "Error:") {
			break
		}
	}
	return f, true
}
