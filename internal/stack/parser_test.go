package stack

import (
	"testing"

	"github.com/probelab/stacktrap/pkg/models"
)

func TestParse_SingleFrames(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected models.StackFrame
	}{
		{
			name:     "v8 frame with absolute path",
			line:     "at foo (/app/bar.js:10:5)",
			expected: models.StackFrame{Callee: "foo", File: "/app/bar.js", Line: 10, Column: 5},
		},
		{
			name:     "v8 frame with url and port",
			line:     "at render (http://localhost:8080/static/app.js:3:17)",
			expected: models.StackFrame{Callee: "render", File: "http://localhost:8080/static/app.js", Line: 3, Column: 17},
		},
		{
			name:     "v8 eval frame keeps the inner location",
			line:     "at foo (eval at run (/app/bar.js:10:5), <anonymous>:1:30)",
			expected: models.StackFrame{Callee: "foo", File: "/app/bar.js", Line: 10, Column: 5},
		},
		{
			name:     "firefox style",
			line:     "foo@http://cdn.example.com/bar.js:10:5",
			expected: models.StackFrame{Callee: "foo", File: "http://cdn.example.com/bar.js", Line: 10, Column: 5},
		},
		{
			name:     "safari style without callee",
			line:     "@app.js:2:1",
			expected: models.StackFrame{File: "app.js", Line: 2, Column: 1},
		},
		{
			name:     "native builtin",
			line:     "at Array.forEach (native)",
			expected: models.StackFrame{Callee: "Array.forEach", Native: true},
		},
		{
			name:     "array builtin without location",
			line:     "at Array.map (<anonymous>)",
			expected: models.StackFrame{Callee: "Array.map", Native: true},
		},
		{
			name:     "bare location with at prefix",
			line:     "at /app/util.js:7:2",
			expected: models.StackFrame{File: "/app/util.js", Line: 7, Column: 2},
		},
		{
			name:     "file and line without column",
			line:     "at boot (app.js:12)",
			expected: models.StackFrame{Callee: "boot", File: "app.js", Line: 12},
		},
		{
			name:     "backslashes are normalized",
			line:     `at main (C:\app\src\index.js:4:9)`,
			expected: models.StackFrame{Callee: "main", File: "C:/app/src/index.js", Line: 4, Column: 9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := Parse(Text(tt.line))
			if len(frames) != 1 {
				t.Fatalf("expected 1 frame, got %d", len(frames))
			}
			got := frames[0]
			if got != tt.expected {
				t.Errorf("\nexpected: %+v\ngot:      %+v", tt.expected, got)
			}
		})
	}
}

func TestParse_MalformedLinesDropped(t *testing.T) {
	for _, line := range []string{
		"not a stack frame",
		"Error: something broke",
		"",
		"   ",
	} {
		if frames := Parse(Text(line)); len(frames) != 0 {
			t.Errorf("line %q: expected no frames, got %d", line, len(frames))
		}
	}
}

func TestParse_MultilineKeepsOrderAndSkipsHeader(t *testing.T) {
	raw := "TypeError: x is not a function\n" +
		"    at foo (/app/a.js:1:2)\n" +
		"    garbage line\n" +
		"    at bar (/app/b.js:3:4)\n"

	frames := Parse(Text(raw))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %+v", len(frames), frames)
	}
	if frames[0].Callee != "foo" || frames[1].Callee != "bar" {
		t.Errorf("frame order wrong: %+v", frames)
	}
}

func TestParse_NoInput(t *testing.T) {
	if frames := Parse(None()); len(frames) != 0 {
		t.Errorf("expected empty result for absent input, got %d frames", len(frames))
	}
}

func TestParse_FrameLines(t *testing.T) {
	frames := Parse(Frames([]string{"at foo (/a.js:1:1)", "at bar (/b.js:2:2)"}))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
}

func TestParse_SyntaxErrorSyntheticFrame(t *testing.T) {
	raw := "/app/broken.js:3\n" +
		"const = 5;\n" +
		"      ^\n" +
		"\n" +
		"SyntaxError: Unexpected token '='\n" +
		"    at compileFunction (node:vm:360:18)\n"

	frames := Parse(SyntaxError(raw))
	if len(frames) < 2 {
		t.Fatalf("expected synthetic frame plus stack, got %d frames", len(frames))
	}

	synthetic := frames[0]
	if synthetic.File != "/app/broken.js" || synthetic.Line != 3 {
		t.Errorf("synthetic frame location wrong: %+v", synthetic)
	}
	if synthetic.Column != 7 {
		t.Errorf("expected caret column 7, got %d", synthetic.Column)
	}
	if frames[1].Callee != "compileFunction" {
		t.Errorf("stack frames after synthetic frame wrong: %+v", frames[1])
	}
}

func TestParse_SyntaxErrorWithoutCaret(t *testing.T) {
	raw := "/app/broken.js:9\nSyntaxError: Unexpected end of input\n"
	frames := Parse(SyntaxError(raw))
	if len(frames) != 1 {
		t.Fatalf("expected only the synthetic frame, got %d", len(frames))
	}
	if frames[0].Line != 9 || frames[0].Column != 0 {
		t.Errorf("expected line 9 and no column, got %+v", frames[0])
	}
}
