package models

// Event is one accepted error report, append-only. Data holds the serialized
// EventPayload, optionally zstd-compressed by the store.
type Event struct {
	ID        int64  `db:"id"         json:"id"`
	ProjectID int64  `db:"project_id" json:"project_id"`
	IssueID   int64  `db:"issue_id"   json:"issue_id"`
	Ts        int64  `db:"ts"         json:"ts"` // ms since epoch
	Type      string `db:"type"       json:"type"`
	Data      []byte `db:"data"       json:"data,omitempty"`
}

// EventPayload is the JSON document persisted in event.data.
type EventPayload struct {
	Name    string            `json:"name,omitempty"`
	Message string            `json:"message,omitempty"`
	URI     string            `json:"uri,omitempty"`
	Stack   []PayloadFrame    `json:"stack,omitempty"`
	OS      string            `json:"os,omitempty"`
	Agent   string            `json:"agent,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// PayloadFrame is the display-ready form of a StackFrame: classification
// results plus an optional source excerpt window centered on the resolved
// line. SourceStart is the 1-based line number of SourceLines[0].
type PayloadFrame struct {
	Callee      string `json:"callee,omitempty"`
	CalleeShort string `json:"calleeShort,omitempty"`
	File        string `json:"file,omitempty"`
	FileShort   string `json:"fileShort,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	Line        int    `json:"line,omitempty"`
	Column      int    `json:"column,omitempty"`
	Native      bool   `json:"native,omitempty"`
	ThirdParty  bool   `json:"thirdParty,omitempty"`
	Hide        bool   `json:"hide,omitempty"`
	Error       string `json:"error,omitempty"`

	SourceLines []string `json:"sourceLines,omitempty"`
	SourceStart int      `json:"sourceStart,omitempty"`
}

// StripSource drops the excerpt window, keeping file/line/callee. Used when
// the serialized payload exceeds the event size budget.
func (p *EventPayload) StripSource() {
	for i := range p.Stack {
		p.Stack[i].SourceLines = nil
		p.Stack[i].SourceStart = 0
	}
}
