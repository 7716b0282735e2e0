package models

// Report is the wire body a probe POSTs to the ingestion endpoint. Stack is
// whatever native format the runtime produced; the parser tolerates all of
// them or none. Field lengths are validated by the engine, not the router.
type Report struct {
	Name    string            `json:"name,omitempty"`
	Message string            `json:"message,omitempty"`
	Type    string            `json:"type,omitempty"`
	URI     string            `json:"uri,omitempty"`
	Stack   string            `json:"stack,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}
