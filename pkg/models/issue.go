package models

// Issue is the deduplicated representation of one distinct error fingerprint
// within a project. Created on first occurrence; every later event with the
// same fingerprint bumps ts_last and the counters, never creating a second
// row. Deletion is an admin operation outside the ingestion path.
type Issue struct {
	ID        int64  `db:"id"         json:"id"`
	Hash      []byte `db:"hash"       json:"hash"`
	ProjectID int64  `db:"project_id" json:"project_id"`
	TsFirst   int64  `db:"ts_first"   json:"ts_first"` // ms since epoch
	TsLast    int64  `db:"ts_last"    json:"ts_last"`  // ms since epoch
	EventC    int64  `db:"event_c"    json:"event_c"`
	SessC     int64  `db:"sess_c"     json:"sess_c"`
	Ignore    bool   `db:"ignore"     json:"ignore"`
	Done      bool   `db:"done"       json:"done"`
	Name      string `db:"name"       json:"name"`
	Message   string `db:"message"    json:"message"`
	URI       string `db:"uri"        json:"uri"`
}
