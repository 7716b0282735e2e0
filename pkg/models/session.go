package models

// Session is a privacy-bounded pseudo-identity: sha256 of the rotating daily
// salt with origin, client IP and user agent, truncated to 16 bytes. At most
// one row per identity per project per day; E flips false→true once, when the
// first error event is attributed to the session.
type Session struct {
	ID        []byte `db:"id"         json:"id"`
	ProjectID int64  `db:"project_id" json:"project_id"`
	Ts        int64  `db:"ts"         json:"ts"` // seconds since epoch
	E         bool   `db:"e"          json:"e"`
}

// GraphBucket is one hourly session_graph counter row: c sessions started,
// e errors seen, for (project_id, ts) with ts truncated to the hour.
type GraphBucket struct {
	ProjectID int64 `db:"project_id" json:"project_id"`
	Ts        int64 `db:"ts"         json:"ts"`
	C         int64 `db:"c"          json:"c"`
	E         int64 `db:"e"          json:"e"`
}
