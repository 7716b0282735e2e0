package ingest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/probelab/stacktrap/internal/store"
	"github.com/probelab/stacktrap/pkg/models"
)

// Denial reasons. All of them are counted per project key (or under the
// "invalid" bucket when the key itself is malformed) before being returned.
var (
	ErrUnknownProject = errors.New("unknown project key")
	ErrOriginDenied   = errors.New("origin not allowed")
	ErrStackTooLong   = errors.New("stack text too long")
	ErrInvalidReport  = errors.New("invalid report field")
)

const (
	maxFieldChars = 1024
	maxMetaPairs  = 32
)

var reProjectKey = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Engine validates incoming reports, derives the session identity and drives
// the transactional write path.
type Engine struct {
	store         store.Store
	norm          *Normalizer
	maxStackChars int
}

func NewEngine(s store.Store, norm *Normalizer, maxStackChars int) *Engine {
	return &Engine{store: s, norm: norm, maxStackChars: maxStackChars}
}

// IngestRequest is one inbound error report with its transport context.
type IngestRequest struct {
	ProjectKey string
	Origin     string
	IP         string
	UserAgent  string
	Ts         time.Time
	Report     models.Report
}

// Receipt reports what ingestion did with an accepted event.
type Receipt struct {
	IssueID    int64
	NewIssue   bool
	Suppressed bool
}

// Ingest runs the full pipeline: authorize, validate, normalize, derive the
// session identity, then one all-or-nothing store transaction. A returned
// error is a denial; the event was not persisted and the denial was counted.
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (*Receipt, error) {
	project, err := e.authorize(ctx, "event", req.ProjectKey, req.Origin, req.Ts)
	if err != nil {
		return nil, err
	}

	if err := e.validate(req.Report); err != nil {
		e.deny(ctx, "event", req.ProjectKey, req.Ts)
		return nil, err
	}

	norm, err := e.norm.Normalize(ctx, project, req.Report, req.UserAgent)
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			e.deny(ctx, "event", req.ProjectKey, req.Ts)
		}
		return nil, err
	}

	sessionID, err := e.sessionID(ctx, req.Origin, req.IP, req.UserAgent, req.Ts)
	if err != nil {
		return nil, err
	}

	result, err := e.store.RecordEvent(ctx, store.RecordEventParams{
		ProjectID: project.ID,
		Hash:      norm.Fingerprint,
		SessionID: sessionID,
		Ts:        req.Ts,
		Type:      req.Report.Type,
		Name:      req.Report.Name,
		Message:   req.Report.Message,
		URI:       req.Report.URI,
		Data:      norm.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}
	return &Receipt{
		IssueID:    result.IssueID,
		NewIssue:   result.Created,
		Suppressed: result.Suppressed,
	}, nil
}

// PingRequest is a session beacon: it proves a runtime instance is alive
// without carrying an error.
type PingRequest struct {
	ProjectKey string
	Origin     string
	IP         string
	UserAgent  string
	Ts         time.Time
}

// Ping records an error-free session for the request's pseudo-identity.
func (e *Engine) Ping(ctx context.Context, req PingRequest) error {
	project, err := e.authorize(ctx, "ping", req.ProjectKey, req.Origin, req.Ts)
	if err != nil {
		return err
	}

	sessionID, err := e.sessionID(ctx, req.Origin, req.IP, req.UserAgent, req.Ts)
	if err != nil {
		return err
	}

	if err := e.store.RecordSession(ctx, store.RecordSessionParams{
		ProjectID: project.ID,
		SessionID: sessionID,
		Ts:        req.Ts,
	}); err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

// authorize resolves the project key and checks the origin allow-list,
// counting denials under kind.
func (e *Engine) authorize(ctx context.Context, kind, key, origin string, ts time.Time) (*models.Project, error) {
	project, err := e.store.GetProjectByKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		e.deny(ctx, kind, key, ts)
		return nil, ErrUnknownProject
	}
	if err != nil {
		return nil, fmt.Errorf("lookup project: %w", err)
	}

	if !originAllowed(project.Origin, origin) {
		e.deny(ctx, kind, key, ts)
		return nil, ErrOriginDenied
	}
	return project, nil
}

func (e *Engine) validate(r models.Report) error {
	if len(r.Stack) > e.maxStackChars {
		return ErrStackTooLong
	}
	for _, field := range []string{r.Name, r.Message, r.Type, r.URI} {
		if len(field) > maxFieldChars {
			return ErrInvalidReport
		}
	}
	if len(r.Meta) > maxMetaPairs {
		return ErrInvalidReport
	}
	for k, v := range r.Meta {
		if len(k) > maxFieldChars || len(v) > maxFieldChars {
			return ErrInvalidReport
		}
	}
	return nil
}

// deny bumps the per-project denial counter. Counting failures are logged
// and swallowed so a denial can never feed back into another denial.
func (e *Engine) deny(ctx context.Context, kind, key string, ts time.Time) {
	if !reProjectKey.MatchString(key) {
		key = "invalid"
	}
	if err := e.store.CountDenied(ctx, ts, kind, key); err != nil {
		slog.Error("count denial failed", "kind", kind, "error", err)
	}
}

// sessionID hashes the rotating daily salt with the request's origin, IP and
// user agent. The salt is retained for one prior day only, which bounds how
// long the pseudo-identity stays linkable.
func (e *Engine) sessionID(ctx context.Context, origin, ip, agent string, ts time.Time) ([]byte, error) {
	salt, err := e.store.DailySalt(ctx, ts.UTC().Format("20060102"))
	if err != nil {
		return nil, fmt.Errorf("daily salt: %w", err)
	}
	return SessionID(salt, origin, ip, agent), nil
}

// SessionID derives the 16-byte session pseudo-identity.
func SessionID(salt, origin, ip, agent string) []byte {
	sum := sha256.Sum256([]byte(salt + "|" + origin + "|" + ip + "|" + agent))
	return sum[:16]
}

// originAllowed checks the request origin against the project's CSV
// allow-list; "*" admits everything. Scheme and surrounding whitespace are
// ignored, so "https://app.example.com" matches an "app.example.com" entry.
func originAllowed(allowList, origin string) bool {
	host := strings.TrimSpace(origin)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")

	for _, entry := range strings.Split(allowList, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "*" {
			return true
		}
		entry = strings.TrimPrefix(entry, "https://")
		entry = strings.TrimPrefix(entry, "http://")
		if entry != "" && strings.EqualFold(entry, host) {
			return true
		}
	}
	return false
}
