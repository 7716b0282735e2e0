// Package store is the embedded persistence layer: schema, transaction
// boundary, WAL-mode durability and scheduled maintenance, backed by SQLite.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/probelab/stacktrap/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	CreateProject(ctx context.Context, p *models.Project) error
	GetProjectByKey(ctx context.Context, key string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)

	// DailySalt returns the secret for day (YYYYMMDD), creating it lazily
	// on first use.
	DailySalt(ctx context.Context, day string) (string, error)
	PurgeStaleSalts(ctx context.Context, now time.Time) (int64, error)
	// PurgeOldCounters drops daily accepted-event counters past the
	// retention horizon; run by maintenance.
	PurgeOldCounters(ctx context.Context, now time.Time) (int64, error)

	RecordEvent(ctx context.Context, p RecordEventParams) (*RecordEventResult, error)
	RecordSession(ctx context.Context, p RecordSessionParams) error
	CountDenied(ctx context.Context, ts time.Time, kind, key string) error

	GetIssue(ctx context.Context, id int64) (*models.Issue, error)
	ListIssues(ctx context.Context, projectID int64) ([]*models.Issue, error)
	ListIssueEvents(ctx context.Context, issueID int64) ([]*models.Event, error)
	SetIssueIgnored(ctx context.Context, id int64, ignored bool) error
	SetIssueDone(ctx context.Context, id int64, done bool) error
	GetSession(ctx context.Context, projectID int64, id []byte) (*models.Session, error)
	GetGraph(ctx context.Context, projectID int64) ([]*models.GraphBucket, error)
	GetDenied(ctx context.Context, ts time.Time, kind, key string) (int64, error)

	// Optimize refreshes query-planner statistics; run by maintenance.
	Optimize(ctx context.Context) error
}

// RecordEventParams is everything the event transaction writes.
type RecordEventParams struct {
	ProjectID int64
	Hash      []byte
	SessionID []byte
	Ts        time.Time
	Type      string
	Name      string
	Message   string
	URI       string
	Data      []byte
}

// RecordEventResult reports what the transaction did.
type RecordEventResult struct {
	IssueID    int64
	Created    bool // a new issue row was inserted
	Suppressed bool // issue is ignored; nothing was written
}

// RecordSessionParams records a session beacon with no event attached.
type RecordSessionParams struct {
	ProjectID int64
	SessionID []byte
	Ts        time.Time
}
