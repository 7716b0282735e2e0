package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/probelab/stacktrap/pkg/models"
)

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	res, err := s.writer.ExecContext(ctx,
		`INSERT INTO project (key, name, origin, scrape, tags) VALUES (?, ?, ?, ?, ?)`,
		p.Key, p.Name, p.Origin, boolInt(p.Scrape), p.Tags)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create project: %w", err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create project id: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProjectByKey(ctx context.Context, key string) (*models.Project, error) {
	var p models.Project
	var scrape int
	err := s.reader.QueryRowContext(ctx,
		`SELECT id, key, name, origin, scrape, tags FROM project WHERE key = ?`, key,
	).Scan(&p.ID, &p.Key, &p.Name, &p.Origin, &scrape, &p.Tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project by key: %w", err)
	}
	p.Scrape = scrape != 0
	return &p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT id, key, name, origin, scrape, tags FROM project ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		var p models.Project
		var scrape int
		if err := rows.Scan(&p.ID, &p.Key, &p.Name, &p.Origin, &scrape, &p.Tags); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.Scrape = scrape != 0
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// --- Daily salt ---

func saltKey(day string) string { return "salt" + day }

func (s *SQLiteStore) DailySalt(ctx context.Context, day string) (string, error) {
	k := saltKey(day)

	var v string
	err := s.reader.QueryRowContext(ctx, `SELECT v FROM meta WHERE k = ?`, k).Scan(&v)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("get daily salt: %w", err)
	}

	fresh := make([]byte, 16)
	if _, err := rand.Read(fresh); err != nil {
		return "", fmt.Errorf("generate daily salt: %w", err)
	}
	// INSERT OR IGNORE then re-read: two racing ingests agree on one salt.
	if _, err := s.writer.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta (k, v) VALUES (?, ?)`, k, hex.EncodeToString(fresh)); err != nil {
		return "", fmt.Errorf("store daily salt: %w", err)
	}
	if err := s.writer.QueryRowContext(ctx, `SELECT v FROM meta WHERE k = ?`, k).Scan(&v); err != nil {
		return "", fmt.Errorf("reread daily salt: %w", err)
	}
	return v, nil
}

// PurgeStaleSalts deletes salts older than yesterday's, bounding pseudo-
// identity linkability to two calendar days.
func (s *SQLiteStore) PurgeStaleSalts(ctx context.Context, now time.Time) (int64, error) {
	yesterday := saltKey(now.UTC().AddDate(0, 0, -1).Format("20060102"))
	res, err := s.writer.ExecContext(ctx,
		`DELETE FROM meta WHERE k LIKE 'salt%' AND k < ?`, yesterday)
	if err != nil {
		return 0, fmt.Errorf("purge stale salts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// counterRetentionDays bounds the daily accepted-event counters in meta.
// Salts rotate in two days; stats keep a quarter.
const counterRetentionDays = 90

// PurgeOldCounters deletes events<YYYYMMDD> counters older than the
// retention horizon.
func (s *SQLiteStore) PurgeOldCounters(ctx context.Context, now time.Time) (int64, error) {
	cutoff := "events" + now.UTC().AddDate(0, 0, -counterRetentionDays).Format("20060102")
	res, err := s.writer.ExecContext(ctx,
		`DELETE FROM meta WHERE k LIKE 'events%' AND k < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old counters: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- Ingestion transaction ---

// RecordEvent runs the whole per-event write inside one transaction: ignore
// suppression, session and hourly graph bookkeeping, issue upsert, event
// insert and the daily accepted counter. Any failure rolls everything back.
func (s *SQLiteStore) RecordEvent(ctx context.Context, p RecordEventParams) (*RecordEventResult, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	tsMs := p.Ts.UnixMilli()
	hour := p.Ts.UTC().Truncate(time.Hour).Unix()

	// a. look up the issue by fingerprint
	var issueID int64
	var ignored int
	err = tx.QueryRowContext(ctx,
		`SELECT id, "ignore" FROM issue WHERE project_id = ? AND hash = ?`,
		p.ProjectID, p.Hash).Scan(&issueID, &ignored)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup issue: %w", err)
	}
	if exists && ignored != 0 {
		// explicitly suppressed: drop silently, write nothing
		return &RecordEventResult{IssueID: issueID, Suppressed: true}, nil
	}

	// b. session bookkeeping
	if err := s.touchSession(ctx, tx, p.ProjectID, p.SessionID, p.Ts, hour, true); err != nil {
		return nil, err
	}

	// c. issue upsert + per-session issue attribution
	created := false
	if exists {
		if _, err := tx.ExecContext(ctx,
			`UPDATE issue SET ts_last = ?, event_c = event_c + 1, done = 0 WHERE id = ?`,
			tsMs, issueID); err != nil {
			return nil, fmt.Errorf("update issue: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO session_issue (id, issue_id) VALUES (?, ?)`,
			p.SessionID, issueID)
		if err != nil {
			return nil, fmt.Errorf("record session issue: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE issue SET sess_c = sess_c + 1 WHERE id = ?`, issueID); err != nil {
				return nil, fmt.Errorf("bump issue sessions: %w", err)
			}
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO issue (hash, project_id, ts_first, ts_last, name, message, uri)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.Hash, p.ProjectID, tsMs, tsMs, p.Name, p.Message, p.URI)
		if err != nil {
			return nil, fmt.Errorf("insert issue: %w", err)
		}
		issueID, err = res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert issue id: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO session_issue (id, issue_id) VALUES (?, ?)`,
			p.SessionID, issueID); err != nil {
			return nil, fmt.Errorf("record session issue: %w", err)
		}
		created = true
	}

	// d. append the event row
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO event (project_id, issue_id, ts, type, data) VALUES (?, ?, ?, ?, ?)`,
		p.ProjectID, issueID, tsMs, p.Type, s.codec.encode(p.Data)); err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	// e. daily accepted-event counter
	day := "events" + p.Ts.UTC().Format("20060102")
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (k, v) VALUES (?, '1')
		 ON CONFLICT(k) DO UPDATE SET v = CAST(v AS INTEGER) + 1`, day); err != nil {
		return nil, fmt.Errorf("bump daily counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit event: %w", err)
	}
	return &RecordEventResult{IssueID: issueID, Created: created}, nil
}

// RecordSession records an error-free session beacon.
func (s *SQLiteStore) RecordSession(ctx context.Context, p RecordSessionParams) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	hour := p.Ts.UTC().Truncate(time.Hour).Unix()
	if err := s.touchSession(ctx, tx, p.ProjectID, p.SessionID, p.Ts, hour, false); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// touchSession creates the session row on first sight (bumping the hourly
// bucket's session count) and flips e false→true, at most once, when an
// error event is attributed to an existing error-free session.
func (s *SQLiteStore) touchSession(ctx context.Context, tx *sql.Tx, projectID int64, sessionID []byte, ts time.Time, hour int64, isError bool) error {
	var hadError int
	err := tx.QueryRowContext(ctx,
		`SELECT e FROM session WHERE id = ? AND project_id = ?`,
		sessionID, projectID).Scan(&hadError)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session (id, project_id, ts, e) VALUES (?, ?, ?, ?)`,
			sessionID, projectID, ts.Unix(), boolInt(isError)); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if err := bumpGraph(ctx, tx, projectID, hour, 1, boolInt(isError)); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("lookup session: %w", err)
	case hadError == 0 && isError:
		if _, err := tx.ExecContext(ctx,
			`UPDATE session SET e = 1 WHERE id = ? AND project_id = ?`,
			sessionID, projectID); err != nil {
			return fmt.Errorf("flag session error: %w", err)
		}
		if err := bumpGraph(ctx, tx, projectID, hour, 0, 1); err != nil {
			return err
		}
	}
	return nil
}

func bumpGraph(ctx context.Context, tx *sql.Tx, projectID, hour int64, c, e int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO session_graph (project_id, ts, c, e) VALUES (?, ?, ?, ?)
		 ON CONFLICT(project_id, ts) DO UPDATE SET c = c + excluded.c, e = e + excluded.e`,
		projectID, hour, c, e)
	if err != nil {
		return fmt.Errorf("bump session graph: %w", err)
	}
	return nil
}

// --- Denial accounting ---

func (s *SQLiteStore) CountDenied(ctx context.Context, ts time.Time, kind, key string) error {
	day := ts.UTC().Truncate(24 * time.Hour).Unix()
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO daily_denied (ts, type, key, c) VALUES (?, ?, ?, 1)
		 ON CONFLICT(ts, type, key) DO UPDATE SET c = c + 1`,
		day, kind, key)
	if err != nil {
		return fmt.Errorf("count denied: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDenied(ctx context.Context, ts time.Time, kind, key string) (int64, error) {
	day := ts.UTC().Truncate(24 * time.Hour).Unix()
	var c int64
	err := s.reader.QueryRowContext(ctx,
		`SELECT c FROM daily_denied WHERE ts = ? AND type = ? AND key = ?`,
		day, kind, key).Scan(&c)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get denied: %w", err)
	}
	return c, nil
}

// --- Issues and events ---

const issueCols = `id, hash, project_id, ts_first, ts_last, event_c, sess_c, "ignore", done, name, message, uri`

func scanIssue(row interface{ Scan(...any) error }) (*models.Issue, error) {
	var i models.Issue
	var ignored, done int
	err := row.Scan(&i.ID, &i.Hash, &i.ProjectID, &i.TsFirst, &i.TsLast,
		&i.EventC, &i.SessC, &ignored, &done, &i.Name, &i.Message, &i.URI)
	if err != nil {
		return nil, err
	}
	i.Ignore = ignored != 0
	i.Done = done != 0
	return &i, nil
}

func (s *SQLiteStore) GetIssue(ctx context.Context, id int64) (*models.Issue, error) {
	issue, err := scanIssue(s.reader.QueryRowContext(ctx,
		`SELECT `+issueCols+` FROM issue WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return issue, nil
}

func (s *SQLiteStore) ListIssues(ctx context.Context, projectID int64) ([]*models.Issue, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT `+issueCols+` FROM issue WHERE project_id = ? ORDER BY ts_last DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (s *SQLiteStore) ListIssueEvents(ctx context.Context, issueID int64) ([]*models.Event, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT id, project_id, issue_id, ts, type, data FROM event
		 WHERE issue_id = ? ORDER BY ts DESC`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list issue events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.IssueID, &e.Ts, &e.Type, &e.Data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if e.Data, err = s.codec.decode(e.Data); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) SetIssueIgnored(ctx context.Context, id int64, ignored bool) error {
	return s.setIssueFlag(ctx, `UPDATE issue SET "ignore" = ? WHERE id = ?`, id, ignored)
}

func (s *SQLiteStore) SetIssueDone(ctx context.Context, id int64, done bool) error {
	return s.setIssueFlag(ctx, `UPDATE issue SET done = ? WHERE id = ?`, id, done)
}

func (s *SQLiteStore) setIssueFlag(ctx context.Context, query string, id int64, v bool) error {
	res, err := s.writer.ExecContext(ctx, query, boolInt(v), id)
	if err != nil {
		return fmt.Errorf("set issue flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, projectID int64, id []byte) (*models.Session, error) {
	var sess models.Session
	var e int
	err := s.reader.QueryRowContext(ctx,
		`SELECT id, project_id, ts, e FROM session WHERE id = ? AND project_id = ?`,
		id, projectID).Scan(&sess.ID, &sess.ProjectID, &sess.Ts, &e)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.E = e != 0
	return &sess, nil
}

func (s *SQLiteStore) GetGraph(ctx context.Context, projectID int64) ([]*models.GraphBucket, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT project_id, ts, c, e FROM session_graph WHERE project_id = ? ORDER BY ts`, projectID)
	if err != nil {
		return nil, fmt.Errorf("get session graph: %w", err)
	}
	defer rows.Close()

	var buckets []*models.GraphBucket
	for rows.Next() {
		var b models.GraphBucket
		if err := rows.Scan(&b.ProjectID, &b.Ts, &b.C, &b.E); err != nil {
			return nil, fmt.Errorf("scan graph bucket: %w", err)
		}
		buckets = append(buckets, &b)
	}
	return buckets, rows.Err()
}

// --- Maintenance ---

func (s *SQLiteStore) Optimize(ctx context.Context) error {
	if _, err := s.writer.ExecContext(ctx, `PRAGMA optimize`); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
