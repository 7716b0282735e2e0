package store

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/stacktrap/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return openAt(t, filepath.Join(t.TempDir(), "test.db"), 0)
}

func openAt(t *testing.T, path string, compression int) *SQLiteStore {
	t.Helper()
	s, err := Open(path, compression)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func eventParams(projectID int64, hash, session []byte, ts time.Time) RecordEventParams {
	return RecordEventParams{
		ProjectID: projectID,
		Hash:      hash,
		SessionID: session,
		Ts:        ts,
		Type:      "error",
		Name:      "TypeError",
		Message:   "x is not a function",
		URI:       "https://app.example.com/checkout",
		Data:      []byte(`{"name":"TypeError","stack":[]}`),
	}
}

func mustCreateProject(t *testing.T, s *SQLiteStore, key string) *models.Project {
	t.Helper()
	p := &models.Project{Key: key, Name: key, Origin: "*"}
	require.NoError(t, s.CreateProject(context.Background(), p))
	require.NotZero(t, p.ID)
	return p
}

func TestCreateProject_DuplicateKey(t *testing.T) {
	s := newTestStore(t)
	mustCreateProject(t, s, "dup")

	err := s.CreateProject(context.Background(), &models.Project{Key: "dup", Name: "other", Origin: "*"})
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestGetProjectByKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Project{Key: "web", Name: "Web App", Origin: "app.example.com", Scrape: true}
	require.NoError(t, s.CreateProject(ctx, p))

	got, err := s.GetProjectByKey(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.True(t, got.Scrape)

	_, err = s.GetProjectByKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDailySalt_LazyStableAndPurged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	today := time.Now().UTC()
	day := func(offset int) string { return today.AddDate(0, 0, offset).Format("20060102") }

	salt, err := s.DailySalt(ctx, day(0))
	require.NoError(t, err)
	require.Len(t, salt, 32, "16 random bytes, hex encoded")

	again, err := s.DailySalt(ctx, day(0))
	require.NoError(t, err)
	assert.Equal(t, salt, again, "the salt is created once and then stable")

	// seed yesterday's and two stale days
	_, err = s.DailySalt(ctx, day(-1))
	require.NoError(t, err)
	_, err = s.DailySalt(ctx, day(-2))
	require.NoError(t, err)
	_, err = s.DailySalt(ctx, day(-30))
	require.NoError(t, err)

	purged, err := s.PurgeStaleSalts(ctx, today)
	require.NoError(t, err)
	assert.EqualValues(t, 2, purged, "only today's and yesterday's salts survive")

	kept, err := s.DailySalt(ctx, day(-1))
	require.NoError(t, err)
	assert.NotEmpty(t, kept)
}

func TestPurgeOldCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustCreateProject(t, s, "rt")

	now := time.Now().UTC()
	stale := now.AddDate(0, 0, -(counterRetentionDays + 10))

	// one event today, one far enough back that its counter has expired
	_, err := s.RecordEvent(ctx, eventParams(p.ID, []byte{8, 8, 8, 8, 8, 8, 8, 8},
		bytes.Repeat([]byte{8}, 16), now))
	require.NoError(t, err)
	_, err = s.RecordEvent(ctx, eventParams(p.ID, []byte{8, 8, 8, 8, 8, 8, 8, 9},
		bytes.Repeat([]byte{9}, 16), stale))
	require.NoError(t, err)

	purged, err := s.PurgeOldCounters(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	var v string
	err = s.reader.QueryRowContext(ctx,
		`SELECT v FROM meta WHERE k = ?`, "events"+now.Format("20060102")).Scan(&v)
	require.NoError(t, err)
	assert.Equal(t, "1", v, "the current day's counter survives")
}

func TestRecordEvent_GroupsByFingerprint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustCreateProject(t, s, "grp")

	hash := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	session := bytes.Repeat([]byte{0xaa}, 16)
	ts := time.Now().UTC()

	first, err := s.RecordEvent(ctx, eventParams(p.ID, hash, session, ts))
	require.NoError(t, err)
	assert.True(t, first.Created)

	for i := 0; i < 2; i++ {
		res, err := s.RecordEvent(ctx, eventParams(p.ID, hash, session, ts.Add(time.Second)))
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.Equal(t, first.IssueID, res.IssueID)
	}

	issues, err := s.ListIssues(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.EqualValues(t, 3, issues[0].EventC)
	assert.EqualValues(t, 1, issues[0].SessC)
	assert.Equal(t, ts.UnixMilli(), issues[0].TsFirst)

	events, err := s.ListIssueEvents(ctx, first.IssueID)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	// the daily accepted counter followed along
	var v string
	err = s.reader.QueryRowContext(ctx,
		`SELECT v FROM meta WHERE k = ?`, "events"+ts.Format("20060102")).Scan(&v)
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}

func TestRecordEvent_DistinctSessionsBumpSessCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustCreateProject(t, s, "sess")

	hash := []byte{9, 9, 9, 9, 9, 9, 9, 9}
	ts := time.Now().UTC()

	res, err := s.RecordEvent(ctx, eventParams(p.ID, hash, bytes.Repeat([]byte{1}, 16), ts))
	require.NoError(t, err)
	_, err = s.RecordEvent(ctx, eventParams(p.ID, hash, bytes.Repeat([]byte{2}, 16), ts))
	require.NoError(t, err)
	// repeat session must not count twice
	_, err = s.RecordEvent(ctx, eventParams(p.ID, hash, bytes.Repeat([]byte{2}, 16), ts))
	require.NoError(t, err)

	issue, err := s.GetIssue(ctx, res.IssueID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, issue.SessC)
}

func TestRecordEvent_IgnoredIssueWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustCreateProject(t, s, "ign")

	hash := []byte{7, 7, 7, 7, 7, 7, 7, 7}
	ts := time.Now().UTC()

	res, err := s.RecordEvent(ctx, eventParams(p.ID, hash, bytes.Repeat([]byte{3}, 16), ts))
	require.NoError(t, err)
	require.NoError(t, s.SetIssueIgnored(ctx, res.IssueID, true))

	freshSession := bytes.Repeat([]byte{4}, 16)
	sup, err := s.RecordEvent(ctx, eventParams(p.ID, hash, freshSession, ts))
	require.NoError(t, err)
	assert.True(t, sup.Suppressed)
	assert.Equal(t, res.IssueID, sup.IssueID)

	issue, err := s.GetIssue(ctx, res.IssueID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, issue.EventC)
	assert.EqualValues(t, 1, issue.SessC)

	events, err := s.ListIssueEvents(ctx, res.IssueID)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	// not even the session row: suppression short-circuits the transaction
	_, err = s.GetSession(ctx, p.ID, freshSession)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordEvent_ReopensDoneIssue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustCreateProject(t, s, "done")

	hash := []byte{5, 5, 5, 5, 5, 5, 5, 5}
	ts := time.Now().UTC()

	res, err := s.RecordEvent(ctx, eventParams(p.ID, hash, bytes.Repeat([]byte{5}, 16), ts))
	require.NoError(t, err)
	require.NoError(t, s.SetIssueDone(ctx, res.IssueID, true))

	_, err = s.RecordEvent(ctx, eventParams(p.ID, hash, bytes.Repeat([]byte{5}, 16), ts))
	require.NoError(t, err)

	issue, err := s.GetIssue(ctx, res.IssueID)
	require.NoError(t, err)
	assert.False(t, issue.Done, "a recurrence reopens a resolved issue")
}

func TestSetIssueFlags_NotFound(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.SetIssueIgnored(context.Background(), 12345, true), ErrNotFound)
	assert.ErrorIs(t, s.SetIssueDone(context.Background(), 12345, true), ErrNotFound)
}

func TestSessionGraph_Buckets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustCreateProject(t, s, "graph")

	base := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)

	require.NoError(t, s.RecordSession(ctx, RecordSessionParams{
		ProjectID: p.ID, SessionID: bytes.Repeat([]byte{1}, 16), Ts: base}))
	require.NoError(t, s.RecordSession(ctx, RecordSessionParams{
		ProjectID: p.ID, SessionID: bytes.Repeat([]byte{2}, 16), Ts: base.Add(10 * time.Minute)}))
	// next hour, and this one errors immediately
	_, err := s.RecordEvent(ctx, eventParams(p.ID, []byte{1, 1, 1, 1, 1, 1, 1, 1},
		bytes.Repeat([]byte{3}, 16), base.Add(time.Hour)))
	require.NoError(t, err)

	graph, err := s.GetGraph(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, graph, 2)

	assert.Equal(t, base.Truncate(time.Hour).Unix(), graph[0].Ts)
	assert.EqualValues(t, 2, graph[0].C)
	assert.EqualValues(t, 0, graph[0].E)
	assert.EqualValues(t, 1, graph[1].C)
	assert.EqualValues(t, 1, graph[1].E)
}

func TestDeniedCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	n, err := s.GetDenied(ctx, ts, "event", "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CountDenied(ctx, ts, "event", "badkey"))
	}
	require.NoError(t, s.CountDenied(ctx, ts, "ping", "badkey"))

	n, err = s.GetDenied(ctx, ts, "event", "badkey")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = s.GetDenied(ctx, ts, "ping", "badkey")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "kinds are counted independently")
}

func TestCompression_RoundTripAndMixedRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zstd.db")
	ctx := context.Background()

	s := openAt(t, path, 5)
	p := mustCreateProject(t, s, "zstd")

	payload := []byte(`{"name":"Error","message":"` + string(bytes.Repeat([]byte("a"), 500)) + `"}`)
	params := eventParams(p.ID, []byte{2, 2, 2, 2, 2, 2, 2, 2}, bytes.Repeat([]byte{6}, 16), time.Now().UTC())
	params.Data = payload
	res, err := s.RecordEvent(ctx, params)
	require.NoError(t, err)

	// stored compressed on disk
	var raw []byte
	require.NoError(t, s.reader.QueryRowContext(ctx,
		`SELECT data FROM event WHERE issue_id = ?`, res.IssueID).Scan(&raw))
	require.True(t, bytes.HasPrefix(raw, zstdMagic))
	assert.Less(t, len(raw), len(payload))

	// transparent on the way out
	events, err := s.ListIssueEvents(ctx, res.IssueID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, payload, events[0].Data)

	require.NoError(t, s.Close())

	// a later process opened without compression still reads old rows
	s2 := openAt(t, path, 0)
	events, err = s2.ListIssueEvents(ctx, res.IssueID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, payload, events[0].Data)

	// and its uncompressed writes coexist with the compressed ones
	params2 := eventParams(p.ID, []byte{2, 2, 2, 2, 2, 2, 2, 8}, bytes.Repeat([]byte{7}, 16), time.Now().UTC())
	res2, err := s2.RecordEvent(ctx, params2)
	require.NoError(t, err)
	events, err = s2.ListIssueEvents(ctx, res2.IssueID)
	require.NoError(t, err)
	assert.Equal(t, params2.Data, events[0].Data)
}

func TestOptimizeAndPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Optimize(context.Background()))
}
