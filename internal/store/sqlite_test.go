package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/formguard/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func submission(id, site, vid, phone, name string, at time.Time) *model.Submission {
	return &model.Submission{
		ID:        id,
		Site:      site,
		VisitorID: vid,
		IP:        "203.0.113.7",
		Phone:     phone,
		Name:      name,
		Score:     2,
		Reasons:   []string{"too_fast"},
		Accepted:  true,
		CreatedAt: at,
	}
}

func seed(t *testing.T, s *SQLiteStore, subs ...*model.Submission) {
	t.Helper()
	ctx := context.Background()
	for _, sub := range subs {
		require.NoError(t, s.InsertSubmission(ctx, sub))
	}
}

func TestSQLite_DSN(t *testing.T) {
	assert.Equal(t,
		"data.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_txlock=immediate",
		sqliteDSN("data.db"))
	assert.Contains(t, sqliteDSN("data.db?mode=rwc"), "data.db?mode=rwc&_pragma=busy_timeout(5000)")
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestSQLite_HistoryQueries(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	key := model.VisitorKey{Site: "shop", VisitorID: "v1"}

	seed(t, s,
		submission("s1", "shop", "v1", "+15550001", "Ann", t0.Add(-30*time.Hour)),
		submission("s2", "shop", "v1", "+15550002", "Ann", t0.Add(-2*time.Hour)),
		submission("s3", "shop", "v1", "+15550003", "", t0.Add(-1*time.Hour)),
		submission("s4", "other", "v1", "+15550009", "Bob", t0.Add(-1*time.Hour)),
		submission("s5", "shop", "v2", "+15550003", "Cy", t0.Add(-1*time.Hour)),
		submission("s6", "shop", "v3", "+15550003", "Di", t0.Add(-1*time.Hour)),
		submission("s7", "other", "v4", "+15550003", "Ed", t0.Add(-1*time.Hour)),
		submission("s8", "other", "v5", "+15550003", "Flo", t0.Add(-30*time.Hour)),
	)
	since := t0.Add(-24 * time.Hour)

	n, err := s.CountInWindow(ctx, key, since)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	phones, err := s.DistinctPhones(ctx, key, since)
	require.NoError(t, err)
	assert.Equal(t, []string{"+15550002", "+15550003"}, phones)

	names, err := s.DistinctNames(ctx, key, since)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann"}, names)

	// Shared phones count across sites; v1's own rows and s8 (outside the window) do not.
	shared, err := s.CountByPhone(ctx, "+15550003", "v1", since)
	require.NoError(t, err)
	assert.Equal(t, 3, shared)

	shared, err = s.CountByPhone(ctx, "+15550009", "v1", since)
	require.NoError(t, err)
	assert.Zero(t, shared)

	empty, err := s.CountInWindow(ctx, model.VisitorKey{Site: "shop", VisitorID: "new"}, since)
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func TestSQLite_AggregateRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	key := model.VisitorKey{Site: "shop", VisitorID: "v1"}

	got, err := s.GetAggregate(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	dur := int64(4200)
	agg := model.NewVisitorAggregate(key)
	agg.Apply(&model.Submission{
		Site: "shop", VisitorID: "v1", IP: "198.51.100.1", Phone: "+15550001", Name: "Ann",
		Behavior: model.Behavior{DurationMS: &dur}, Score: 2, Reasons: []string{"too_fast"}, CreatedAt: t0,
	})
	agg.ChallengeOwed = true
	require.NoError(t, s.UpsertAggregate(ctx, agg))

	got, err = s.GetAggregate(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, t0, got.FirstSeen)
	assert.Equal(t, t0, got.LastSeen)
	assert.Equal(t, "198.51.100.1", got.LastIP)
	assert.Equal(t, 1, got.SubmissionCount)
	assert.Equal(t, []string{"too_fast"}, got.LastReasons)
	assert.True(t, got.ChallengeOwed)
	assert.Equal(t, int64(4200), got.Behavior.Duration())
	assert.Equal(t, "+15550001", got.LastPhone)
	assert.Equal(t, "Ann", got.LastName)
}

func TestSQLite_UpsertAggregateKeepsBlockedFlag(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	key := model.VisitorKey{Site: "shop", VisitorID: "v1"}

	agg := model.NewVisitorAggregate(key)
	agg.Apply(submission("s1", "shop", "v1", "", "", t0))
	require.NoError(t, s.UpsertAggregate(ctx, agg))

	require.NoError(t, s.UpsertBlock(ctx, model.BlockEntry{Kind: model.BlockVisitor, Value: "v1", Reason: "spam", CreatedAt: t0}))

	// A stale in-flight copy must not clear the flag.
	agg.Apply(submission("s2", "shop", "v1", "", "", t0.Add(time.Minute)))
	require.NoError(t, s.UpsertAggregate(ctx, agg))

	got, err := s.GetAggregate(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.Blocked)
	assert.Equal(t, 2, got.SubmissionCount)
}

func TestSQLite_ChallengeConsumeOnce(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	c := &model.Challenge{
		ID: "abc", Site: "shop", VisitorID: "v1", Question: "3 + 4 = ?", AnswerMAC: "deadbeef",
		CreatedAt: t0, ExpiresAt: t0.Add(5 * time.Minute),
	}
	require.NoError(t, s.InsertChallenge(ctx, c))

	got, err := s.GetChallenge(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "deadbeef", got.AnswerMAC)
	assert.Equal(t, t0.Add(5*time.Minute), got.ExpiresAt)
	assert.False(t, got.Consumed)

	ok, err := s.ConsumeChallenge(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ConsumeChallenge(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ConsumeChallenge(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	missing, err := s.GetChallenge(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_RunVisitorTx_RollsBack(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	key := model.VisitorKey{Site: "shop", VisitorID: "v1"}
	boom := errors.New("boom")

	err := s.RunVisitorTx(ctx, key, func(tx VisitorTx) error {
		require.NoError(t, tx.InsertSubmission(ctx, submission("s1", "shop", "v1", "", "", t0)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := s.CountInWindow(ctx, key, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "submission must not survive a failed transaction")
}

func TestSQLite_RunVisitorTx_Serializes(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	key := model.VisitorKey{Site: "shop", VisitorID: "v1"}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.RunVisitorTx(ctx, key, func(tx VisitorTx) error {
				agg, err := tx.GetAggregate(ctx, key)
				if err != nil {
					return err
				}
				if agg == nil {
					agg = model.NewVisitorAggregate(key)
				}
				sub := submission(fmt.Sprintf("s%d", i), "shop", "v1", "", "", t0)
				if err := tx.InsertSubmission(ctx, sub); err != nil {
					return err
				}
				agg.Apply(sub)
				return tx.UpsertAggregate(ctx, agg)
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	agg, err := s.GetAggregate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, workers, agg.SubmissionCount)
}

func TestSQLite_BlockPhonePropagates(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	seed(t, s,
		submission("s1", "shop", "v1", "+15550001", "", t0),
		submission("s2", "shop", "v2", "+15550001", "", t0),
		submission("s3", "blog", "v3", "+15550001", "", t0),
		submission("s4", "shop", "v4", "+15550002", "", t0),
	)
	for _, vid := range []string{"v1", "v2", "v4"} {
		agg := model.NewVisitorAggregate(model.VisitorKey{Site: "shop", VisitorID: vid})
		agg.Apply(submission("x", "shop", vid, "", "", t0))
		require.NoError(t, s.UpsertAggregate(ctx, agg))
	}
	// An explicit visitor block keeps its own reason.
	require.NoError(t, s.UpsertBlock(ctx, model.BlockEntry{Kind: model.BlockVisitor, Value: "v2", Reason: "manual", CreatedAt: t0}))

	vids, err := s.BlockPhone(ctx,
		model.BlockEntry{Kind: model.BlockPhone, Value: "+15550001", Reason: "fraud", CreatedAt: t0},
		"phone block +15550001: fraud")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2", "v3"}, vids)

	e, err := s.GetBlock(ctx, model.BlockVisitor, "v1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "phone block +15550001: fraud", e.Reason)
	assert.Equal(t, "+15550001", e.DerivedFrom)

	e, err = s.GetBlock(ctx, model.BlockVisitor, "v2")
	require.NoError(t, err)
	assert.Equal(t, "manual", e.Reason)
	assert.Empty(t, e.DerivedFrom)

	agg, err := s.GetAggregate(ctx, model.VisitorKey{Site: "shop", VisitorID: "v1"})
	require.NoError(t, err)
	assert.True(t, agg.Blocked)

	agg, err = s.GetAggregate(ctx, model.VisitorKey{Site: "shop", VisitorID: "v4"})
	require.NoError(t, err)
	assert.False(t, agg.Blocked)
}

func TestSQLite_UnblockAxesIndependent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	seed(t, s, submission("s1", "shop", "v1", "+15550001", "", t0))
	_, err := s.BlockPhone(ctx,
		model.BlockEntry{Kind: model.BlockPhone, Value: "+15550001", Reason: "fraud", CreatedAt: t0}, "derived")
	require.NoError(t, err)

	existed, err := s.DeleteBlock(ctx, model.BlockPhone, "+15550001")
	require.NoError(t, err)
	assert.True(t, existed)

	e, err := s.GetBlock(ctx, model.BlockVisitor, "v1")
	require.NoError(t, err)
	assert.NotNil(t, e, "unblocking a phone keeps derived visitor blocks")

	existed, err = s.DeleteBlock(ctx, model.BlockVisitor, "v1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.DeleteBlock(ctx, model.BlockVisitor, "v1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestSQLite_ListBlocks(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.UpsertBlock(ctx, model.BlockEntry{
			Kind: model.BlockIP, Value: fmt.Sprintf("10.0.0.%d", i), Reason: "scan", CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.UpsertBlock(ctx, model.BlockEntry{Kind: model.BlockVisitor, Value: "v1", CreatedAt: t0}))

	ips, err := s.ListBlocks(ctx, model.BlockIP, 2)
	require.NoError(t, err)
	require.Len(t, ips, 2)
	assert.Equal(t, "10.0.0.2", ips[0].Value)
	assert.Equal(t, model.BlockIP, ips[0].Kind)

	phones, err := s.ListBlocks(ctx, model.BlockPhone, 0)
	require.NoError(t, err)
	assert.Empty(t, phones)
}

func TestSQLite_TouchAlertCooldown(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	cooldown := 10 * time.Minute

	ok, err := s.TouchAlert(ctx, "k", t0, cooldown)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TouchAlert(ctx, "k", t0.Add(time.Minute), cooldown)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.TouchAlert(ctx, "other", t0.Add(time.Minute), cooldown)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TouchAlert(ctx, "k", t0.Add(11*time.Minute), cooldown)
	require.NoError(t, err)
	assert.True(t, ok)

	// The refreshed timestamp starts a new window.
	ok, err = s.TouchAlert(ctx, "k", t0.Add(15*time.Minute), cooldown)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_AlertsCursor(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		rec := &model.AlertRecord{
			Kind: model.AlertSuspicious, DedupeKey: "k", Site: "shop", VisitorID: fmt.Sprintf("v%d", i),
			Score: 4 + i, Reasons: []string{"too_fast", "no_interaction"}, Message: "m", CreatedAt: t0,
		}
		require.NoError(t, s.InsertAlert(ctx, rec))
		ids = append(ids, rec.ID)
	}
	assert.Less(t, ids[0], ids[4])

	latest, err := s.ListAlerts(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, ids[3], latest[0].ID)
	assert.Equal(t, ids[4], latest[1].ID)
	assert.Equal(t, []string{"too_fast", "no_interaction"}, latest[1].Reasons)

	after, err := s.ListAlerts(ctx, ids[1], 10)
	require.NoError(t, err)
	require.Len(t, after, 3)
	assert.Equal(t, ids[2], after[0].ID)
	assert.Equal(t, model.AlertSuspicious, after[0].Kind)
}

func TestSQLite_Sweep(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	horizon := t0.Add(-90 * 24 * time.Hour)

	seed(t, s,
		submission("old", "shop", "v1", "", "", horizon.Add(-time.Hour)),
		submission("new", "shop", "v1", "", "", t0),
	)
	oldAgg := model.NewVisitorAggregate(model.VisitorKey{Site: "shop", VisitorID: "gone"})
	oldAgg.Apply(submission("x", "shop", "gone", "", "", horizon.Add(-time.Hour)))
	require.NoError(t, s.UpsertAggregate(ctx, oldAgg))

	require.NoError(t, s.InsertChallenge(ctx, &model.Challenge{ID: "c1", Site: "shop", VisitorID: "v1",
		Question: "q", AnswerMAC: "m", CreatedAt: t0.Add(-time.Hour), ExpiresAt: t0.Add(-55 * time.Minute)}))
	require.NoError(t, s.InsertChallenge(ctx, &model.Challenge{ID: "c2", Site: "shop", VisitorID: "v1",
		Question: "q", AnswerMAC: "m", CreatedAt: t0, ExpiresAt: t0.Add(5 * time.Minute)}))
	_, err := s.TouchAlert(ctx, "stale", t0.Add(-2*time.Hour), time.Minute)
	require.NoError(t, err)

	res, err := s.Sweep(ctx, SweepCutoffs{Horizon: horizon, Now: t0, Dedupe: t0.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Submissions)
	assert.Equal(t, int64(1), res.Aggregates)
	assert.Equal(t, int64(1), res.Challenges)
	assert.Equal(t, int64(1), res.Dedupe)
	assert.Equal(t, int64(4), res.Total())

	c, err := s.GetChallenge(ctx, "c2")
	require.NoError(t, err)
	assert.NotNil(t, c)
}
