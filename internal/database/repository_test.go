package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerpulse/peerpulse/internal/schema"
	"github.com/peerpulse/peerpulse/internal/scoring"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	es, err := schema.Infer(db.DB, "evaluations")
	require.NoError(t, err)

	return NewRepository(db, es)
}

func seedUser(t *testing.T, repo *Repository, username string) *User {
	t.Helper()
	user := NewUser(username)
	require.NoError(t, repo.CreateUser(context.Background(), user))
	return user
}

func seedCriterion(t *testing.T, repo *Repository, name string) *Criterion {
	t.Helper()
	c := &Criterion{Name: name}
	require.NoError(t, repo.CreateCriterion(context.Background(), c))
	return c
}

func seedEvaluation(t *testing.T, repo *Repository, rater, subject string, criterion int64, score int) *Evaluation {
	t.Helper()
	e := NewEvaluation(rater, subject, criterion, score, nil)
	require.NoError(t, repo.InsertEvaluation(context.Background(), e))
	return e
}

func TestSchemaInferenceOnMigratedTable(t *testing.T) {
	repo := testRepo(t)
	es := repo.Schema()

	assert.Equal(t, "subject_id", es.Subject)
	assert.Equal(t, "evaluator_id", es.Rater)
	assert.Equal(t, "criterion_id", es.Criterion)
	assert.Equal(t, "score", es.Score)
	assert.Equal(t, "familiarity", es.Familiarity)
}

func TestUserRoundTrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	user := seedUser(t, repo, "alice")

	got, err := repo.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "alice", got.Username)

	_, err = repo.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCriteriaRoundTrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	honesty := seedCriterion(t, repo, "honesty")
	humor := seedCriterion(t, repo, "humor")
	assert.NotZero(t, honesty.ID)
	assert.Greater(t, humor.ID, honesty.ID)

	all, err := repo.ListCriteria(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "honesty", all[0].Name)
}

func TestConfirmedFriendIDsEitherDirection(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	alice := seedUser(t, repo, "alice")
	bob := seedUser(t, repo, "bob")
	carol := seedUser(t, repo, "carol")
	dave := seedUser(t, repo, "dave")

	// alice -> bob confirmed, carol -> alice confirmed, alice -> dave pending.
	f1 := NewFriendship(alice.ID, bob.ID)
	require.NoError(t, repo.CreateFriendship(ctx, f1))
	require.NoError(t, repo.ConfirmFriendship(ctx, alice.ID, bob.ID))

	f2 := NewFriendship(carol.ID, alice.ID)
	require.NoError(t, repo.CreateFriendship(ctx, f2))
	require.NoError(t, repo.ConfirmFriendship(ctx, carol.ID, alice.ID))

	f3 := NewFriendship(alice.ID, dave.ID)
	require.NoError(t, repo.CreateFriendship(ctx, f3))

	friends, err := repo.ConfirmedFriendIDs(ctx, alice.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{bob.ID, carol.ID}, friends)
}

func TestConfirmFriendshipMissingEdge(t *testing.T) {
	repo := testRepo(t)
	err := repo.ConfirmFriendship(context.Background(), "nobody", "noone")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestEvaluationRoundTrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	rater := seedUser(t, repo, "rater")
	subject := seedUser(t, repo, "subject")
	criterion := seedCriterion(t, repo, "honesty")

	e := seedEvaluation(t, repo, rater.ID, subject.ID, criterion.ID, 4)

	got, err := repo.GetEvaluation(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, rater.ID, got.EvaluatorID)
	assert.Equal(t, subject.ID, got.SubjectID)
	assert.Equal(t, 4, got.Score)
	assert.True(t, got.Pending)
	assert.Nil(t, got.NormalizedScore)
	assert.Nil(t, got.ReliabilityWeight)

	require.NoError(t, repo.DeleteEvaluation(ctx, e.ID))
	_, err = repo.GetEvaluation(ctx, e.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.ErrorIs(t, repo.DeleteEvaluation(ctx, e.ID), sql.ErrNoRows)
}

func TestLastRatedAt(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	rater := seedUser(t, repo, "rater")
	subject := seedUser(t, repo, "subject")
	criterion := seedCriterion(t, repo, "honesty")

	last, err := repo.LastRatedAt(ctx, rater.ID, subject.ID, criterion.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	e := seedEvaluation(t, repo, rater.ID, subject.ID, criterion.ID, 3)

	last, err = repo.LastRatedAt(ctx, rater.ID, subject.ID, criterion.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.WithinDuration(t, e.CreatedAt, *last, time.Second)
}

func TestConsensusAverages(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	r1 := seedUser(t, repo, "r1")
	r2 := seedUser(t, repo, "r2")
	subject := seedUser(t, repo, "subject")
	criterion := seedCriterion(t, repo, "honesty")

	seedEvaluation(t, repo, r1.ID, subject.ID, criterion.ID, 5)
	seedEvaluation(t, repo, r2.ID, subject.ID, criterion.ID, 3)

	pair := scoring.Pair{SubjectID: subject.ID, CriterionID: criterion.ID}
	missing := scoring.Pair{SubjectID: "ghost", CriterionID: criterion.ID}

	consensus, err := repo.ConsensusAverages(ctx, []scoring.Pair{pair, missing})
	require.NoError(t, err)
	require.Contains(t, consensus, pair)
	assert.InDelta(t, 4.0, consensus[pair], 1e-9)
	assert.NotContains(t, consensus, missing)
}

func TestActiveConsensusAveragesExcludesPending(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	r1 := seedUser(t, repo, "r1")
	r2 := seedUser(t, repo, "r2")
	subject := seedUser(t, repo, "subject")
	criterion := seedCriterion(t, repo, "honesty")

	active := seedEvaluation(t, repo, r1.ID, subject.ID, criterion.ID, 5)
	pending := seedEvaluation(t, repo, r2.ID, subject.ID, criterion.ID, 1)

	now := time.Now().UTC()
	require.NoError(t, repo.InsertEvaluationMeta(ctx, &EvaluationMeta{
		EvaluationID: active.ID, Status: StatusActive, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, repo.InsertEvaluationMeta(ctx, &EvaluationMeta{
		EvaluationID: pending.ID, Status: StatusPending, CreatedAt: now, UpdatedAt: now,
	}))

	pair := scoring.Pair{SubjectID: subject.ID, CriterionID: criterion.ID}

	all, err := repo.ConsensusAverages(ctx, []scoring.Pair{pair})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, all[pair], 1e-9)

	visible, err := repo.ActiveConsensusAverages(ctx, []scoring.Pair{pair})
	require.NoError(t, err)
	require.Contains(t, visible, pair)
	assert.InDelta(t, 5.0, visible[pair], 1e-9)
}

func TestApplyRaterWeights(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	rater := seedUser(t, repo, "rater")
	s1 := seedUser(t, repo, "s1")
	s2 := seedUser(t, repo, "s2")
	criterion := seedCriterion(t, repo, "honesty")

	e1 := seedEvaluation(t, repo, rater.ID, s1.ID, criterion.ID, 4)
	e2 := seedEvaluation(t, repo, rater.ID, s2.ID, criterion.ID, 2)

	w := scoring.RaterWeights{
		Mean:              3,
		Stddev:            1,
		ReliabilityWeight: 0.8,
		ExtremeRateWeight: 1.0,
		ObjectivityScore:  0.8,
		Normalized:        map[string]float64{e1.ID: 1.0, e2.ID: -1.0},
	}
	require.NoError(t, repo.ApplyRaterWeights(ctx, rater.ID, w))

	got1, err := repo.GetEvaluation(ctx, e1.ID)
	require.NoError(t, err)
	require.NotNil(t, got1.NormalizedScore)
	assert.InDelta(t, 1.0, *got1.NormalizedScore, 1e-9)
	assert.InDelta(t, 0.8, *got1.ReliabilityWeight, 1e-9)
	assert.False(t, got1.Pending)

	got2, err := repo.GetEvaluation(ctx, e2.ID)
	require.NoError(t, err)
	require.NotNil(t, got2.NormalizedScore)
	assert.InDelta(t, -1.0, *got2.NormalizedScore, 1e-9)
}

func TestMetaPromotion(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rater := seedUser(t, repo, "rater")
	subject := seedUser(t, repo, "subject")
	criterion := seedCriterion(t, repo, "honesty")

	e := seedEvaluation(t, repo, rater.ID, subject.ID, criterion.ID, 4)
	meta := &EvaluationMeta{EvaluationID: e.ID, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.InsertEvaluationMeta(ctx, meta))

	promoted, err := repo.PromotePendingMetas(ctx, subject.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), promoted)

	got, err := repo.GetEvaluationMeta(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	// Second pass is a no-op.
	promoted, err = repo.PromotePendingMetas(ctx, subject.ID, now)
	require.NoError(t, err)
	assert.Zero(t, promoted)
}

func TestActiveWeightedRowsFiltersPending(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rater := seedUser(t, repo, "rater")
	s1 := seedUser(t, repo, "s1")
	s2 := seedUser(t, repo, "s2")
	criterion := seedCriterion(t, repo, "honesty")

	active := seedEvaluation(t, repo, rater.ID, s1.ID, criterion.ID, 4)
	pending := seedEvaluation(t, repo, rater.ID, s2.ID, criterion.ID, 2)

	require.NoError(t, repo.InsertEvaluationMeta(ctx, &EvaluationMeta{
		EvaluationID: active.ID, Status: StatusActive, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, repo.InsertEvaluationMeta(ctx, &EvaluationMeta{
		EvaluationID: pending.ID, Status: StatusPending, CreatedAt: now, UpdatedAt: now,
	}))

	rows, err := repo.ActiveWeightedRows(ctx, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, s1.ID, rows[0].Pair.SubjectID)
	assert.InDelta(t, 4.0, rows[0].Score, 1e-9)

	rows, err = repo.ActiveWeightedRows(ctx, s2.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRaterStatsUpsert(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	user := seedUser(t, repo, "rater")

	_, err := repo.GetRaterStats(ctx, user.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	stats := &RaterStats{
		UserID: user.ID, RatingsCount: 3, MeanScore: 3.5, StdScore: 0.5,
		ExtremeRate: 0.25, Reliability: 0.9, UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.UpsertRaterStats(ctx, stats))

	stats.RatingsCount = 4
	stats.Reliability = 0.8
	require.NoError(t, repo.UpsertRaterStats(ctx, stats))

	got, err := repo.GetRaterStats(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.RatingsCount)
	assert.InDelta(t, 0.8, got.Reliability, 1e-9)
}

func TestOutboundCount(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	rater := seedUser(t, repo, "rater")
	s1 := seedUser(t, repo, "s1")
	s2 := seedUser(t, repo, "s2")
	criterion := seedCriterion(t, repo, "honesty")

	count, err := repo.OutboundCount(ctx, rater.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	seedEvaluation(t, repo, rater.ID, s1.ID, criterion.ID, 3)
	seedEvaluation(t, repo, rater.ID, s2.ID, criterion.ID, 4)

	count, err = repo.OutboundCount(ctx, rater.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	db := repo.q.(*DB)
	user := NewUser("txuser")

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := repo.WithTx(tx).CreateUser(ctx, user); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = repo.GetUser(ctx, user.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestConnectionPragmas(t *testing.T) {
	db, err := NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk, "foreign key enforcement must be on")

	var journal string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", journal)
}

func TestDeleteUserCascades(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	rater := seedUser(t, repo, "rater")
	subject := seedUser(t, repo, "subject")
	crit := seedCriterion(t, repo, "honesty")

	eval := seedEvaluation(t, repo, rater.ID, subject.ID, crit.ID, 4)
	now := time.Now().UTC()
	require.NoError(t, repo.InsertEvaluationMeta(ctx, &EvaluationMeta{
		EvaluationID: eval.ID,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
	require.NoError(t, repo.UpsertRaterStats(ctx, &RaterStats{
		UserID: rater.ID, RatingsCount: 1, MeanScore: 4, Reliability: 1, UpdatedAt: now,
	}))

	require.NoError(t, repo.DeleteUser(ctx, rater.ID))

	evals, err := repo.RaterEvaluations(ctx, rater.ID)
	require.NoError(t, err)
	assert.Empty(t, evals, "evaluations must cascade with their evaluator")

	_, err = repo.GetEvaluationMeta(ctx, eval.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	_, err = repo.GetRaterStats(ctx, rater.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestMemoryDBRunsMigrations(t *testing.T) {
	db, err := NewMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	es, err := schema.Infer(db.DB, "evaluations")
	require.NoError(t, err)
	assert.Equal(t, "subject_id", es.Subject)

	repo := NewRepository(db, es)
	user := NewUser("memuser")
	require.NoError(t, repo.CreateUser(context.Background(), user))
}
