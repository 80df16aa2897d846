package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/peerpulse/peerpulse/internal/schema"
	"github.com/peerpulse/peerpulse/internal/scoring"
)

// DBTX is the querying surface shared by *sql.DB and *sql.Tx, so every
// repository method can run standalone or inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repository handles database operations. Queries against the evaluations
// table are built from the resolved schema's column names rather than
// hard-coded, so the same code runs on differently-named deployments.
type Repository struct {
	q  DBTX
	es *schema.EvaluationSchema
}

// NewRepository creates a new repository bound to the database connection.
func NewRepository(db *DB, es *schema.EvaluationSchema) *Repository {
	return &Repository{q: db, es: es}
}

// WithTx returns a copy of the repository bound to tx.
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{q: tx, es: r.es}
}

// Schema exposes the resolved evaluation schema.
func (r *Repository) Schema() *schema.EvaluationSchema {
	return r.es
}

// --- users ---

// CreateUser inserts a user row.
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (id, username, created_at)
		VALUES (?, ?, ?)
	`, user.ID, user.Username, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser fetches a user by ID. Returns sql.ErrNoRows when absent.
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	err := r.q.QueryRowContext(ctx, `
		SELECT id, username, created_at FROM users WHERE id = ?
	`, id).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteUser removes a user row. Evaluations in both roles, meta rows,
// rater stats and friendships go with it through the foreign key cascades.
func (r *Repository) DeleteUser(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- criteria ---

// CreateCriterion inserts a criterion and fills in its generated ID.
func (r *Repository) CreateCriterion(ctx context.Context, c *Criterion) error {
	result, err := r.q.ExecContext(ctx, `INSERT INTO criteria (name) VALUES (?)`, c.Name)
	if err != nil {
		return fmt.Errorf("failed to create criterion: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read criterion id: %w", err)
	}
	c.ID = id
	return nil
}

// GetCriterion fetches a criterion by ID. Returns sql.ErrNoRows when absent.
func (r *Repository) GetCriterion(ctx context.Context, id int64) (*Criterion, error) {
	var c Criterion
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name FROM criteria WHERE id = ?
	`, id).Scan(&c.ID, &c.Name)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCriteria returns all criteria ordered by ID.
func (r *Repository) ListCriteria(ctx context.Context) ([]Criterion, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, name FROM criteria ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list criteria: %w", err)
	}
	defer rows.Close()

	var criteria []Criterion
	for rows.Next() {
		var c Criterion
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan criterion: %w", err)
		}
		criteria = append(criteria, c)
	}
	return criteria, rows.Err()
}

// --- friendships ---

// CreateFriendship inserts a directed friendship edge.
func (r *Repository) CreateFriendship(ctx context.Context, f *Friendship) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO friendships (id, from_user_id, to_user_id, is_confirmed, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, f.ID, f.FromUserID, f.ToUserID, f.IsConfirmed, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create friendship: %w", err)
	}
	return nil
}

// ConfirmFriendship marks the edge from -> to as confirmed.
func (r *Repository) ConfirmFriendship(ctx context.Context, fromUserID, toUserID string) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE friendships SET is_confirmed = TRUE
		WHERE from_user_id = ? AND to_user_id = ?
	`, fromUserID, toUserID)
	if err != nil {
		return fmt.Errorf("failed to confirm friendship: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm friendship: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ConfirmedFriendIDs returns the users connected to userID by a confirmed
// edge in either direction, deduplicated.
func (r *Repository) ConfirmedFriendIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT to_user_id FROM friendships WHERE from_user_id = ? AND is_confirmed = TRUE
		UNION
		SELECT from_user_id FROM friendships WHERE to_user_id = ? AND is_confirmed = TRUE
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmed friends: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan friend id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- evaluations ---

func (r *Repository) evalSelectColumns() string {
	return fmt.Sprintf(
		"id, %s, %s, %s, %s, %s, normalized_score, pending, rater_mean, rater_stddev, reliability_weight, extreme_rate_weight, objectivity_score, created_at",
		r.es.Rater, r.es.Subject, r.es.Criterion, r.es.Score, r.familiarityColumn(),
	)
}

// familiarityColumn falls back to NULL when the table carries no
// familiarity column, keeping the scan shape stable.
func (r *Repository) familiarityColumn() string {
	if r.es.Familiarity == "" {
		return "NULL AS familiarity"
	}
	return r.es.Familiarity
}

func scanEvaluation(scanner interface{ Scan(...interface{}) error }) (*Evaluation, error) {
	var e Evaluation
	err := scanner.Scan(
		&e.ID, &e.EvaluatorID, &e.SubjectID, &e.CriterionID, &e.Score,
		&e.Familiarity, &e.NormalizedScore, &e.Pending,
		&e.RaterMean, &e.RaterStddev,
		&e.ReliabilityWeight, &e.ExtremeRateWeight, &e.ObjectivityScore,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// InsertEvaluation writes a new evaluation with weight fields unset.
func (r *Repository) InsertEvaluation(ctx context.Context, e *Evaluation) error {
	cols := fmt.Sprintf("id, %s, %s, %s, %s", r.es.Rater, r.es.Subject, r.es.Criterion, r.es.Score)
	args := []interface{}{e.ID, e.EvaluatorID, e.SubjectID, e.CriterionID, e.Score}
	placeholders := "?, ?, ?, ?, ?"

	if r.es.Familiarity != "" {
		cols += ", " + r.es.Familiarity
		args = append(args, e.Familiarity)
		placeholders += ", ?"
	}

	cols += ", pending, created_at"
	args = append(args, e.Pending, e.CreatedAt)
	placeholders += ", ?, ?"

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", r.es.Table, cols, placeholders)
	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}
	return nil
}

// GetEvaluation fetches an evaluation by ID. Returns sql.ErrNoRows when absent.
func (r *Repository) GetEvaluation(ctx context.Context, id string) (*Evaluation, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", r.evalSelectColumns(), r.es.Table)
	return scanEvaluation(r.q.QueryRowContext(ctx, query, id))
}

// DeleteEvaluation removes an evaluation row (meta follows via cascade).
func (r *Repository) DeleteEvaluation(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", r.es.Table)
	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete evaluation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete evaluation: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RaterEvaluations returns every evaluation authored by raterID.
func (r *Repository) RaterEvaluations(ctx context.Context, raterID string) ([]*Evaluation, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY created_at",
		r.evalSelectColumns(), r.es.Table, r.es.Rater)
	return r.queryEvaluations(ctx, query, raterID)
}

// SubjectEvaluations returns every evaluation received by subjectID.
func (r *Repository) SubjectEvaluations(ctx context.Context, subjectID string) ([]*Evaluation, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY created_at",
		r.evalSelectColumns(), r.es.Table, r.es.Subject)
	return r.queryEvaluations(ctx, query, subjectID)
}

func (r *Repository) queryEvaluations(ctx context.Context, query string, args ...interface{}) ([]*Evaluation, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer rows.Close()

	var evals []*Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		evals = append(evals, e)
	}
	return evals, rows.Err()
}

// LastRatedAt returns when rater last scored (subject, criterion), or nil if
// never. Selects the bare column so the driver keeps its timestamp decltype.
func (r *Repository) LastRatedAt(ctx context.Context, raterID, subjectID string, criterionID int64) (*time.Time, error) {
	query := fmt.Sprintf(
		"SELECT created_at FROM %s WHERE %s = ? AND %s = ? AND %s = ? ORDER BY created_at DESC LIMIT 1",
		r.es.Table, r.es.Rater, r.es.Subject, r.es.Criterion)

	var last time.Time
	err := r.q.QueryRowContext(ctx, query, raterID, subjectID, criterionID).Scan(&last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last rating: %w", err)
	}
	return &last, nil
}

// RaterLastRated returns, per (subject, criterion), the newest time raterID
// scored that pair. Pairs never scored are absent.
func (r *Repository) RaterLastRated(ctx context.Context, raterID string) (map[scoring.Pair]time.Time, error) {
	query := fmt.Sprintf("SELECT %s, %s, created_at FROM %s WHERE %s = ? ORDER BY created_at",
		r.es.Subject, r.es.Criterion, r.es.Table, r.es.Rater)

	rows, err := r.q.QueryContext(ctx, query, raterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rating history: %w", err)
	}
	defer rows.Close()

	history := make(map[scoring.Pair]time.Time)
	for rows.Next() {
		var pair scoring.Pair
		var at time.Time
		if err := rows.Scan(&pair.SubjectID, &pair.CriterionID, &at); err != nil {
			return nil, fmt.Errorf("failed to scan rating history: %w", err)
		}
		if at.After(history[pair]) {
			history[pair] = at
		}
	}
	return history, rows.Err()
}

// RaterIDsForPair returns the distinct raters who scored (subject, criterion).
func (r *Repository) RaterIDsForPair(ctx context.Context, subjectID string, criterionID int64) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s = ? AND %s = ?",
		r.es.Rater, r.es.Table, r.es.Subject, r.es.Criterion)

	rows, err := r.q.QueryContext(ctx, query, subjectID, criterionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query raters for pair: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan rater id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AllRaterIDs returns every distinct rater in the evaluations table.
func (r *Repository) AllRaterIDs(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s", r.es.Rater, r.es.Table)

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rater ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan rater id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ConsensusAverages returns the mean score per requested (subject, criterion)
// pair across all raters. Pairs with no rows are absent from the result.
func (r *Repository) ConsensusAverages(ctx context.Context, pairs []scoring.Pair) (map[scoring.Pair]float64, error) {
	if len(pairs) == 0 {
		return map[scoring.Pair]float64{}, nil
	}

	conditions := make([]string, len(pairs))
	args := make([]interface{}, 0, len(pairs)*2)
	for i, pair := range pairs {
		conditions[i] = fmt.Sprintf("(%s = ? AND %s = ?)", r.es.Subject, r.es.Criterion)
		args = append(args, pair.SubjectID, pair.CriterionID)
	}

	query := fmt.Sprintf("SELECT %s, %s, AVG(%s) FROM %s WHERE %s GROUP BY %s, %s",
		r.es.Subject, r.es.Criterion, r.es.Score, r.es.Table,
		strings.Join(conditions, " OR "), r.es.Subject, r.es.Criterion)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query consensus averages: %w", err)
	}
	defer rows.Close()

	consensus := make(map[scoring.Pair]float64, len(pairs))
	for rows.Next() {
		var pair scoring.Pair
		var avg float64
		if err := rows.Scan(&pair.SubjectID, &pair.CriterionID, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan consensus average: %w", err)
		}
		consensus[pair] = avg
	}
	return consensus, rows.Err()
}

// ActiveConsensusAverages is ConsensusAverages restricted to ACTIVE
// evaluations. The materialized rater statistics measure deviation against
// the visible consensus only.
func (r *Repository) ActiveConsensusAverages(ctx context.Context, pairs []scoring.Pair) (map[scoring.Pair]float64, error) {
	if len(pairs) == 0 {
		return map[scoring.Pair]float64{}, nil
	}

	conditions := make([]string, len(pairs))
	args := []interface{}{StatusActive}
	for i, pair := range pairs {
		conditions[i] = fmt.Sprintf("(e.%s = ? AND e.%s = ?)", r.es.Subject, r.es.Criterion)
		args = append(args, pair.SubjectID, pair.CriterionID)
	}

	query := fmt.Sprintf(`
		SELECT e.%s, e.%s, AVG(e.%s)
		FROM %s e
		JOIN evaluation_meta m ON m.evaluation_id = e.id
		WHERE m.status = ? AND (%s)
		GROUP BY e.%s, e.%s
	`, r.es.Subject, r.es.Criterion, r.es.Score, r.es.Table,
		strings.Join(conditions, " OR "), r.es.Subject, r.es.Criterion)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active consensus averages: %w", err)
	}
	defer rows.Close()

	consensus := make(map[scoring.Pair]float64, len(pairs))
	for rows.Next() {
		var pair scoring.Pair
		var avg float64
		if err := rows.Scan(&pair.SubjectID, &pair.CriterionID, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan active consensus average: %w", err)
		}
		consensus[pair] = avg
	}
	return consensus, rows.Err()
}

// ApplyRaterWeights writes a rater's recomputed weights onto all of their
// evaluations in one statement, setting per-row normalized scores via CASE
// and clearing the pending flag.
func (r *Repository) ApplyRaterWeights(ctx context.Context, raterID string, w scoring.RaterWeights) error {
	caseExpr := "NULL"
	args := []interface{}{}
	if len(w.Normalized) > 0 {
		var b strings.Builder
		b.WriteString("CASE id")
		for id, z := range w.Normalized {
			b.WriteString(" WHEN ? THEN ?")
			args = append(args, id, z)
		}
		b.WriteString(" ELSE normalized_score END")
		caseExpr = b.String()
	}

	query := fmt.Sprintf(`
		UPDATE %s SET
			normalized_score = %s,
			rater_mean = ?,
			rater_stddev = ?,
			reliability_weight = ?,
			extreme_rate_weight = ?,
			objectivity_score = ?,
			pending = FALSE
		WHERE %s = ?
	`, r.es.Table, caseExpr, r.es.Rater)
	args = append(args, w.Mean, w.Stddev, w.ReliabilityWeight, w.ExtremeRateWeight, w.ObjectivityScore, raterID)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to apply rater weights: %w", err)
	}
	return nil
}

// OutboundCount counts the evaluations authored by userID.
func (r *Repository) OutboundCount(ctx context.Context, userID string) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", r.es.Table, r.es.Rater)

	var count int
	if err := r.q.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count outbound evaluations: %w", err)
	}
	return count, nil
}

// --- evaluation meta ---

// InsertEvaluationMeta writes the visibility row for an evaluation.
func (r *Repository) InsertEvaluationMeta(ctx context.Context, m *EvaluationMeta) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO evaluation_meta (evaluation_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, m.EvaluationID, m.Status, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation meta: %w", err)
	}
	return nil
}

// GetEvaluationMeta fetches the meta row for an evaluation.
func (r *Repository) GetEvaluationMeta(ctx context.Context, evaluationID string) (*EvaluationMeta, error) {
	var m EvaluationMeta
	err := r.q.QueryRowContext(ctx, `
		SELECT evaluation_id, status, created_at, updated_at
		FROM evaluation_meta WHERE evaluation_id = ?
	`, evaluationID).Scan(&m.EvaluationID, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// PromotePendingMetas flips PENDING metas to ACTIVE for every evaluation
// received by subjectID. Returns how many rows were promoted. The transition
// is one-way; ACTIVE rows are never demoted.
func (r *Repository) PromotePendingMetas(ctx context.Context, subjectID string, now time.Time) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE evaluation_meta SET status = ?, updated_at = ?
		WHERE status = ?
		AND evaluation_id IN (SELECT id FROM %s WHERE %s = ?)
	`, r.es.Table, r.es.Subject)

	result, err := r.q.ExecContext(ctx, query, StatusActive, now, StatusPending, subjectID)
	if err != nil {
		return 0, fmt.Errorf("failed to promote pending metas: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to promote pending metas: %w", err)
	}
	return n, nil
}

// PromoteAllPendingMetas flips every PENDING meta to ACTIVE, ignoring the
// outbound threshold. Repair tool only.
func (r *Repository) PromoteAllPendingMetas(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE evaluation_meta SET status = ?, updated_at = ? WHERE status = ?`,
		StatusActive, now, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to promote pending metas: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to promote pending metas: %w", err)
	}
	return n, nil
}

// ActiveWeightedRows returns the summary input rows for every ACTIVE
// evaluation, optionally filtered to one subject (empty string = all).
func (r *Repository) ActiveWeightedRows(ctx context.Context, subjectID string) ([]scoring.WeightedRow, error) {
	query := fmt.Sprintf(`
		SELECT e.%s, e.%s, e.%s, e.normalized_score, e.reliability_weight, e.extreme_rate_weight
		FROM %s e
		JOIN evaluation_meta m ON m.evaluation_id = e.id
		WHERE m.status = ?
	`, r.es.Subject, r.es.Criterion, r.es.Score, r.es.Table)
	args := []interface{}{StatusActive}

	if subjectID != "" {
		query += fmt.Sprintf(" AND e.%s = ?", r.es.Subject)
		args = append(args, subjectID)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active evaluations: %w", err)
	}
	defer rows.Close()

	var result []scoring.WeightedRow
	for rows.Next() {
		var row scoring.WeightedRow
		if err := rows.Scan(&row.Pair.SubjectID, &row.Pair.CriterionID, &row.Score,
			&row.NormalizedScore, &row.ReliabilityWeight, &row.ExtremeRateWeight); err != nil {
			return nil, fmt.Errorf("failed to scan active evaluation: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// ActiveObservationsByRater returns the engine input for one rater,
// restricted to ACTIVE evaluations. Used by the batch stats recompute.
func (r *Repository) ActiveObservationsByRater(ctx context.Context, raterID string) ([]scoring.Observation, error) {
	query := fmt.Sprintf(`
		SELECT e.id, e.%s, e.%s, e.%s
		FROM %s e
		JOIN evaluation_meta m ON m.evaluation_id = e.id
		WHERE m.status = ? AND e.%s = ?
	`, r.es.Subject, r.es.Criterion, r.es.Score, r.es.Table, r.es.Rater)

	rows, err := r.q.QueryContext(ctx, query, StatusActive, raterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rater observations: %w", err)
	}
	defer rows.Close()

	var obs []scoring.Observation
	for rows.Next() {
		var o scoring.Observation
		if err := rows.Scan(&o.ID, &o.Pair.SubjectID, &o.Pair.CriterionID, &o.Score); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

// --- rater stats ---

// UpsertRaterStats writes the materialized per-rater statistics row.
func (r *Repository) UpsertRaterStats(ctx context.Context, s *RaterStats) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO rater_stats (user_id, ratings_count, mean_score, std_score, extreme_rate, reliability, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			ratings_count = excluded.ratings_count,
			mean_score = excluded.mean_score,
			std_score = excluded.std_score,
			extreme_rate = excluded.extreme_rate,
			reliability = excluded.reliability,
			updated_at = excluded.updated_at
	`, s.UserID, s.RatingsCount, s.MeanScore, s.StdScore, s.ExtremeRate, s.Reliability, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert rater stats: %w", err)
	}
	return nil
}

// GetRaterStats fetches the stats row for a user. Returns sql.ErrNoRows when absent.
func (r *Repository) GetRaterStats(ctx context.Context, userID string) (*RaterStats, error) {
	var s RaterStats
	err := r.q.QueryRowContext(ctx, `
		SELECT user_id, ratings_count, mean_score, std_score, extreme_rate, reliability, updated_at
		FROM rater_stats WHERE user_id = ?
	`, userID).Scan(&s.UserID, &s.RatingsCount, &s.MeanScore, &s.StdScore, &s.ExtremeRate, &s.Reliability, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
