package database

import (
	"time"

	"github.com/google/uuid"
)

// Meta status values. The transition is one-way: PENDING -> ACTIVE.
const (
	StatusPending = "PENDING"
	StatusActive  = "ACTIVE"
)

// User is the minimal identity the scoring engine needs. Accounts are owned
// by the upstream identity service; this table only mirrors ids and names.
type User struct {
	ID        string    `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Criterion is static reference data, admin-seeded.
type Criterion struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Evaluation is one rater's score of a subject on a criterion. The weighting
// fields are recomputed by the scoring engine whenever the rater's rows or
// their consensus context change; they are derived, never client-supplied.
type Evaluation struct {
	ID                string    `json:"id" db:"id"`
	EvaluatorID       string    `json:"evaluator_id" db:"evaluator_id"`
	SubjectID         string    `json:"subject_id" db:"subject_id"`
	CriterionID       int64     `json:"criterion_id" db:"criterion_id"`
	Score             int       `json:"score" db:"score"`
	Familiarity       *int      `json:"familiarity,omitempty" db:"familiarity"`
	NormalizedScore   *float64  `json:"normalized_score,omitempty" db:"normalized_score"`
	Pending           bool      `json:"pending" db:"pending"`
	RaterMean         *float64  `json:"rater_mean,omitempty" db:"rater_mean"`
	RaterStddev       *float64  `json:"rater_stddev,omitempty" db:"rater_stddev"`
	ReliabilityWeight *float64  `json:"reliability_weight,omitempty" db:"reliability_weight"`
	ExtremeRateWeight *float64  `json:"extreme_rate_weight,omitempty" db:"extreme_rate_weight"`
	ObjectivityScore  *float64  `json:"objectivity_score,omitempty" db:"objectivity_score"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// EvaluationMeta gates an evaluation's visibility to consensus aggregation.
type EvaluationMeta struct {
	EvaluationID string    `json:"evaluation_id" db:"evaluation_id"`
	Status       string    `json:"status" db:"status"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// RaterStats is a materialized per-rater statistics cache, always derivable
// from the evaluations table.
type RaterStats struct {
	UserID       string    `json:"user_id" db:"user_id"`
	RatingsCount int       `json:"ratings_count" db:"ratings_count"`
	MeanScore    float64   `json:"mean_score" db:"mean_score"`
	StdScore     float64   `json:"std_score" db:"std_score"`
	ExtremeRate  float64   `json:"extreme_rate" db:"extreme_rate"`
	Reliability  float64   `json:"reliability" db:"reliability"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Friendship is a directed edge; a confirmed row in either direction makes
// the pair eligible for each other's task queues.
type Friendship struct {
	ID          string    `json:"id" db:"id"`
	FromUserID  string    `json:"from_user_id" db:"from_user_id"`
	ToUserID    string    `json:"to_user_id" db:"to_user_id"`
	IsConfirmed bool      `json:"is_confirmed" db:"is_confirmed"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// NewUser creates a user with a generated ID.
func NewUser(username string) *User {
	return &User{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
}

// NewEvaluation creates an unsubmitted evaluation with a generated ID. The
// weighting fields stay nil until the scoring engine runs.
func NewEvaluation(evaluatorID, subjectID string, criterionID int64, score int, familiarity *int) *Evaluation {
	return &Evaluation{
		ID:          uuid.New().String(),
		EvaluatorID: evaluatorID,
		SubjectID:   subjectID,
		CriterionID: criterionID,
		Score:       score,
		Familiarity: familiarity,
		Pending:     true,
		CreatedAt:   time.Now().UTC(),
	}
}

// NewFriendship creates an unconfirmed directed friendship edge.
func NewFriendship(fromUserID, toUserID string) *Friendship {
	return &Friendship{
		ID:         uuid.New().String(),
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		CreatedAt:  time.Now().UTC(),
	}
}
