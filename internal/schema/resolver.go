// Package schema locates the evaluation table's column names from candidate
// name tokens so the scoring queries are not hard-coded to one deployment's
// naming. Resolution happens once at startup against the live schema and
// fails fast when a required column cannot be found.
package schema

import (
	"database/sql"
	"fmt"
	"strings"
)

// Candidate tokens per role, in priority order.
var (
	SubjectCandidates     = []string{"subject", "target", "rated_user", "profile", "user"}
	RaterCandidates       = []string{"rater", "evaluator", "author", "user"}
	CriterionCandidates   = []string{"criterion", "criteria", "trait"}
	ScoreCandidates       = []string{"score", "rating", "value", "points"}
	FamiliarityCandidates = []string{"familiarity", "confidence"}
)

// InferenceError reports a required column that could not be resolved. It is
// a configuration defect, surfaced as a 500-equivalent, never user input.
type InferenceError struct {
	Role    string
	Table   string
	Columns []string
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("schema inference failed: no %s column in table %s (columns: %s)",
		e.Role, e.Table, strings.Join(e.Columns, ", "))
}

// EvaluationSchema holds the resolved column names the repository builds its
// queries from. Familiarity is optional and empty when the table has none.
type EvaluationSchema struct {
	Table       string
	Subject     string
	Rater       string
	Criterion   string
	Score       string
	Familiarity string
}

// ResolveColumn returns the first candidate matching a column, preferring an
// exact match (the candidate itself, or candidate + "_id" for foreign keys)
// over a substring match. Returns "" when nothing matches.
func ResolveColumn(columns []string, candidates []string) string {
	for _, cand := range candidates {
		for _, col := range columns {
			if col == cand || col == cand+"_id" {
				return col
			}
		}
	}
	for _, cand := range candidates {
		for _, col := range columns {
			if strings.Contains(col, cand) {
				return col
			}
		}
	}
	return ""
}

// resolveDistinct resolves like ResolveColumn but skips already-taken
// columns, so two user foreign keys cannot collapse onto one.
func resolveDistinct(columns []string, candidates []string, taken map[string]bool) string {
	free := make([]string, 0, len(columns))
	for _, col := range columns {
		if !taken[col] {
			free = append(free, col)
		}
	}
	return ResolveColumn(free, candidates)
}

// Infer resolves the full evaluation schema against a table's live columns.
func Infer(db *sql.DB, table string) (*EvaluationSchema, error) {
	columns, err := tableColumns(db, table)
	if err != nil {
		return nil, err
	}
	return InferFromColumns(table, columns)
}

// InferFromColumns resolves the schema from an explicit column list.
func InferFromColumns(table string, columns []string) (*EvaluationSchema, error) {
	s := &EvaluationSchema{Table: table}
	taken := make(map[string]bool)

	s.Subject = resolveDistinct(columns, SubjectCandidates, taken)
	if s.Subject == "" {
		return nil, &InferenceError{Role: "subject", Table: table, Columns: columns}
	}
	taken[s.Subject] = true

	s.Rater = resolveDistinct(columns, RaterCandidates, taken)
	if s.Rater == "" {
		return nil, &InferenceError{Role: "rater", Table: table, Columns: columns}
	}
	taken[s.Rater] = true

	s.Criterion = resolveDistinct(columns, CriterionCandidates, taken)
	if s.Criterion == "" {
		return nil, &InferenceError{Role: "criterion", Table: table, Columns: columns}
	}
	taken[s.Criterion] = true

	s.Score = resolveDistinct(columns, ScoreCandidates, taken)
	if s.Score == "" {
		return nil, &InferenceError{Role: "score", Table: table, Columns: columns}
	}
	taken[s.Score] = true

	// Optional: familiarity weighting degrades to 1.0 without it.
	s.Familiarity = resolveDistinct(columns, FamiliarityCandidates, taken)

	return s, nil
}

func tableColumns(db *sql.DB, table string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read schema for %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan schema row for %s: %w", table, err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, &InferenceError{Role: "table", Table: table, Columns: nil}
	}
	return columns, nil
}
