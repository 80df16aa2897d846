// Package evaluations orchestrates the scoring engine: submissions,
// cooldown enforcement, meta gating, and the transactional recompute that
// keeps every rater's weights consistent with the consensus they moved.
package evaluations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/peerpulse/peerpulse/internal/config"
	"github.com/peerpulse/peerpulse/internal/database"
	apperrors "github.com/peerpulse/peerpulse/internal/errors"
	"github.com/peerpulse/peerpulse/internal/monitoring"
	"github.com/peerpulse/peerpulse/internal/scoring"
)

// Service wires the repository, the scoring engine, and the thresholds.
type Service struct {
	db      *database.DB
	repo    *database.Repository
	cfg     *config.Config
	metrics *monitoring.Metrics
	logger  *monitoring.Logger
}

// NewService creates the evaluation service.
func NewService(db *database.DB, repo *database.Repository, cfg *config.Config, metrics *monitoring.Metrics, logger *monitoring.Logger) *Service {
	return &Service{
		db:      db,
		repo:    repo,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

func (s *Service) scoringConfig() scoring.Config {
	return scoring.Config{
		ScaleMin:   float64(s.cfg.ScaleMin),
		ScaleMax:   float64(s.cfg.ScaleMax),
		StddevMode: scoring.StddevMode(s.cfg.StddevMode),
	}
}

// CreateInput is a submission as the handler hands it over, evaluator
// already authenticated upstream.
type CreateInput struct {
	EvaluatorID string
	SubjectID   string
	CriterionID int64
	Score       int
	Familiarity *int
}

// Create validates and stores an evaluation, then recomputes the weights of
// every rater whose consensus context the write changed. The insert, the
// meta gating, and all recomputes commit atomically.
func (s *Service) Create(ctx context.Context, in CreateInput) (*database.Evaluation, error) {
	if in.Score < s.cfg.ScaleMin || in.Score > s.cfg.ScaleMax {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("score must be between %d and %d", s.cfg.ScaleMin, s.cfg.ScaleMax))
	}
	if in.Familiarity != nil && (*in.Familiarity < s.cfg.ScaleMin || *in.Familiarity > s.cfg.ScaleMax) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("familiarity must be between %d and %d", s.cfg.ScaleMin, s.cfg.ScaleMax))
	}
	if in.EvaluatorID == in.SubjectID {
		return nil, apperrors.NewValidationError("self-evaluation is not allowed")
	}

	if _, err := s.repo.GetUser(ctx, in.EvaluatorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("evaluator", in.EvaluatorID)
		}
		return nil, err
	}
	if _, err := s.repo.GetUser(ctx, in.SubjectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("subject", in.SubjectID)
		}
		return nil, err
	}
	if _, err := s.repo.GetCriterion(ctx, in.CriterionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("criterion", fmt.Sprintf("%d", in.CriterionID))
		}
		return nil, err
	}

	// Cooldown: the same rater may re-rate a pair only after the repeat
	// window has elapsed. There is no uniqueness constraint; history stays.
	if window := s.cfg.RepeatWindow(); window > 0 {
		last, err := s.repo.LastRatedAt(ctx, in.EvaluatorID, in.SubjectID, in.CriterionID)
		if err != nil {
			return nil, err
		}
		if last != nil {
			if retryAt := last.Add(window); time.Now().UTC().Before(retryAt) {
				s.metrics.IncrementCooldownRejection()
				return nil, apperrors.NewCooldownError(retryAt)
			}
		}
	}

	eval := database.NewEvaluation(in.EvaluatorID, in.SubjectID, in.CriterionID, in.Score, in.Familiarity)

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		repo := s.repo.WithTx(tx)
		now := time.Now().UTC()

		if err := repo.InsertEvaluation(ctx, eval); err != nil {
			return err
		}

		// An incoming evaluation only counts once its subject has given
		// enough outbound ratings of their own.
		subjectOutbound, err := repo.OutboundCount(ctx, in.SubjectID)
		if err != nil {
			return err
		}
		status := database.StatusPending
		if subjectOutbound >= s.cfg.MinOutbound {
			status = database.StatusActive
		}
		if err := repo.InsertEvaluationMeta(ctx, &database.EvaluationMeta{
			EvaluationID: eval.ID,
			Status:       status,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			return err
		}

		// This write may have pushed the evaluator over the activity
		// threshold; if so their own received ratings become visible.
		evaluatorOutbound, err := repo.OutboundCount(ctx, in.EvaluatorID)
		if err != nil {
			return err
		}
		if evaluatorOutbound >= s.cfg.MinOutbound {
			promoted, err := repo.PromotePendingMetas(ctx, in.EvaluatorID, now)
			if err != nil {
				return err
			}
			if promoted > 0 {
				s.metrics.AddMetaPromotions(promoted)
				s.logger.SystemLogger("metas_promoted",
					fmt.Sprintf("subject %s crossed outbound threshold, %d evaluations activated", in.EvaluatorID, promoted))
			}
		}

		affected, err := s.affectedRaters(ctx, repo, in.EvaluatorID, scoring.Pair{
			SubjectID:   in.SubjectID,
			CriterionID: in.CriterionID,
		})
		if err != nil {
			return err
		}
		for _, raterID := range affected {
			if err := s.recomputeRater(ctx, repo, raterID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementEvaluationCreated()

	return s.repo.GetEvaluation(ctx, eval.ID)
}

// Delete removes an evaluation and recomputes every rater whose consensus
// the removal shifts. Only the original evaluator may delete.
func (s *Service) Delete(ctx context.Context, evaluationID, callerID string) error {
	eval, err := s.repo.GetEvaluation(ctx, evaluationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError("evaluation", evaluationID)
		}
		return err
	}
	if eval.EvaluatorID != callerID {
		return apperrors.NewForbiddenError("only the evaluator may delete an evaluation")
	}

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		repo := s.repo.WithTx(tx)

		// Collect the raters to touch before the row disappears.
		affected, err := s.affectedRaters(ctx, repo, eval.EvaluatorID, scoring.Pair{
			SubjectID:   eval.SubjectID,
			CriterionID: eval.CriterionID,
		})
		if err != nil {
			return err
		}

		if err := repo.DeleteEvaluation(ctx, eval.ID); err != nil {
			return err
		}

		for _, raterID := range affected {
			if err := s.recomputeRater(ctx, repo, raterID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.IncrementEvaluationDeleted()
	return nil
}

// Get fetches one evaluation.
func (s *Service) Get(ctx context.Context, evaluationID string) (*database.Evaluation, error) {
	eval, err := s.repo.GetEvaluation(ctx, evaluationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("evaluation", evaluationID)
		}
		return nil, err
	}
	return eval, nil
}

// ListByEvaluator returns the evaluations a rater has given.
func (s *Service) ListByEvaluator(ctx context.Context, evaluatorID string) ([]*database.Evaluation, error) {
	return s.repo.RaterEvaluations(ctx, evaluatorID)
}

// RaterStats returns the materialized statistics row for a rater.
func (s *Service) RaterStats(ctx context.Context, userID string) (*database.RaterStats, error) {
	stats, err := s.repo.GetRaterStats(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("rater stats", userID)
		}
		return nil, err
	}
	return stats, nil
}

// affectedRaters is the write's rater plus everyone else who scored the
// same (subject, criterion) pair, since the pair consensus moved for all
// of them.
func (s *Service) affectedRaters(ctx context.Context, repo *database.Repository, raterID string, pair scoring.Pair) ([]string, error) {
	peers, err := repo.RaterIDsForPair(ctx, pair.SubjectID, pair.CriterionID)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{raterID: true}
	affected := []string{raterID}
	for _, id := range peers {
		if !seen[id] {
			seen[id] = true
			affected = append(affected, id)
		}
	}
	return affected, nil
}

// recomputeRater runs the full weighting engine over one rater: consensus
// deviation, extreme-rate damping, normalization, and the materialized
// rater_stats row. Raters with no remaining evaluations keep a zeroed row.
func (s *Service) recomputeRater(ctx context.Context, repo *database.Repository, raterID string) error {
	start := time.Now()

	evals, err := repo.RaterEvaluations(ctx, raterID)
	if err != nil {
		return err
	}
	if len(evals) == 0 {
		return repo.UpsertRaterStats(ctx, &database.RaterStats{
			UserID:    raterID,
			UpdatedAt: time.Now().UTC(),
		})
	}

	obs := make([]scoring.Observation, len(evals))
	pairSet := make(map[scoring.Pair]bool)
	for i, e := range evals {
		pair := scoring.Pair{SubjectID: e.SubjectID, CriterionID: e.CriterionID}
		obs[i] = scoring.Observation{ID: e.ID, Pair: pair, Score: float64(e.Score)}
		pairSet[pair] = true
	}
	pairs := make([]scoring.Pair, 0, len(pairSet))
	for pair := range pairSet {
		pairs = append(pairs, pair)
	}

	consensus, err := repo.ConsensusAverages(ctx, pairs)
	if err != nil {
		return err
	}

	weights := scoring.ComputeRaterWeights(obs, consensus, s.scoringConfig())
	if err := repo.ApplyRaterWeights(ctx, raterID, weights); err != nil {
		return err
	}

	// The cached per-rater statistics only see ACTIVE evaluations, and
	// their deviations are measured against the ACTIVE consensus.
	activeObs, err := repo.ActiveObservationsByRater(ctx, raterID)
	if err != nil {
		return err
	}
	activePairSet := make(map[scoring.Pair]bool)
	for _, o := range activeObs {
		activePairSet[o.Pair] = true
	}
	activePairs := make([]scoring.Pair, 0, len(activePairSet))
	for pair := range activePairSet {
		activePairs = append(activePairs, pair)
	}
	activeConsensus, err := repo.ActiveConsensusAverages(ctx, activePairs)
	if err != nil {
		return err
	}
	summary := scoring.ComputeRaterSummary(activeObs, activeConsensus, s.scoringConfig())
	if err := repo.UpsertRaterStats(ctx, &database.RaterStats{
		UserID:       raterID,
		RatingsCount: summary.Count,
		MeanScore:    summary.Mean,
		StdScore:     summary.Stddev,
		ExtremeRate:  summary.ExtremeRate,
		Reliability:  summary.Reliability,
		UpdatedAt:    time.Now().UTC(),
	}); err != nil {
		return err
	}

	s.metrics.IncrementRecompute()
	s.logger.RecomputeLogger(raterID, len(obs), weights.ReliabilityWeight, weights.ExtremeRateWeight, time.Since(start))
	return nil
}

// RecomputeAll reruns the engine over every rater in the table. Used by the
// batch tool; idempotent.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	raterIDs, err := s.repo.AllRaterIDs(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, raterID := range raterIDs {
		err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
			return s.recomputeRater(ctx, s.repo.WithTx(tx), raterID)
		})
		if err != nil {
			return count, fmt.Errorf("failed to recompute rater %s: %w", raterID, err)
		}
		count++
	}
	return count, nil
}

// PurgeUser erases a user and every evaluation they gave or received, then
// recomputes the raters whose consensus pairs the removal touched. The
// deletion and the recomputes commit together.
func (s *Service) PurgeUser(ctx context.Context, userID string) error {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError("user", userID)
		}
		return err
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		repo := s.repo.WithTx(tx)

		// Every pair the user participated in, from either side, has its
		// consensus shifted by the purge.
		given, err := repo.RaterEvaluations(ctx, userID)
		if err != nil {
			return err
		}
		received, err := repo.SubjectEvaluations(ctx, userID)
		if err != nil {
			return err
		}

		pairSet := make(map[scoring.Pair]bool)
		for _, e := range append(given, received...) {
			pairSet[scoring.Pair{SubjectID: e.SubjectID, CriterionID: e.CriterionID}] = true
		}

		affected := make(map[string]bool)
		for pair := range pairSet {
			raters, err := repo.RaterIDsForPair(ctx, pair.SubjectID, pair.CriterionID)
			if err != nil {
				return err
			}
			for _, id := range raters {
				if id != userID {
					affected[id] = true
				}
			}
		}

		if err := repo.DeleteUser(ctx, userID); err != nil {
			return err
		}

		for raterID := range affected {
			if err := s.recomputeRater(ctx, repo, raterID); err != nil {
				return err
			}
		}
		return nil
	})
}

// PromoteEligible promotes pending metas for every user past the outbound
// threshold. Used by the batch tool after threshold changes.
func (s *Service) PromoteEligible(ctx context.Context) (int64, error) {
	raterIDs, err := s.repo.AllRaterIDs(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, raterID := range raterIDs {
		outbound, err := s.repo.OutboundCount(ctx, raterID)
		if err != nil {
			return total, err
		}
		if outbound < s.cfg.MinOutbound {
			continue
		}
		promoted, err := s.repo.PromotePendingMetas(ctx, raterID, time.Now().UTC())
		if err != nil {
			return total, err
		}
		total += promoted
	}
	if total > 0 {
		s.metrics.AddMetaPromotions(total)
	}
	return total, nil
}

// PromoteAll activates every pending evaluation regardless of its subject's
// outbound count. Intended for repair tooling, not request paths.
func (s *Service) PromoteAll(ctx context.Context) (int64, error) {
	promoted, err := s.repo.PromoteAllPendingMetas(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if promoted > 0 {
		s.metrics.AddMetaPromotions(promoted)
	}
	return promoted, nil
}
