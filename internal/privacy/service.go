// Package privacy implements the data-subject operations: full account
// erasure and the retention policy surface. Scores a purged user gave are
// removed, so their peers' weights are recomputed as part of the erasure.
package privacy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/peerpulse/peerpulse/internal/evaluations"
)

// Service handles privacy compliance on top of the evaluation engine.
type Service struct {
	engine *evaluations.Service
}

// NewService creates a privacy service.
func NewService(engine *evaluations.Service) *Service {
	return &Service{engine: engine}
}

// AnonymizeID returns a stable hash of a user id safe for log output.
func AnonymizeID(id string) string {
	hash := sha256.Sum256([]byte(id))
	return hex.EncodeToString(hash[:])[:12]
}

// DeleteUserData erases a user account: the user row, their friendships,
// every evaluation they gave or received, and their rater statistics. The
// raters whose consensus pairs lose rows get recomputed in the same
// transaction, so no stale weight survives the erasure.
func (s *Service) DeleteUserData(ctx context.Context, userID string) error {
	anon := AnonymizeID(userID)
	slog.Info("Initiating account data deletion", "user", anon)

	start := time.Now()
	if err := s.engine.PurgeUser(ctx, userID); err != nil {
		return err
	}

	slog.Info("Account data deletion completed", "user", anon, "duration", time.Since(start).String())
	return nil
}

// RetentionInfo describes the retention policy for the data this service
// stores. Served on the policy endpoint.
func (s *Service) RetentionInfo() map[string]interface{} {
	return map[string]interface{}{
		"evaluation_retention":        "kept until the evaluator or subject account is deleted",
		"rater_stats_retention":       "recomputed continuously, deleted with the account",
		"summary_cache_retention":     "seconds (in-memory TTL cache only)",
		"log_anonymization_method":    "SHA-256 prefix",
		"data_deletion_response_time": "immediate, transactional",
	}
}
