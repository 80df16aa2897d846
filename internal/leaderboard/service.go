// Package leaderboard ranks subjects by their consensus-weighted averages
// per criterion. Rankings are built from the same gated summary rows the
// summary endpoints serve, so a subject hidden there is hidden here too.
package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/peerpulse/peerpulse/internal/config"
	"github.com/peerpulse/peerpulse/internal/database"
	apperrors "github.com/peerpulse/peerpulse/internal/errors"
	"github.com/peerpulse/peerpulse/internal/scoring"
)

// Entry is one ranked subject on a criterion.
type Entry struct {
	Rank              int     `json:"rank"`
	SubjectID         string  `json:"subject_id"`
	Username          string  `json:"username"`
	CriterionID       int64   `json:"criterion_id"`
	CriterionName     string  `json:"criterion_name"`
	WeightedAverage   float64 `json:"weighted_average"`
	NormalizedAverage float64 `json:"normalized_average"`
	RawCount          int     `json:"raw_count"`
}

// Response is the payload for a leaderboard query.
type Response struct {
	Entries     []Entry   `json:"entries"`
	Total       int       `json:"total"`
	Criterion   string    `json:"criterion"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Service builds criterion leaderboards over the active evaluation set.
type Service struct {
	repo  *database.Repository
	cfg   *config.Config
	cache *RankingCache
}

// NewService creates a leaderboard service with a default cache.
func NewService(repo *database.Repository, cfg *config.Config) *Service {
	return &Service{
		repo:  repo,
		cfg:   cfg,
		cache: NewRankingCache(5 * time.Minute),
	}
}

// NewServiceWithCache creates a leaderboard service with a custom cache.
func NewServiceWithCache(repo *database.Repository, cfg *config.Config, cache *RankingCache) *Service {
	return &Service{repo: repo, cfg: cfg, cache: cache}
}

// GetLeaderboard returns the top subjects for a criterion, best weighted
// average first. Subjects below the minimum rating count never appear.
func (s *Service) GetLeaderboard(ctx context.Context, criterionName string, limit int) (*Response, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	if cached, found := s.cache.GetLeaderboard(criterionName, limit); found {
		return cached, nil
	}

	criterion, err := s.findCriterion(ctx, criterionName)
	if err != nil {
		return nil, err
	}

	entries, err := s.rankCriterion(ctx, criterion)
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}

	response := &Response{
		Entries:     entries,
		Total:       len(entries),
		Criterion:   criterion.Name,
		GeneratedAt: time.Now().UTC(),
	}

	s.cache.SetLeaderboard(criterionName, limit, response)
	return response, nil
}

// GetSubjectRank returns one subject's position on a criterion leaderboard.
func (s *Service) GetSubjectRank(ctx context.Context, criterionName, subjectID string) (*Entry, error) {
	criterion, err := s.findCriterion(ctx, criterionName)
	if err != nil {
		return nil, err
	}

	entries, err := s.rankCriterion(ctx, criterion)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		if entries[i].SubjectID == subjectID {
			return &entries[i], nil
		}
	}
	return nil, apperrors.NewNotFoundError("ranking", fmt.Sprintf("%s on %s", subjectID, criterion.Name))
}

func (s *Service) findCriterion(ctx context.Context, name string) (*database.Criterion, error) {
	criteria, err := s.repo.ListCriteria(ctx)
	if err != nil {
		return nil, err
	}
	for i := range criteria {
		if strings.EqualFold(criteria[i].Name, name) {
			return &criteria[i], nil
		}
	}
	return nil, apperrors.NewNotFoundError("criterion", name)
}

func (s *Service) rankCriterion(ctx context.Context, criterion *database.Criterion) ([]Entry, error) {
	rows, err := s.repo.ActiveWeightedRows(ctx, "")
	if err != nil {
		return nil, err
	}

	summary := scoring.Summarize(rows, s.cfg.MinRatings)

	entries := make([]Entry, 0, len(summary))
	for _, row := range summary {
		if row.CriterionID != criterion.ID {
			continue
		}
		user, err := s.repo.GetUser(ctx, row.SubjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve ranked subject %s: %w", row.SubjectID, err)
		}
		entries = append(entries, Entry{
			SubjectID:         row.SubjectID,
			Username:          user.Username,
			CriterionID:       criterion.ID,
			CriterionName:     criterion.Name,
			WeightedAverage:   row.WeightedAverage,
			NormalizedAverage: row.NormalizedAverage,
			RawCount:          row.RawCount,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].WeightedAverage != entries[j].WeightedAverage {
			return entries[i].WeightedAverage > entries[j].WeightedAverage
		}
		if entries[i].NormalizedAverage != entries[j].NormalizedAverage {
			return entries[i].NormalizedAverage > entries[j].NormalizedAverage
		}
		return entries[i].SubjectID < entries[j].SubjectID
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// GetCacheStats returns leaderboard cache statistics.
func (s *Service) GetCacheStats() map[string]interface{} {
	return s.cache.GetStats()
}

// WarmCache pre-computes the default leaderboard for every criterion.
func (s *Service) WarmCache(ctx context.Context) {
	criteria, err := s.repo.ListCriteria(ctx)
	if err != nil {
		slog.Error("Failed to list criteria for cache warming", "error", err)
		return
	}

	for _, criterion := range criteria {
		if _, err := s.GetLeaderboard(ctx, criterion.Name, 50); err != nil {
			slog.Error("Failed to warm leaderboard cache", "criterion", criterion.Name, "error", err)
		}
	}
	slog.Info("Leaderboard cache warmed", "criteria", len(criteria))
}

// StartAutoRefresh re-warms the cache on an interval until ctx is cancelled.
func (s *Service) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.WarmCache(ctx)
			}
		}
	}()
}
