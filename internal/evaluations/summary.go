package evaluations

import (
	"context"
	"database/sql"
	"errors"

	apperrors "github.com/peerpulse/peerpulse/internal/errors"
	"github.com/peerpulse/peerpulse/internal/scoring"
)

// Gating reports whether a subject's consensus is exposed at all and how
// far along they are.
type Gating struct {
	Eligible      bool `json:"eligible"`
	Threshold     int  `json:"threshold"`
	OutboundCount int  `json:"outbound_count"`
}

// SubjectSummary is the consensus view of one subject across criteria.
type SubjectSummary struct {
	SubjectID string               `json:"subject_id"`
	Results   []scoring.SummaryRow `json:"results"`
	Gating    Gating               `json:"gating"`
}

// Summary aggregates every ACTIVE evaluation into per-(subject, criterion)
// consensus rows. Groups under the minimum rating count are withheld.
func (s *Service) Summary(ctx context.Context) ([]scoring.SummaryRow, error) {
	rows, err := s.repo.ActiveWeightedRows(ctx, "")
	if err != nil {
		return nil, err
	}
	return scoring.Summarize(rows, s.cfg.MinRatings), nil
}

// SummaryForSubject aggregates one subject's ACTIVE evaluations and attaches
// the gating block so clients can explain an empty result.
func (s *Service) SummaryForSubject(ctx context.Context, subjectID string) (*SubjectSummary, error) {
	if _, err := s.repo.GetUser(ctx, subjectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("user", subjectID)
		}
		return nil, err
	}

	rows, err := s.repo.ActiveWeightedRows(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	outbound, err := s.repo.OutboundCount(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	return &SubjectSummary{
		SubjectID: subjectID,
		Results:   scoring.Summarize(rows, s.cfg.MinRatings),
		Gating: Gating{
			Eligible:      outbound >= s.cfg.MinOutbound,
			Threshold:     s.cfg.MinOutbound,
			OutboundCount: outbound,
		},
	}, nil
}
