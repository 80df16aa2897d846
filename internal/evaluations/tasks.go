package evaluations

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"time"

	apperrors "github.com/peerpulse/peerpulse/internal/errors"
	"github.com/peerpulse/peerpulse/internal/scoring"
)

// Task is one (friend, criterion) pair the caller can rate right now.
type Task struct {
	SubjectID     string `json:"subjectId"`
	SubjectName   string `json:"subjectName"`
	CriterionID   int64  `json:"criterionId"`
	CriterionName string `json:"criterionName"`
	FirstTime     bool   `json:"firstTime"`
}

// Tasks lists the rating opportunities for a user: confirmed friends (in
// either direction) crossed with all criteria, keeping only pairs the user
// has never rated or whose last rating has aged past the repeat window.
// Order is shuffled so clients do not always see the same friend first.
func (s *Service) Tasks(ctx context.Context, userID string) ([]Task, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("user", userID)
		}
		return nil, err
	}

	friendIDs, err := s.repo.ConfirmedFriendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	criteria, err := s.repo.ListCriteria(ctx)
	if err != nil {
		return nil, err
	}

	history, err := s.repo.RaterLastRated(ctx, userID)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-s.cfg.RepeatWindow())

	tasks := make([]Task, 0, len(friendIDs)*len(criteria))
	for _, friendID := range friendIDs {
		friend, err := s.repo.GetUser(ctx, friendID)
		if err != nil {
			return nil, err
		}

		for _, criterion := range criteria {
			pair := scoring.Pair{SubjectID: friendID, CriterionID: criterion.ID}
			last, rated := history[pair]
			if rated && !last.Before(cutoff) {
				continue
			}
			tasks = append(tasks, Task{
				SubjectID:     friendID,
				SubjectName:   friend.Username,
				CriterionID:   criterion.ID,
				CriterionName: criterion.Name,
				FirstTime:     !rated,
			})
		}
	}

	rand.Shuffle(len(tasks), func(i, j int) {
		tasks[i], tasks[j] = tasks[j], tasks[i]
	})

	return tasks, nil
}
