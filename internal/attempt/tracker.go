// Package attempt numbers exam attempts and finds the questions a student
// got wrong, reading every grading-result store an exam may live in.
package attempt

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/examgrader/internal/model"
)

// Source is one physical store of grading results.
type Source interface {
	// Name identifies the store in logs and exports.
	Name() string
	// MaxAttempt returns the highest attempt number stored for the exam, or
	// 0 when there are none.
	MaxAttempt(ctx context.Context, examID string) (int, error)
	// Latest returns the result with the highest attempt number, or nil.
	Latest(ctx context.Context, examID string) (*model.GradingResult, error)
}

// Tracker reads attempt history across sources. Sources are listed in
// priority order: when two hold the same attempt number, the earlier wins.
type Tracker struct {
	sources []Source
}

// NewTracker creates a Tracker over one or more sources.
func NewTracker(sources ...Source) (*Tracker, error) {
	if len(sources) == 0 {
		return nil, errors.New("attempt tracker needs at least one source")
	}
	return &Tracker{sources: sources}, nil
}

// NextAttemptNumber returns one more than the highest attempt number in any
// source, or 1 for an exam that was never graded.
func (t *Tracker) NextAttemptNumber(ctx context.Context, examID string) (int, error) {
	highest := 0
	for _, s := range t.sources {
		n, err := s.MaxAttempt(ctx, examID)
		if err != nil {
			return 0, fmt.Errorf("read max attempt from %s: %w", s.Name(), err)
		}
		highest = max(highest, n)
	}
	return highest + 1, nil
}

// LatestResult returns the most recent result across sources along with the
// name of the source that holds it. Both are zero when nothing was graded.
func (t *Tracker) LatestResult(ctx context.Context, examID string) (*model.GradingResult, string, error) {
	var (
		latest *model.GradingResult
		from   string
	)
	for _, s := range t.sources {
		r, err := s.Latest(ctx, examID)
		if err != nil {
			return nil, "", fmt.Errorf("read latest result from %s: %w", s.Name(), err)
		}
		if r == nil {
			continue
		}
		if latest == nil || r.AttemptNumber > latest.AttemptNumber {
			latest, from = r, s.Name()
		}
	}
	return latest, from, nil
}

// WrongQuestionIDs returns the IDs of questions awarded less than full
// credit in the latest attempt only. An exam with no attempts yields an
// empty list.
func (t *Tracker) WrongQuestionIDs(ctx context.Context, examID string) ([]int64, error) {
	latest, _, err := t.LatestResult(ctx, examID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return []int64{}, nil
	}
	return latest.WrongQuestionIDs(), nil
}
