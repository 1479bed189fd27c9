// Package submission runs a student's submission end to end: exam lookup,
// attempt numbering, grading and persistence.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pavelanni/examgrader/internal/grading"
	"github.com/pavelanni/examgrader/internal/model"
)

// ErrExamNotFound is returned when the exam ID is unknown.
var ErrExamNotFound = errors.New("exam not found")

// ExamStore is the persistence the service needs.
type ExamStore interface {
	FindExamByID(ctx context.Context, id string) (*model.Exam, error)
	SaveResult(ctx context.Context, r *model.GradingResult) error
	UpdateExamStatus(ctx context.Context, id string, status model.ExamStatus) error
}

// AttemptCounter hands out attempt numbers.
type AttemptCounter interface {
	NextAttemptNumber(ctx context.Context, examID string) (int, error)
}

// ExamGrader grades a whole exam.
type ExamGrader interface {
	GradeExam(ctx context.Context, exam *model.Exam, answers []model.StudentAnswer, attempt int) (*model.GradingResult, error)
}

// Outcome is the completion of a background submission.
type Outcome struct {
	Result *model.GradingResult
	Err    error
}

// Service grades and records submissions. Callers serialize submissions
// for the same exam; the store rejects a second write of one attempt.
type Service struct {
	exams    ExamStore
	attempts AttemptCounter
	engine   ExamGrader

	wg sync.WaitGroup
}

// New creates a Service.
func New(exams ExamStore, attempts AttemptCounter, engine ExamGrader) *Service {
	return &Service{exams: exams, attempts: attempts, engine: engine}
}

// Submit grades the answers as the next attempt of the exam, stores the
// result and marks the exam graded.
func (s *Service) Submit(ctx context.Context, examID string, answers []model.StudentAnswer) (*model.GradingResult, error) {
	exam, err := s.exams.FindExamByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load exam %s: %w", examID, err)
	}
	if exam == nil {
		return nil, fmt.Errorf("%w: %s", ErrExamNotFound, examID)
	}
	if !grading.Gradable(exam.Status) {
		return nil, fmt.Errorf("%w: exam %s has status %q", grading.ErrExamNotGradable, examID, exam.Status)
	}

	attempt, err := s.attempts.NextAttemptNumber(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("next attempt for exam %s: %w", examID, err)
	}

	res, err := s.engine.GradeExam(ctx, exam, answers, attempt)
	if err != nil {
		return nil, err
	}

	if err := s.exams.SaveResult(ctx, res); err != nil {
		slog.Error("failed to save grading result", "exam_id", examID, "attempt", attempt, "error", err)
		return nil, fmt.Errorf("save result: %w", err)
	}
	// The attempt is recorded at this point, so a failed status update only
	// leaves the status stale and does not fail the submission.
	if exam.Status != model.ExamGraded {
		if err := s.exams.UpdateExamStatus(ctx, examID, model.ExamGraded); err != nil {
			slog.Error("failed to update exam status", "exam_id", examID, "attempt", attempt, "error", err)
		}
	}
	return res, nil
}

// SubmitAsync runs Submit in the background and returns a channel that
// receives exactly one Outcome. The work outlives ctx cancellation, so an
// HTTP handler may return before grading finishes. When grading or
// persistence fails for an exam that is still ready, the exam is marked
// failed. Graded exams and attempts lost to a concurrent submission keep
// their status.
func (s *Service) SubmitAsync(ctx context.Context, examID string, answers []model.StudentAnswer) <-chan Outcome {
	done := make(chan Outcome, 1)
	ctx = context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)

		res, err := s.Submit(ctx, examID, answers)
		if err != nil {
			slog.Error("background grading failed", "exam_id", examID, "error", err)
			s.markFailed(ctx, examID, err)
		}
		done <- Outcome{Result: res, Err: err}
	}()
	return done
}

func (s *Service) markFailed(ctx context.Context, examID string, cause error) {
	if errors.Is(cause, ErrExamNotFound) ||
		errors.Is(cause, grading.ErrExamNotGradable) ||
		errors.Is(cause, model.ErrAttemptExists) {
		return
	}
	// Re-read: a concurrent submission may have graded the exam meanwhile.
	exam, err := s.exams.FindExamByID(ctx, examID)
	if err != nil || exam == nil {
		slog.Error("failed to reload exam", "exam_id", examID, "error", err)
		return
	}
	if exam.Status != model.ExamReady {
		return
	}
	if err := s.exams.UpdateExamStatus(ctx, examID, model.ExamFailed); err != nil {
		slog.Error("failed to mark exam failed", "exam_id", examID, "error", err)
	}
}

// Wait blocks until every background submission has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
