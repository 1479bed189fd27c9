package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pavelanni/examgrader/internal/model"
)

// ExportHistory builds the attempt history of an exam from both result
// tables. It returns nil if the exam does not exist.
func (s *Store) ExportHistory(ctx context.Context, examID string) (*model.HistoryExport, error) {
	exam, err := s.FindExamByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam == nil {
		return nil, nil
	}

	current, err := s.ListResults(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	legacy, err := s.Legacy().List(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list legacy results: %w", err)
	}

	attempts := make([]model.AttemptExport, 0, len(current)+len(legacy))
	for _, r := range legacy {
		attempts = append(attempts, attemptExport(r, s.Legacy().Name()))
	}
	for _, r := range current {
		attempts = append(attempts, attemptExport(r, s.Current().Name()))
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].AttemptNumber < attempts[j].AttemptNumber
	})

	questions := make([]model.QuestionSummary, len(exam.Questions))
	for i, q := range exam.Questions {
		questions[i] = model.QuestionSummary{ID: q.ID, Text: q.Text, Type: q.Type, MaxPoints: q.MaxPoints}
	}

	return &model.HistoryExport{
		ExamID:     exam.ID,
		Subject:    exam.Subject,
		GradeLevel: exam.GradeLevel,
		Status:     exam.Status,
		ExportedAt: time.Now().UTC(),
		Attempts:   attempts,
		Questions:  questions,
	}, nil
}

func attemptExport(r *model.GradingResult, source string) model.AttemptExport {
	return model.AttemptExport{
		AttemptNumber:  r.AttemptNumber,
		Source:         source,
		TotalPoints:    r.TotalPoints,
		MaxTotalPoints: r.MaxTotalPoints,
		Percentage:     r.Percentage,
		FinalGrade:     r.FinalGrade,
		WrongQuestions: r.WrongQuestionIDs(),
		EstimatedCost:  r.Cost.EstimatedCost,
		GradedAt:       r.GradedAt,
	}
}
