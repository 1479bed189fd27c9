package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/examgrader/internal/cost"
	"github.com/pavelanni/examgrader/internal/model"
)

var (
	// ErrExamNotGradable is returned for a missing exam or one whose status
	// does not accept submissions.
	ErrExamNotGradable = errors.New("exam is not gradable")
	// ErrNoQuestions is returned for an exam without questions.
	ErrNoQuestions = errors.New("exam has no questions")
	// ErrInvalidAttempt is returned for an attempt number below 1.
	ErrInvalidAttempt = errors.New("attempt number must be at least 1")
)

// QuestionGrader grades a single question and never fails.
type QuestionGrader interface {
	GradeQuestion(ctx context.Context, q model.Question, answer string, maxPoints int, lang string) model.GradedQuestion
}

// Gradable reports whether an exam in the given status accepts a submission.
// Graded exams accept further attempts.
func Gradable(s model.ExamStatus) bool {
	return s == model.ExamReady || s == model.ExamGraded
}

// Engine grades whole exams.
type Engine struct {
	grader         QuestionGrader
	scale          Scale
	accountant     *cost.Accountant
	maxConcurrency int
	now            func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithScale sets the grade threshold table.
func WithScale(s Scale) EngineOption { return func(e *Engine) { e.scale = s } }

// WithEnginePricing sets the price table for the run-level cost summary.
func WithEnginePricing(p cost.Pricing) EngineOption {
	return func(e *Engine) { e.accountant = cost.NewAccountant(p) }
}

// WithMaxConcurrency limits how many questions are graded at once.
// Zero means one goroutine per question.
func WithMaxConcurrency(n int) EngineOption { return func(e *Engine) { e.maxConcurrency = n } }

// WithClock overrides the time source for timestamps.
func WithClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

// NewEngine creates an Engine around a question grader.
func NewEngine(g QuestionGrader, opts ...EngineOption) *Engine {
	e := &Engine{
		grader:     g,
		scale:      DefaultScale(),
		accountant: cost.NewAccountant(cost.DefaultPricing()),
		now:        time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Scale returns the engine's grade table.
func (e *Engine) Scale() Scale {
	return e.scale
}

// GradeExam grades every question of the exam concurrently and aggregates
// the results. It returns a complete result or an error, never a partial
// result. The attempt number is supplied by the caller.
func (e *Engine) GradeExam(ctx context.Context, exam *model.Exam, answers []model.StudentAnswer, attempt int) (*model.GradingResult, error) {
	if err := checkGradable(exam, attempt); err != nil {
		return nil, err
	}
	submittedAt := e.now()

	byQuestion := make(map[int64]string, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a.Answer
	}

	graded := make([]model.GradedQuestion, len(exam.Questions))
	var g errgroup.Group
	if e.maxConcurrency > 0 {
		g.SetLimit(e.maxConcurrency)
	}
	for i, q := range exam.Questions {
		g.Go(func() error {
			graded[i] = e.grader.GradeQuestion(ctx, q, byQuestion[q.ID], q.MaxPoints, exam.Language)
			return nil
		})
	}
	_ = g.Wait()

	res := &model.GradingResult{
		ID:            uuid.NewString(),
		ExamID:        exam.ID,
		AttemptNumber: attempt,
		Questions:     graded,
		SubmittedAt:   submittedAt,
	}
	e.aggregate(res)
	res.GradedAt = e.now()

	slog.Info("exam graded",
		"exam_id", exam.ID,
		"attempt", attempt,
		"points", res.TotalPoints,
		"max_points", res.MaxTotalPoints,
		"percentage", res.Percentage,
		"grade", res.FinalGrade,
		"primary_method", res.Methods.Primary,
		"cost", res.Cost.EstimatedCost,
	)
	return res, nil
}

func checkGradable(exam *model.Exam, attempt int) error {
	if exam == nil {
		return fmt.Errorf("%w: exam not found", ErrExamNotGradable)
	}
	if !Gradable(exam.Status) {
		return fmt.Errorf("%w: status %q", ErrExamNotGradable, exam.Status)
	}
	if len(exam.Questions) == 0 {
		return ErrNoQuestions
	}
	if attempt < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidAttempt, attempt)
	}
	for _, q := range exam.Questions {
		if q.MaxPoints < 1 {
			return fmt.Errorf("%w: question %d has max points %d", ErrExamNotGradable, q.ID, q.MaxPoints)
		}
	}
	return nil
}

func (e *Engine) aggregate(res *model.GradingResult) {
	var total float64
	var maxTotal int
	for _, q := range res.Questions {
		total += q.PointsAwarded
		maxTotal += q.MaxPoints
		switch q.Method {
		case model.MethodAI:
			res.Methods.AI++
		default:
			res.Methods.RuleBased++
		}
	}

	res.TotalPoints = roundPoints(total)
	res.MaxTotalPoints = maxTotal
	res.Percentage = int(math.Round(100 * total / float64(maxTotal)))
	res.FinalGrade = e.scale.Grade(res.Percentage)

	res.Methods.Primary = model.MethodRuleBased
	if res.Methods.AI > res.Methods.RuleBased {
		res.Methods.Primary = model.MethodAI
	}

	res.Cost = e.accountant.SumGraded(res.Questions)
}
