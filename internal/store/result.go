package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pavelanni/examgrader/internal/model"
)

// ErrAttemptExists is returned when a result for the same exam and attempt
// number is already stored.
var ErrAttemptExists = model.ErrAttemptExists

// SaveResult writes one grading result. Each (exam, attempt) pair can be
// written once.
func (s *Store) SaveResult(ctx context.Context, r *model.GradingResult) error {
	questions, err := json.Marshal(r.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	methods, err := json.Marshal(r.Methods)
	if err != nil {
		return fmt.Errorf("encode methods: %w", err)
	}
	costs, err := json.Marshal(r.Cost)
	if err != nil {
		return fmt.Errorf("encode cost: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO grading_results (id, exam_id, attempt_number, total_points, max_total_points,
			percentage, final_grade, methods_json, cost_json, questions_json, submitted_at, graded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.ExamID, r.AttemptNumber, r.TotalPoints, r.MaxTotalPoints,
		r.Percentage, r.FinalGrade, string(methods), string(costs), string(questions),
		r.SubmittedAt.UnixMilli(), r.GradedAt.UnixMilli(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("exam %s attempt %d: %w", r.ExamID, r.AttemptNumber, ErrAttemptExists)
	}
	if err != nil {
		return fmt.Errorf("save result for exam %s: %w", r.ExamID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const resultColumns = `id, exam_id, attempt_number, total_points, max_total_points, percentage,
	final_grade, methods_json, cost_json, questions_json, submitted_at, graded_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (*model.GradingResult, error) {
	var (
		r                         model.GradingResult
		methods, costs, questions string
		submittedAt, gradedAt     int64
	)
	err := row.Scan(&r.ID, &r.ExamID, &r.AttemptNumber, &r.TotalPoints, &r.MaxTotalPoints, &r.Percentage,
		&r.FinalGrade, &methods, &costs, &questions, &submittedAt, &gradedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(methods), &r.Methods); err != nil {
		return nil, fmt.Errorf("decode methods of result %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(costs), &r.Cost); err != nil {
		return nil, fmt.Errorf("decode cost of result %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(questions), &r.Questions); err != nil {
		return nil, fmt.Errorf("decode questions of result %s: %w", r.ID, err)
	}
	r.SubmittedAt = time.UnixMilli(submittedAt).UTC()
	r.GradedAt = time.UnixMilli(gradedAt).UTC()
	return &r, nil
}

// ListResults returns the current-layout results of an exam by attempt number.
func (s *Store) ListResults(ctx context.Context, examID string) ([]*model.GradingResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM grading_results WHERE exam_id = $1 ORDER BY attempt_number`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []*model.GradingResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CurrentResults reads the grading_results table.
type CurrentResults struct {
	s *Store
}

// Current returns the current result store as an attempt source.
func (s *Store) Current() *CurrentResults {
	return &CurrentResults{s: s}
}

func (c *CurrentResults) Name() string { return "current" }

// MaxAttempt returns the highest stored attempt number, or 0.
func (c *CurrentResults) MaxAttempt(ctx context.Context, examID string) (int, error) {
	var n sql.NullInt64
	err := c.s.db.QueryRowContext(ctx,
		`SELECT MAX(attempt_number) FROM grading_results WHERE exam_id = $1`, examID,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return int(n.Int64), nil
}

// Latest returns the result with the highest attempt number, or nil.
func (c *CurrentResults) Latest(ctx context.Context, examID string) (*model.GradingResult, error) {
	row := c.s.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM grading_results WHERE exam_id = $1
		 ORDER BY attempt_number DESC LIMIT 1`, examID)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// legacyAnswer is one entry of the old answers_json column.
type legacyAnswer struct {
	QuestionID json.RawMessage `json:"questionId"`
	Points     float64         `json:"points"`
	MaxPoints  int             `json:"maxPoints"`
	Feedback   string          `json:"feedback"`
	Method     string          `json:"method"`
}

// LegacyResult is a row in the old flat result layout.
type LegacyResult struct {
	ExamID        string
	AttemptNumber int
	Score         float64
	MaxScore      int
	Grade         int
	AnswersJSON   string
	CreatedAt     time.Time
}

// InsertLegacyResult writes a row in the old layout. Used when migrating
// databases that predate the current result table.
func (s *Store) InsertLegacyResult(ctx context.Context, r LegacyResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO legacy_grading_results (exam_id, attempt_number, score, max_score, grade, answers_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ExamID, r.AttemptNumber, r.Score, r.MaxScore, r.Grade, r.AnswersJSON, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert legacy result for exam %s: %w", r.ExamID, err)
	}
	return nil
}

// normalizeLegacy converts an old-layout row into a canonical result.
func normalizeLegacy(id int64, r LegacyResult) (*model.GradingResult, error) {
	var answers []legacyAnswer
	if err := json.Unmarshal([]byte(r.AnswersJSON), &answers); err != nil {
		return nil, fmt.Errorf("decode legacy answers %d: %w", id, err)
	}

	out := &model.GradingResult{
		ID:             fmt.Sprintf("legacy-%d", id),
		ExamID:         r.ExamID,
		AttemptNumber:  r.AttemptNumber,
		TotalPoints:    r.Score,
		MaxTotalPoints: r.MaxScore,
		FinalGrade:     r.Grade,
		SubmittedAt:    r.CreatedAt,
		GradedAt:       r.CreatedAt,
		Questions:      make([]model.GradedQuestion, len(answers)),
	}
	var maxTotal int
	for i, a := range answers {
		method := model.MethodRuleBased
		if strings.EqualFold(a.Method, string(model.MethodAI)) {
			method = model.MethodAI
			out.Methods.AI++
		} else {
			out.Methods.RuleBased++
		}
		pct := 0
		if a.MaxPoints > 0 {
			pct = int(math.Round(100 * a.Points / float64(a.MaxPoints)))
		}
		out.Questions[i] = model.GradedQuestion{
			QuestionID:    parseV1ID(a.QuestionID, i),
			PointsAwarded: a.Points,
			MaxPoints:     a.MaxPoints,
			Percentage:    pct,
			Feedback:      a.Feedback,
			Method:        method,
		}
		maxTotal += a.MaxPoints
	}
	if out.MaxTotalPoints == 0 {
		out.MaxTotalPoints = maxTotal
	}
	if out.MaxTotalPoints > 0 {
		out.Percentage = int(math.Round(100 * out.TotalPoints / float64(out.MaxTotalPoints)))
	}
	out.Methods.Primary = model.MethodRuleBased
	if out.Methods.AI > out.Methods.RuleBased {
		out.Methods.Primary = model.MethodAI
	}
	return out, nil
}

// LegacyResults reads the legacy_grading_results table.
type LegacyResults struct {
	s *Store
}

// Legacy returns the legacy result store as an attempt source.
func (s *Store) Legacy() *LegacyResults {
	return &LegacyResults{s: s}
}

func (l *LegacyResults) Name() string { return "legacy" }

// MaxAttempt returns the highest stored attempt number, or 0.
func (l *LegacyResults) MaxAttempt(ctx context.Context, examID string) (int, error) {
	var n sql.NullInt64
	err := l.s.db.QueryRowContext(ctx,
		`SELECT MAX(attempt_number) FROM legacy_grading_results WHERE exam_id = $1`, examID,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return int(n.Int64), nil
}

// Latest returns the newest legacy result in canonical form, or nil.
func (l *LegacyResults) Latest(ctx context.Context, examID string) (*model.GradingResult, error) {
	results, err := l.list(ctx, examID, true)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

// List returns every legacy result of an exam by attempt number.
func (l *LegacyResults) List(ctx context.Context, examID string) ([]*model.GradingResult, error) {
	return l.list(ctx, examID, false)
}

func (l *LegacyResults) list(ctx context.Context, examID string, latestOnly bool) ([]*model.GradingResult, error) {
	query := `SELECT id, exam_id, attempt_number, score, max_score, grade, answers_json, created_at
		FROM legacy_grading_results WHERE exam_id = $1`
	if latestOnly {
		query += ` ORDER BY attempt_number DESC, id DESC LIMIT 1`
	} else {
		query += ` ORDER BY attempt_number, id`
	}
	rows, err := l.s.db.QueryContext(ctx, query, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []*model.GradingResult
	for rows.Next() {
		var (
			id      int64
			r       LegacyResult
			created int64
		)
		if err := rows.Scan(&id, &r.ExamID, &r.AttemptNumber, &r.Score, &r.MaxScore, &r.Grade, &r.AnswersJSON, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		gr, err := normalizeLegacy(id, r)
		if err != nil {
			return nil, err
		}
		results = append(results, gr)
	}
	return results, rows.Err()
}
