package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/pavelanni/examgrader/internal/model"
)

// Exam question layouts. Version 1 is the original layout; version 2 is the
// canonical one every new exam is written in.
const (
	SchemaV1 = 1
	SchemaV2 = 2
)

// questionV1 is the original question layout with string IDs.
type questionV1 struct {
	ID            json.RawMessage `json:"id"`
	Question      string          `json:"question"`
	Type          string          `json:"type"`
	Options       []string        `json:"options"`
	CorrectAnswer string          `json:"correct_answer"`
	Points        int             `json:"points"`
}

// questionV2 is the current question layout.
type questionV2 struct {
	ID        int64    `json:"id"`
	Text      string   `json:"text"`
	Type      string   `json:"type"`
	Options   []string `json:"options,omitempty"`
	Answer    string   `json:"answer"`
	MaxPoints int      `json:"max_points"`
}

// ExamDocument is an exam file as imported from disk, in either layout.
type ExamDocument struct {
	ID            string          `json:"id"`
	Subject       string          `json:"subject"`
	GradeLevel    string          `json:"grade_level"`
	Language      string          `json:"language"`
	Status        string          `json:"status"`
	SchemaVersion int             `json:"schema_version"`
	Questions     json.RawMessage `json:"questions"`
}

var typeAliases = map[string]model.QuestionType{
	"multiple_choice":   model.TypeMultipleChoice,
	"multiplechoice":    model.TypeMultipleChoice,
	"mcq":               model.TypeMultipleChoice,
	"true_false":        model.TypeTrueFalse,
	"truefalse":         model.TypeTrueFalse,
	"boolean":           model.TypeTrueFalse,
	"short_answer":      model.TypeShortAnswer,
	"fill_in_the_blank": model.TypeFillInBlank,
	"fill_in_blank":     model.TypeFillInBlank,
	"fill_blank":        model.TypeFillInBlank,
}

func normalizeType(t string) model.QuestionType {
	key := strings.ToLower(strings.TrimSpace(t))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if qt, ok := typeAliases[key]; ok {
		return qt
	}
	return model.QuestionType(key)
}

// detectVersion inspects the first question for the v1 "question" key.
func detectVersion(raw json.RawMessage) int {
	var probe []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil || len(probe) == 0 {
		return SchemaV2
	}
	if _, ok := probe[0]["question"]; ok {
		return SchemaV1
	}
	return SchemaV2
}

// parseV1ID accepts 3, "3" and "q3". Anything else gets the 1-based position.
func parseV1ID(raw json.RawMessage, pos int) int64 {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		digits := strings.TrimLeftFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
		if n, err := strconv.ParseInt(digits, 10, 64); err == nil {
			return n
		}
	}
	return int64(pos + 1)
}

// decodeQuestions turns stored questions of either layout into canonical
// questions.
func decodeQuestions(version int, raw []byte) ([]model.Question, error) {
	switch version {
	case SchemaV1:
		var in []questionV1
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decode v1 questions: %w", err)
		}
		out := make([]model.Question, len(in))
		for i, q := range in {
			points := q.Points
			if points == 0 {
				points = 1
			}
			out[i] = model.Question{
				ID:            parseV1ID(q.ID, i),
				Text:          q.Question,
				Type:          normalizeType(q.Type),
				Options:       q.Options,
				CorrectAnswer: q.CorrectAnswer,
				MaxPoints:     points,
			}
		}
		return out, nil
	case SchemaV2:
		var in []questionV2
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decode v2 questions: %w", err)
		}
		out := make([]model.Question, len(in))
		for i, q := range in {
			out[i] = model.Question{
				ID:            q.ID,
				Text:          q.Text,
				Type:          normalizeType(q.Type),
				Options:       q.Options,
				CorrectAnswer: q.Answer,
				MaxPoints:     q.MaxPoints,
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown exam schema version %d", version)
	}
}

func encodeQuestionsV2(qs []model.Question) ([]byte, error) {
	out := make([]questionV2, len(qs))
	for i, q := range qs {
		out[i] = questionV2{
			ID:        q.ID,
			Text:      q.Text,
			Type:      string(q.Type),
			Options:   q.Options,
			Answer:    q.CorrectAnswer,
			MaxPoints: q.MaxPoints,
		}
	}
	return json.Marshal(out)
}

// ParseExamDocument reads an exam file of either layout and returns the
// canonical exam together with the layout it was written in.
func (s *Store) ParseExamDocument(data []byte) (*model.Exam, int, error) {
	exam, version, _, err := s.parseDocument(data)
	return exam, version, err
}

func (s *Store) parseDocument(data []byte) (*model.Exam, int, json.RawMessage, error) {
	var doc ExamDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, nil, fmt.Errorf("parse exam document: %w", err)
	}
	version := doc.SchemaVersion
	if version == 0 {
		version = detectVersion(doc.Questions)
	}
	raw := bytes.TrimSpace(doc.Questions)
	questions, err := decodeQuestions(version, raw)
	if err != nil {
		return nil, 0, nil, err
	}

	exam := &model.Exam{
		ID:         doc.ID,
		Subject:    doc.Subject,
		GradeLevel: doc.GradeLevel,
		Language:   doc.Language,
		Status:     model.ExamStatus(strings.ToLower(doc.Status)),
		Questions:  questions,
	}
	if exam.ID == "" {
		exam.ID = uuid.NewString()
	}
	if exam.Status == "" {
		exam.Status = model.ExamReady
	}
	if err := s.validate.Struct(exam); err != nil {
		return nil, 0, nil, fmt.Errorf("invalid exam %s: %w", exam.ID, err)
	}
	return exam, version, raw, nil
}

// ImportExam stores an exam file, keeping its question layout as written.
func (s *Store) ImportExam(ctx context.Context, data []byte) (*model.Exam, error) {
	exam, version, raw, err := s.parseDocument(data)
	if err != nil {
		return nil, err
	}
	exam.CreatedAt = time.Now().UTC()
	if err := s.insertExam(ctx, exam, version, raw); err != nil {
		return nil, err
	}
	return exam, nil
}

// InsertExam stores a canonical exam in the current layout.
func (s *Store) InsertExam(ctx context.Context, exam *model.Exam) error {
	if err := s.validate.Struct(exam); err != nil {
		return fmt.Errorf("invalid exam %s: %w", exam.ID, err)
	}
	raw, err := encodeQuestionsV2(exam.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	if exam.CreatedAt.IsZero() {
		exam.CreatedAt = time.Now().UTC()
	}
	return s.insertExam(ctx, exam, SchemaV2, raw)
}

func (s *Store) insertExam(ctx context.Context, exam *model.Exam, version int, questions []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exams (id, subject, grade_level, language, status, schema_version, questions_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		exam.ID, exam.Subject, exam.GradeLevel, exam.Language, string(exam.Status),
		version, string(questions), exam.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert exam %s: %w", exam.ID, err)
	}
	return nil
}

// FindExamByID returns the exam in canonical form, or nil if it does not exist.
func (s *Store) FindExamByID(ctx context.Context, id string) (*model.Exam, error) {
	var (
		exam      model.Exam
		status    string
		version   int
		questions string
		created   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, subject, grade_level, language, status, schema_version, questions_json, created_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&exam.ID, &exam.Subject, &exam.GradeLevel, &exam.Language, &status, &version, &questions, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find exam %s: %w", id, err)
	}

	exam.Status = model.ExamStatus(status)
	exam.CreatedAt = time.UnixMilli(created).UTC()
	exam.Questions, err = decodeQuestions(version, []byte(questions))
	if err != nil {
		return nil, fmt.Errorf("exam %s: %w", id, err)
	}
	return &exam, nil
}

// UpdateExamStatus sets the lifecycle status of an exam.
func (s *Store) UpdateExamStatus(ctx context.Context, id string, status model.ExamStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE exams SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update exam %s status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update exam %s status: %w", id, sql.ErrNoRows)
	}
	return nil
}

// ListExams returns every exam without its questions, newest first.
func (s *Store) ListExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject, grade_level, language, status, created_at FROM exams ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		var (
			e       model.Exam
			status  string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Subject, &e.GradeLevel, &e.Language, &status, &created); err != nil {
			return nil, err
		}
		e.Status = model.ExamStatus(status)
		e.CreatedAt = time.UnixMilli(created).UTC()
		exams = append(exams, e)
	}
	return exams, rows.Err()
}
