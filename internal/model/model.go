package model

import (
	"errors"
	"time"
)

// ErrAttemptExists is returned by result stores when a result for the same
// exam and attempt number is already recorded.
var ErrAttemptExists = errors.New("attempt already recorded")

// ExamStatus is the lifecycle state of an exam.
type ExamStatus string

const (
	ExamDraft      ExamStatus = "draft"
	ExamProcessing ExamStatus = "processing"
	ExamReady      ExamStatus = "ready"
	ExamGraded     ExamStatus = "graded"
	ExamFailed     ExamStatus = "failed"
)

// QuestionType is the answer format of a question.
type QuestionType string

const (
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeTrueFalse      QuestionType = "true_false"
	TypeShortAnswer    QuestionType = "short_answer"
	TypeFillInBlank    QuestionType = "fill_in_the_blank"
)

// GradingMethod tags how a question was scored.
type GradingMethod string

const (
	MethodAI        GradingMethod = "ai"
	MethodRuleBased GradingMethod = "rule-based"
)

// Question represents an exam question in canonical form.
type Question struct {
	ID            int64        `json:"id" validate:"gte=0"`
	Text          string       `json:"text" validate:"required"`
	Type          QuestionType `json:"type" validate:"required"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer"`
	MaxPoints     int          `json:"max_points" validate:"gte=1"`
}

// Exam is the canonical exam shape every grading component works with,
// regardless of which schema version it was stored in.
type Exam struct {
	ID         string     `json:"id" validate:"required"`
	Subject    string     `json:"subject"`
	GradeLevel string     `json:"grade_level"`
	Language   string     `json:"language"`
	Status     ExamStatus `json:"status" validate:"required"`
	Questions  []Question `json:"questions" validate:"dive"`
	CreatedAt  time.Time  `json:"created_at"`
}

// StudentAnswer is one raw answer in a submission.
type StudentAnswer struct {
	QuestionID int64  `json:"question_id"`
	Answer     string `json:"answer"`
}

// Usage holds token counts and derived cost for one AI call.
type Usage struct {
	PromptTokens    int     `json:"prompt_tokens"`
	CandidateTokens int     `json:"candidate_tokens"`
	TotalTokens     int     `json:"total_tokens"`
	InputCost       float64 `json:"input_cost"`
	OutputCost      float64 `json:"output_cost"`
	EstimatedCost   float64 `json:"estimated_cost"`
}

// GradedQuestion is the outcome of grading one question.
type GradedQuestion struct {
	QuestionID    int64         `json:"question_id"`
	PointsAwarded float64       `json:"points_awarded"`
	MaxPoints     int           `json:"max_points"`
	Percentage    int           `json:"percentage"`
	Feedback      string        `json:"feedback"`
	Method        GradingMethod `json:"grading_method"`
	Usage         *Usage        `json:"usage,omitempty"`
}

// Wrong reports whether the question was answered with less than full credit.
func (g GradedQuestion) Wrong() bool {
	return g.PointsAwarded < float64(g.MaxPoints)
}

// MethodCounts tallies grading methods across a result.
type MethodCounts struct {
	AI        int           `json:"ai"`
	RuleBased int           `json:"rule_based"`
	Primary   GradingMethod `json:"primary_method"`
}

// CostSummary aggregates usage over every AI call of a grading run.
type CostSummary struct {
	Calls           int     `json:"calls"`
	PromptTokens    int     `json:"prompt_tokens"`
	CandidateTokens int     `json:"candidate_tokens"`
	TotalTokens     int     `json:"total_tokens"`
	InputCost       float64 `json:"input_cost"`
	OutputCost      float64 `json:"output_cost"`
	EstimatedCost   float64 `json:"estimated_cost"`
}

// GradingResult is one graded attempt of an exam.
type GradingResult struct {
	ID             string           `json:"id"`
	ExamID         string           `json:"exam_id"`
	AttemptNumber  int              `json:"attempt_number"`
	Questions      []GradedQuestion `json:"questions"`
	TotalPoints    float64          `json:"total_points"`
	MaxTotalPoints int              `json:"max_total_points"`
	Percentage     int              `json:"percentage"`
	FinalGrade     int              `json:"final_grade"`
	Methods        MethodCounts     `json:"grading_methods"`
	Cost           CostSummary      `json:"cost"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	GradedAt       time.Time        `json:"graded_at"`
}

// WrongQuestionIDs returns the IDs of questions awarded less than max points,
// in exam order.
func (r *GradingResult) WrongQuestionIDs() []int64 {
	ids := []int64{}
	for _, q := range r.Questions {
		if q.Wrong() {
			ids = append(ids, q.QuestionID)
		}
	}
	return ids
}
