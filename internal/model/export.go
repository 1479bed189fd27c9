package model

import "time"

// HistoryExport is the top-level JSON structure for an exam's attempt history.
type HistoryExport struct {
	ExamID     string            `json:"exam_id"`
	Subject    string            `json:"subject"`
	GradeLevel string            `json:"grade_level"`
	Status     ExamStatus        `json:"status"`
	ExportedAt time.Time         `json:"exported_at"`
	Attempts   []AttemptExport   `json:"attempts"`
	Questions  []QuestionSummary `json:"questions"`
}

// AttemptExport is one attempt in an exported history.
type AttemptExport struct {
	AttemptNumber  int       `json:"attempt_number"`
	Source         string    `json:"source"`
	TotalPoints    float64   `json:"total_points"`
	MaxTotalPoints int       `json:"max_total_points"`
	Percentage     int       `json:"percentage"`
	FinalGrade     int       `json:"final_grade"`
	WrongQuestions []int64   `json:"wrong_questions"`
	EstimatedCost  float64   `json:"estimated_cost"`
	GradedAt       time.Time `json:"graded_at"`
}

// QuestionSummary holds per-question data for export.
type QuestionSummary struct {
	ID        int64        `json:"id"`
	Text      string       `json:"text"`
	Type      QuestionType `json:"type"`
	MaxPoints int          `json:"max_points"`
}
