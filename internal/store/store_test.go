package store

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/pavelanni/examgrader/internal/attempt"
	"github.com/pavelanni/examgrader/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestExam(t *testing.T, s *Store, id string) *model.Exam {
	t.Helper()
	exam := &model.Exam{
		ID:         id,
		Subject:    "Geography",
		GradeLevel: "7",
		Language:   "en",
		Status:     model.ExamReady,
		Questions: []model.Question{
			{ID: 1, Text: "Capital of France?", Type: model.TypeMultipleChoice, Options: []string{"Paris", "Lyon"}, CorrectAnswer: "Paris", MaxPoints: 2},
			{ID: 2, Text: "The Earth is flat.", Type: model.TypeTrueFalse, CorrectAnswer: "false", MaxPoints: 1},
		},
	}
	if err := s.InsertExam(context.Background(), exam); err != nil {
		t.Fatalf("InsertExam: %v", err)
	}
	return exam
}

var testTime = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

func testResult(examID string, attemptNumber int, qs ...model.GradedQuestion) *model.GradingResult {
	r := &model.GradingResult{
		ID:            examID + "-" + strconv.Itoa(attemptNumber),
		ExamID:        examID,
		AttemptNumber: attemptNumber,
		Questions:     qs,
		SubmittedAt:   testTime,
		GradedAt:      testTime.Add(time.Second),
	}
	for _, q := range qs {
		r.TotalPoints += q.PointsAwarded
		r.MaxTotalPoints += q.MaxPoints
	}
	return r
}

func TestExamRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Missing exam returns nil without error.
	exam, err := s.FindExamByID(ctx, "nope")
	if err != nil {
		t.Fatalf("FindExamByID: %v", err)
	}
	if exam != nil {
		t.Fatalf("expected nil exam, got %+v", exam)
	}

	want := insertTestExam(t, s, "geo-1")
	got, err := s.FindExamByID(ctx, "geo-1")
	if err != nil {
		t.Fatalf("FindExamByID: %v", err)
	}
	if got == nil {
		t.Fatal("expected exam")
	}
	if got.Subject != "Geography" || got.Language != "en" || got.Status != model.ExamReady {
		t.Errorf("unexpected exam header: %+v", got)
	}
	if len(got.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(got.Questions))
	}
	if got.Questions[0].CorrectAnswer != "Paris" || got.Questions[0].MaxPoints != 2 {
		t.Errorf("question 1 = %+v", got.Questions[0])
	}
	if !slices.Equal(got.Questions[0].Options, want.Questions[0].Options) {
		t.Errorf("options = %v", got.Questions[0].Options)
	}

	// Duplicate IDs are rejected.
	if err := s.InsertExam(ctx, want); err == nil {
		t.Error("expected error inserting duplicate exam")
	}
}

func TestInsertExamValidation(t *testing.T) {
	s := newTestStore(t)
	bad := &model.Exam{
		ID:        "bad",
		Status:    model.ExamReady,
		Questions: []model.Question{{ID: 1, Text: "Q", Type: model.TypeShortAnswer, MaxPoints: 0}},
	}
	if err := s.InsertExam(context.Background(), bad); err == nil {
		t.Error("expected validation error for max_points 0")
	}
}

func TestImportV1Exam(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := `{
		"id": "hist-1",
		"subject": "History",
		"language": "fi",
		"status": "ready",
		"questions": [
			{"id": "q1", "question": "Suomen itsenäistymisvuosi?", "type": "Short Answer", "correct_answer": "1917", "points": 3},
			{"id": "q2", "question": "Turku oli pääkaupunki.", "type": "True-False", "correct_answer": "tosi"},
			{"question": "Valitse", "type": "multiple_choice", "options": ["a", "b"], "correct_answer": "a", "points": 2}
		]
	}`
	exam, err := s.ImportExam(ctx, []byte(doc))
	if err != nil {
		t.Fatalf("ImportExam: %v", err)
	}
	if exam.ID != "hist-1" {
		t.Errorf("ID = %q", exam.ID)
	}

	got, err := s.FindExamByID(ctx, "hist-1")
	if err != nil || got == nil {
		t.Fatalf("FindExamByID: %v, %v", got, err)
	}
	want := []model.Question{
		{ID: 1, Text: "Suomen itsenäistymisvuosi?", Type: model.TypeShortAnswer, CorrectAnswer: "1917", MaxPoints: 3},
		{ID: 2, Text: "Turku oli pääkaupunki.", Type: model.TypeTrueFalse, CorrectAnswer: "tosi", MaxPoints: 1},
		{ID: 3, Text: "Valitse", Type: model.TypeMultipleChoice, Options: []string{"a", "b"}, CorrectAnswer: "a", MaxPoints: 2},
	}
	for i, q := range got.Questions {
		w := want[i]
		if q.ID != w.ID || q.Text != w.Text || q.Type != w.Type || q.CorrectAnswer != w.CorrectAnswer || q.MaxPoints != w.MaxPoints {
			t.Errorf("question %d = %+v, want %+v", i, q, w)
		}
	}
	if got.Language != "fi" {
		t.Errorf("Language = %q", got.Language)
	}
}

func TestImportV2ExamDefaults(t *testing.T) {
	s := newTestStore(t)
	doc := `{"subject": "Math", "questions": [{"id": 10, "text": "2+2?", "type": "short_answer", "answer": "4", "max_points": 1}]}`

	exam, version, err := s.ParseExamDocument([]byte(doc))
	if err != nil {
		t.Fatalf("ParseExamDocument: %v", err)
	}
	if version != SchemaV2 {
		t.Errorf("version = %d, want %d", version, SchemaV2)
	}
	if exam.ID == "" {
		t.Error("expected generated ID")
	}
	if exam.Status != model.ExamReady {
		t.Errorf("Status = %q, want ready", exam.Status)
	}
	if exam.Questions[0].ID != 10 || exam.Questions[0].CorrectAnswer != "4" {
		t.Errorf("question = %+v", exam.Questions[0])
	}
}

func TestImportRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"questions": [`},
		{"zero points", `{"id": "x", "questions": [{"id": 1, "text": "Q", "type": "short_answer", "answer": "a", "max_points": 0}]}`},
		{"missing text", `{"id": "x", "questions": [{"id": 1, "type": "short_answer", "answer": "a", "max_points": 1}]}`},
		{"unknown version", `{"id": "x", "schema_version": 7, "questions": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.ImportExam(context.Background(), []byte(tt.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestUpdateExamStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestExam(t, s, "geo-1")

	if err := s.UpdateExamStatus(ctx, "geo-1", model.ExamGraded); err != nil {
		t.Fatalf("UpdateExamStatus: %v", err)
	}
	got, _ := s.FindExamByID(ctx, "geo-1")
	if got.Status != model.ExamGraded {
		t.Errorf("Status = %q, want graded", got.Status)
	}

	if err := s.UpdateExamStatus(ctx, "missing", model.ExamGraded); err == nil {
		t.Error("expected error for missing exam")
	}

	exams, err := s.ListExams(ctx)
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(exams) != 1 || exams[0].ID != "geo-1" {
		t.Errorf("ListExams = %+v", exams)
	}
}

func TestSaveResultAndLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cur := s.Current()

	n, err := cur.MaxAttempt(ctx, "geo-1")
	if err != nil {
		t.Fatalf("MaxAttempt: %v", err)
	}
	if n != 0 {
		t.Errorf("MaxAttempt on empty = %d, want 0", n)
	}
	latest, err := cur.Latest(ctx, "geo-1")
	if err != nil || latest != nil {
		t.Fatalf("Latest on empty = %v, %v", latest, err)
	}

	r1 := testResult("geo-1", 1,
		model.GradedQuestion{QuestionID: 1, PointsAwarded: 0, MaxPoints: 2, Method: model.MethodRuleBased})
	r2 := testResult("geo-1", 2,
		model.GradedQuestion{QuestionID: 1, PointsAwarded: 2, MaxPoints: 2, Method: model.MethodAI,
			Usage: &model.Usage{PromptTokens: 10, CandidateTokens: 5, TotalTokens: 15, EstimatedCost: 0.000003}},
		model.GradedQuestion{QuestionID: 2, PointsAwarded: 0.5, MaxPoints: 1, Method: model.MethodRuleBased})
	r2.Methods = model.MethodCounts{AI: 1, RuleBased: 1, Primary: model.MethodRuleBased}
	r2.Cost = model.CostSummary{Calls: 1, TotalTokens: 15, EstimatedCost: 0.000003}

	for _, r := range []*model.GradingResult{r1, r2} {
		if err := s.SaveResult(ctx, r); err != nil {
			t.Fatalf("SaveResult attempt %d: %v", r.AttemptNumber, err)
		}
	}

	dup := testResult("geo-1", 2)
	dup.ID = "another-id"
	if err := s.SaveResult(ctx, dup); !errors.Is(err, ErrAttemptExists) {
		t.Errorf("duplicate attempt err = %v, want ErrAttemptExists", err)
	}

	n, _ = cur.MaxAttempt(ctx, "geo-1")
	if n != 2 {
		t.Errorf("MaxAttempt = %d, want 2", n)
	}
	latest, err = cur.Latest(ctx, "geo-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.AttemptNumber != 2 || latest.TotalPoints != 2.5 || latest.MaxTotalPoints != 3 {
		t.Errorf("Latest = %+v", latest)
	}
	if latest.Methods != r2.Methods || latest.Cost != r2.Cost {
		t.Errorf("Methods/Cost = %+v / %+v", latest.Methods, latest.Cost)
	}
	if !latest.SubmittedAt.Equal(testTime) || !latest.GradedAt.Equal(testTime.Add(time.Second)) {
		t.Errorf("timestamps = %v / %v", latest.SubmittedAt, latest.GradedAt)
	}
	if latest.Questions[0].Usage == nil || latest.Questions[0].Usage.TotalTokens != 15 {
		t.Errorf("usage not preserved: %+v", latest.Questions[0])
	}
	if !slices.Equal(latest.WrongQuestionIDs(), []int64{2}) {
		t.Errorf("WrongQuestionIDs = %v, want [2]", latest.WrongQuestionIDs())
	}

	all, err := s.ListResults(ctx, "geo-1")
	if err != nil || len(all) != 2 {
		t.Fatalf("ListResults = %d results, %v", len(all), err)
	}
}

func TestLegacyResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	leg := s.Legacy()

	rows := []LegacyResult{
		{ExamID: "geo-1", AttemptNumber: 1, Score: 1, MaxScore: 4, Grade: 4,
			AnswersJSON: `[{"questionId": "q1", "points": 1, "maxPoints": 2}, {"questionId": "q2", "points": 0, "maxPoints": 2}]`,
			CreatedAt:   testTime},
		{ExamID: "geo-1", AttemptNumber: 2, Score: 3, Grade: 8,
			AnswersJSON: `[{"questionId": 1, "points": 2, "maxPoints": 2, "method": "AI"}, {"questionId": 2, "points": 1, "maxPoints": 2, "method": "ai"}]`,
			CreatedAt:   testTime.Add(time.Hour)},
	}
	for _, r := range rows {
		if err := s.InsertLegacyResult(ctx, r); err != nil {
			t.Fatalf("InsertLegacyResult: %v", err)
		}
	}

	n, err := leg.MaxAttempt(ctx, "geo-1")
	if err != nil || n != 2 {
		t.Fatalf("MaxAttempt = %d, %v", n, err)
	}
	latest, err := leg.Latest(ctx, "geo-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.AttemptNumber != 2 {
		t.Fatalf("AttemptNumber = %d", latest.AttemptNumber)
	}
	// max_score missing, derived from the answers.
	if latest.MaxTotalPoints != 4 || latest.Percentage != 75 {
		t.Errorf("MaxTotalPoints/Percentage = %d/%d, want 4/75", latest.MaxTotalPoints, latest.Percentage)
	}
	if latest.Methods.AI != 2 || latest.Methods.Primary != model.MethodAI {
		t.Errorf("Methods = %+v", latest.Methods)
	}
	if !slices.Equal(latest.WrongQuestionIDs(), []int64{2}) {
		t.Errorf("WrongQuestionIDs = %v, want [2]", latest.WrongQuestionIDs())
	}

	all, err := leg.List(ctx, "geo-1")
	if err != nil || len(all) != 2 {
		t.Fatalf("List = %d, %v", len(all), err)
	}
	if all[0].Questions[1].QuestionID != 2 || all[0].Questions[0].Percentage != 50 {
		t.Errorf("first legacy result questions = %+v", all[0].Questions)
	}
}

func TestTrackerAcrossTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tr, err := attempt.NewTracker(s.Current(), s.Legacy())
	if err != nil {
		t.Fatal(err)
	}

	next, err := tr.NextAttemptNumber(ctx, "geo-1")
	if err != nil || next != 1 {
		t.Fatalf("NextAttemptNumber on empty = %d, %v", next, err)
	}

	for i := 1; i <= 3; i++ {
		err := s.InsertLegacyResult(ctx, LegacyResult{
			ExamID: "geo-1", AttemptNumber: i, Score: 0, MaxScore: 2,
			AnswersJSON: `[{"questionId": 1, "points": 0, "maxPoints": 2}]`, CreatedAt: testTime,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	next, _ = tr.NextAttemptNumber(ctx, "geo-1")
	if next != 4 {
		t.Errorf("NextAttemptNumber = %d, want 4", next)
	}

	r := testResult("geo-1", 4,
		model.GradedQuestion{QuestionID: 1, PointsAwarded: 2, MaxPoints: 2},
		model.GradedQuestion{QuestionID: 2, PointsAwarded: 0, MaxPoints: 2},
		model.GradedQuestion{QuestionID: 3, PointsAwarded: 1, MaxPoints: 2})
	if err := s.SaveResult(ctx, r); err != nil {
		t.Fatal(err)
	}
	next, _ = tr.NextAttemptNumber(ctx, "geo-1")
	if next != 5 {
		t.Errorf("NextAttemptNumber = %d, want 5", next)
	}
	wrong, err := tr.WrongQuestionIDs(ctx, "geo-1")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(wrong, []int64{2, 3}) {
		t.Errorf("WrongQuestionIDs = %v, want [2 3]", wrong)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Missing file returns empty string.
	hash, err := s.GetImportedFileHash(ctx, "/some/path.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	if err := s.SetImportedFileHash(ctx, "/some/path.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	hash, _ = s.GetImportedFileHash(ctx, "/some/path.json")
	if hash != "abc123" {
		t.Errorf("expected 'abc123', got %q", hash)
	}

	// Update existing.
	if err := s.SetImportedFileHash(ctx, "/some/path.json", "def456"); err != nil {
		t.Fatalf("SetImportedFileHash update: %v", err)
	}
	hash, _ = s.GetImportedFileHash(ctx, "/some/path.json")
	if hash != "def456" {
		t.Errorf("expected 'def456', got %q", hash)
	}
}

func TestExportHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing, err := s.ExportHistory(ctx, "geo-1")
	if err != nil || missing != nil {
		t.Fatalf("ExportHistory for missing exam = %v, %v", missing, err)
	}

	insertTestExam(t, s, "geo-1")
	if err := s.InsertLegacyResult(ctx, LegacyResult{
		ExamID: "geo-1", AttemptNumber: 1, Score: 1, MaxScore: 3, Grade: 4,
		AnswersJSON: `[{"questionId": 1, "points": 1, "maxPoints": 2}, {"questionId": 2, "points": 0, "maxPoints": 1}]`,
		CreatedAt:   testTime,
	}); err != nil {
		t.Fatal(err)
	}
	r := testResult("geo-1", 2,
		model.GradedQuestion{QuestionID: 1, PointsAwarded: 2, MaxPoints: 2},
		model.GradedQuestion{QuestionID: 2, PointsAwarded: 1, MaxPoints: 1})
	r.Percentage, r.FinalGrade = 100, 10
	if err := s.SaveResult(ctx, r); err != nil {
		t.Fatal(err)
	}

	h, err := s.ExportHistory(ctx, "geo-1")
	if err != nil {
		t.Fatalf("ExportHistory: %v", err)
	}
	if len(h.Attempts) != 2 || len(h.Questions) != 2 {
		t.Fatalf("export = %d attempts, %d questions", len(h.Attempts), len(h.Questions))
	}
	if h.Attempts[0].Source != "legacy" || h.Attempts[1].Source != "current" {
		t.Errorf("sources = %q, %q", h.Attempts[0].Source, h.Attempts[1].Source)
	}
	if !slices.Equal(h.Attempts[0].WrongQuestions, []int64{1, 2}) {
		t.Errorf("legacy wrong questions = %v", h.Attempts[0].WrongQuestions)
	}
	if len(h.Attempts[1].WrongQuestions) != 0 || h.Attempts[1].FinalGrade != 10 {
		t.Errorf("current attempt = %+v", h.Attempts[1])
	}
}

func TestParseDriver(t *testing.T) {
	tests := []struct {
		in      string
		want    Driver
		wantErr bool
	}{
		{"", DriverSQLite, false},
		{"SQLite", DriverSQLite, false},
		{"postgres", DriverPostgres, false},
		{"pgx", DriverPostgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDriver(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseDriver(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestImportFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := []byte(`{"id": "m1", "questions": [{"id": 1, "text": "2+2?", "type": "short_answer", "answer": "4", "max_points": 1}]}`)

	status, exam, err := s.ImportFile(ctx, "math.json", doc)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if status != ImportCreated || exam == nil || exam.ID != "m1" {
		t.Fatalf("first import = %q, %+v", status, exam)
	}

	status, exam, err = s.ImportFile(ctx, "math.json", doc)
	if err != nil || status != ImportUnchanged || exam != nil {
		t.Errorf("second import = %q, %+v, %v", status, exam, err)
	}

	changed := []byte(`{"id": "m1", "questions": [{"id": 1, "text": "2+3?", "type": "short_answer", "answer": "5", "max_points": 1}]}`)
	status, _, err = s.ImportFile(ctx, "math.json", changed)
	if err != nil || status != ImportRefused {
		t.Errorf("changed import = %q, %v", status, err)
	}
	got, _ := s.FindExamByID(ctx, "m1")
	if got.Questions[0].CorrectAnswer != "4" {
		t.Errorf("refused import modified the exam: %+v", got.Questions[0])
	}

	if _, _, err := s.ImportFile(ctx, "broken.json", []byte(`{`)); err == nil {
		t.Error("expected error for broken file")
	}
	if h, _ := s.GetImportedFileHash(ctx, "broken.json"); h != "" {
		t.Error("failed import should not record a hash")
	}
}
