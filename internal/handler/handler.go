package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/examgrader/internal/attempt"
	"github.com/pavelanni/examgrader/internal/grading"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/store"
	"github.com/pavelanni/examgrader/internal/submission"
)

const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	submit   *submission.Service
	tracker  *attempt.Tracker
	validate *validator.Validate
}

// New creates a new Handler.
func New(s *store.Store, svc *submission.Service, tr *attempt.Tracker) *Handler {
	return &Handler{store: s, submit: svc, tracker: tr, validate: validator.New()}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/exams", h.handleUploadExam)
	r.Route("/exams/{examID}", func(r chi.Router) {
		r.Post("/submissions", h.handleSubmit)
		r.Get("/attempts/next", h.handleNextAttempt)
		r.Get("/wrong-questions", h.handleWrongQuestions)
		r.Get("/results", h.handleResults)
	})
}

type answerRequest struct {
	QuestionID int64  `json:"question_id" validate:"gte=0"`
	Answer     string `json:"answer" validate:"max=20000"`
}

type submitRequest struct {
	Answers []answerRequest `json:"answers" validate:"required,unique=QuestionID,dive"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")

	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	answers := make([]model.StudentAnswer, len(req.Answers))
	for i, a := range req.Answers {
		answers[i] = model.StudentAnswer{QuestionID: a.QuestionID, Answer: a.Answer}
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		// The outcome channel is buffered; failures are logged and recorded
		// on the exam status by the service.
		_ = h.submit.SubmitAsync(r.Context(), examID, answers)
		writeJSON(w, http.StatusAccepted, map[string]string{"exam_id": examID, "status": "accepted"})
		return
	}

	res, err := h.submit.Submit(r.Context(), examID, answers)
	if err != nil {
		writeErr(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleNextAttempt(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	n, err := h.tracker.NextAttemptNumber(r.Context(), examID)
	if err != nil {
		slog.Error("next attempt number", "exam_id", examID, "error", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exam_id": examID, "next_attempt": n})
}

func (h *Handler) handleWrongQuestions(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	ids, err := h.tracker.WrongQuestionIDs(r.Context(), examID)
	if err != nil {
		slog.Error("wrong question ids", "exam_id", examID, "error", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exam_id": examID, "question_ids": ids})
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	history, err := h.store.ExportHistory(r.Context(), examID)
	if err != nil {
		slog.Error("export history", "exam_id", examID, "error", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	if history == nil {
		writeErr(w, http.StatusNotFound, "exam not found")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, submission.ErrExamNotFound):
		return http.StatusNotFound
	case errors.Is(err, grading.ErrExamNotGradable),
		errors.Is(err, grading.ErrNoQuestions),
		errors.Is(err, store.ErrAttemptExists):
		return http.StatusConflict
	case errors.Is(err, grading.ErrInvalidAttempt):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errResp struct {
	Error string `json:"error"`
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResp{Error: msg})
}
