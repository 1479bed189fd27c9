package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/pavelanni/examgrader/internal/store"
)

func (h *Handler) handleUploadExam(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, "file too large")
		return
	}

	file, header, err := r.FormFile("exam_file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	status, exam, err := h.store.ImportFile(r.Context(), header.Filename, data)
	if err != nil {
		slog.Error("failed to import exam", "filename", header.Filename, "error", err)
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := map[string]any{"filename": header.Filename, "status": status}
	switch status {
	case store.ImportCreated:
		resp["exam_id"] = exam.ID
		resp["questions"] = len(exam.Questions)
		slog.Info("uploaded exam", "filename", header.Filename, "exam_id", exam.ID)
		writeJSON(w, http.StatusCreated, resp)
	case store.ImportRefused:
		writeJSON(w, http.StatusConflict, resp)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}
