package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/pavelanni/examgrader/internal/model"
)

// ImportStatus describes what ImportFile did with a file.
type ImportStatus string

const (
	ImportCreated   ImportStatus = "imported"
	ImportUnchanged ImportStatus = "unchanged"
	// ImportRefused means the file changed after it was imported. Existing
	// attempts were graded against the old questions, so it is not reloaded.
	ImportRefused ImportStatus = "refused"
)

// ImportFile imports an exam file once. Files are identified by name and
// fingerprinted by content hash.
func (s *Store) ImportFile(ctx context.Context, name string, data []byte) (ImportStatus, *model.Exam, error) {
	hash := sha256sum(data)
	storedHash, err := s.GetImportedFileHash(ctx, name)
	if err != nil {
		return "", nil, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if storedHash == hash {
		slog.Info("exam file unchanged, skipping", "path", name)
		return ImportUnchanged, nil, nil
	}
	if storedHash != "" {
		slog.Warn("exam file changed since last import, skipping to keep existing attempts consistent", "path", name)
		return ImportRefused, nil, nil
	}

	exam, err := s.ImportExam(ctx, data)
	if err != nil {
		return "", nil, fmt.Errorf("import %s: %w", name, err)
	}
	if err := s.SetImportedFileHash(ctx, name, hash); err != nil {
		return "", nil, fmt.Errorf("record import for %s: %w", name, err)
	}
	slog.Info("imported exam", "path", name, "exam_id", exam.ID, "questions", len(exam.Questions))
	return ImportCreated, exam, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
