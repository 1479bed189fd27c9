package store

import (
	"context"
	"database/sql"
	"errors"
)

const importHashPrefix = "import_hash:"

// SetMetadata upserts a key-value pair in the exam_metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exam_metadata (key, value) VALUES ($1, $2)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM exam_metadata WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// GetImportedFileHash returns the content hash recorded for an imported
// exam file, or "" if the file was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	return s.GetMetadata(ctx, importHashPrefix+path)
}

// SetImportedFileHash records the content hash of an imported exam file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	return s.SetMetadata(ctx, importHashPrefix+path, hash)
}
