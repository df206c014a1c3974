package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"crm-automation/internal/models"
)

// FileByHash looks up a stored file by its blake2b hash. Returns zero when
// the content is not known yet.
func (s *Store) FileByHash(ctx context.Context, hash string) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `SELECT id FROM files WHERE hash_blake2b = $1`, hash)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("file by hash: %w", err)
	}
	return id, nil
}

// InsertFile stores a new file and returns its generated ID.
func (s *Store) InsertFile(ctx context.Context, a models.Attachment) (int64, error) {
	const query = `
		INSERT INTO files (file_name, content_type, size, hash_blake2b, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	err := s.db.GetContext(ctx, &id, query, a.Filename, a.ContentType, a.Size, a.Hash, a.Content)
	if err != nil {
		return 0, fmt.Errorf("insert file %s: %w", a.Filename, err)
	}
	s.logger.Info("File stored", zap.Int64("file_id", id), zap.String("file_name", a.Filename))
	return id, nil
}

// FileContent loads the raw bytes of a stored file.
func (s *Store) FileContent(ctx context.Context, fileID int64) ([]byte, error) {
	var content []byte
	err := s.db.GetContext(ctx, &content, `SELECT content FROM files WHERE id = $1`, fileID)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("file %d not found", fileID)
		}
		return nil, fmt.Errorf("file content %d: %w", fileID, err)
	}
	return content, nil
}
