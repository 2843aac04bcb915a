package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/egor/supportchat/models"
)

// AddAttachment сохраняет ссылку на вложение письма.
// Само содержимое файла кладет в хранилище вызывающая сторона.
func (s *Store) AddAttachment(ctx context.Context, att *models.Attachment) error {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	if att.ID == uuid.Nil {
		att.ID = uuid.New()
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now()
	}

	const q = `
		INSERT INTO attachments
			(id, conversation_id, file_name, file_path, file_size, file_type,
			 uploaded_by_type, uploaded_by_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	if _, err := s.db.ExecContext(ctx, q,
		att.ID, att.ConversationID, att.FileName, att.FilePath,
		att.FileSize, att.FileType, att.UploadedByType, att.UploadedByID,
		att.CreatedAt,
	); err != nil {
		return fmt.Errorf("AddAttachment: %w", err)
	}
	return nil
}

// GetAttachments возвращает вложения диалога.
func (s *Store) GetAttachments(ctx context.Context, convID uuid.UUID) ([]models.Attachment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	const q = `
		SELECT id, conversation_id, file_name, file_path, file_size, file_type,
		       uploaded_by_type, uploaded_by_id, created_at
		FROM attachments
		WHERE conversation_id = $1
		ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, q, convID)
	if err != nil {
		return nil, fmt.Errorf("GetAttachments: %w", err)
	}
	defer rows.Close()

	var result []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(
			&a.ID, &a.ConversationID, &a.FileName, &a.FilePath, &a.FileSize,
			&a.FileType, &a.UploadedByType, &a.UploadedByID, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("GetAttachments: scan: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
