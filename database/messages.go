package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/egor/supportchat/models"
)

// AddMessage дописывает сообщение в ленту диалога.
// Запись выполняется в транзакции: проверка существования диалога, вставка,
// обновление updated_at. Сообщение неизменяемо после коммита; вызывающая
// сторона получает подтверждение только после фиксации в БД.
func (s *Store) AddMessage(
	ctx context.Context,
	convID uuid.UUID,
	senderType string,
	senderID uuid.UUID,
	content, msgType string,
	channelMessageID *string,
	meta map[string]any,
) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("AddMessage: begin: %w", err)
	}
	defer tx.Rollback()

	// диалог существует?
	var ok bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1)", convID,
	).Scan(&ok); err != nil {
		return nil, fmt.Errorf("AddMessage: %w", err)
	}
	if !ok {
		return nil, ErrConversationNotFound
	}

	now := time.Now()
	msgID := uuid.New()

	var rawMeta any
	if meta != nil {
		b, _ := json.Marshal(meta)
		rawMeta = b
	}

	var seq int64
	ins := `
		INSERT INTO messages
			(id, conversation_id, sender_type, sender_id, content, type,
			 channel_message_id, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING seq`
	if err := tx.QueryRowContext(ctx, ins,
		msgID, convID, senderType, senderID, content, msgType,
		channelMessageID, rawMeta, now,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("AddMessage: insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at=$1 WHERE id=$2", now, convID,
	); err != nil {
		return nil, fmt.Errorf("AddMessage: touch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("AddMessage: commit: %w", err)
	}

	return &models.Message{
		ID:               msgID,
		ConversationID:   convID,
		SenderType:       senderType,
		SenderID:         senderID,
		Content:          content,
		Type:             msgType,
		ChannelMessageID: channelMessageID,
		Metadata:         meta,
		CreatedAt:        now,
		Seq:              seq,
	}, nil
}

// FindMessageByChannelID ищет сообщение по внешнему идентификатору канала
// (messageId почтового провайдера). Используется мостом для идемпотентности:
// повторная доставка того же письма не создаёт вторую запись.
func (s *Store) FindMessageByChannelID(ctx context.Context, channelMessageID string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	var (
		m       models.Message
		chanID  sql.NullString
		rawMeta []byte
	)
	const q = `
		SELECT id, conversation_id, sender_type, sender_id, content, type,
		       channel_message_id, metadata, created_at, seq
		FROM messages
		WHERE channel_message_id = $1
		LIMIT 1`
	err := s.db.QueryRowContext(ctx, q, channelMessageID).Scan(
		&m.ID, &m.ConversationID, &m.SenderType, &m.SenderID, &m.Content, &m.Type,
		&chanID, &rawMeta, &m.CreatedAt, &m.Seq,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindMessageByChannelID: %w", err)
	}
	m.ChannelMessageID = nullStringToPointer(chanID)
	if len(rawMeta) > 0 {
		_ = json.Unmarshal(rawMeta, &m.Metadata)
	}
	return &m, nil
}

// GetMessages возвращает страницу ленты диалога в порядке записи:
// по created_at, при равенстве — по порядку вставки (seq).
func (s *Store) GetMessages(ctx context.Context, convID uuid.UUID, page, size int) ([]models.Message, int, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > MaxPageSize {
		size = DefaultPageSize
	}

	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE conversation_id=$1", convID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("GetMessages: count: %w", err)
	}

	const q = `
		SELECT id, conversation_id, sender_type, sender_id, content, type,
		       channel_message_id, metadata, created_at, seq
		FROM messages
		WHERE conversation_id=$1
		ORDER BY created_at ASC, seq ASC
		LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, q, convID, size, (page-1)*size)
	if err != nil {
		return nil, 0, fmt.Errorf("GetMessages: %w", err)
	}
	defer rows.Close()

	var result []models.Message
	for rows.Next() {
		var (
			m       models.Message
			chanID  sql.NullString
			rawMeta []byte
		)
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.SenderType, &m.SenderID, &m.Content, &m.Type,
			&chanID, &rawMeta, &m.CreatedAt, &m.Seq,
		); err != nil {
			return nil, 0, fmt.Errorf("GetMessages: scan: %w", err)
		}
		m.ChannelMessageID = nullStringToPointer(chanID)
		if len(rawMeta) > 0 {
			_ = json.Unmarshal(rawMeta, &m.Metadata)
		}
		result = append(result, m)
	}
	return result, total, rows.Err()
}
