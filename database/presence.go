package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/egor/supportchat/models"
)

// UpsertPresence записывает онлайн/typing-статус участника диалога.
// Последняя запись побеждает; строки никогда не удаляются.
func (s *Store) UpsertPresence(
	ctx context.Context,
	convID uuid.UUID,
	participantType string,
	participantID uuid.UUID,
	isOnline, isTyping bool,
	currentPage *string,
) error {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	const q = `
		INSERT INTO presence
			(conversation_id, participant_type, participant_id,
			 is_online, is_typing, current_page, last_seen, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
		ON CONFLICT (conversation_id, participant_type, participant_id)
		DO UPDATE SET
			is_online    = EXCLUDED.is_online,
			is_typing    = EXCLUDED.is_typing,
			current_page = EXCLUDED.current_page,
			last_seen    = NOW(),
			updated_at   = NOW()`
	if _, err := s.db.ExecContext(ctx, q,
		convID, participantType, participantID, isOnline, isTyping, currentPage,
	); err != nil {
		return fmt.Errorf("UpsertPresence: %w", err)
	}
	return nil
}

// GetPresence возвращает статусы всех участников диалога.
func (s *Store) GetPresence(ctx context.Context, convID uuid.UUID) ([]models.Presence, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	const q = `
		SELECT conversation_id, participant_type, participant_id,
		       is_online, is_typing, current_page, last_seen
		FROM presence
		WHERE conversation_id = $1`
	rows, err := s.db.QueryContext(ctx, q, convID)
	if err != nil {
		return nil, fmt.Errorf("GetPresence: %w", err)
	}
	defer rows.Close()

	var result []models.Presence
	for rows.Next() {
		var (
			p        models.Presence
			pageNull sql.NullString
		)
		if err := rows.Scan(
			&p.ConversationID, &p.ParticipantType, &p.ParticipantID,
			&p.IsOnline, &p.IsTyping, &pageNull, &p.LastSeen,
		); err != nil {
			return nil, fmt.Errorf("GetPresence: scan: %w", err)
		}
		p.CurrentPage = nullStringToPointer(pageNull)
		result = append(result, p)
	}
	return result, rows.Err()
}

// SetOnline реализует websocket.PresenceUpdater: хаб дергает его при
// входе в комнату и при отключении. Ошибка записи не должна ронять
// цикл хаба — логируем и продолжаем.
func (s *Store) SetOnline(convID uuid.UUID, participantType string, participantID uuid.UUID, online bool) {
	if err := s.UpsertPresence(context.Background(), convID, participantType, participantID, online, false, nil); err != nil {
		log.Printf("SetOnline: ошибка обновления presence для %s/%s: %v", participantType, participantID, err)
	}
}

// SetTyping записывает индикатор набора текста, не трогая is_online.
func (s *Store) SetTyping(ctx context.Context, convID uuid.UUID, participantType string, participantID uuid.UUID, typing bool) error {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	const q = `
		INSERT INTO presence
			(conversation_id, participant_type, participant_id,
			 is_online, is_typing, current_page, last_seen, updated_at)
		VALUES ($1,$2,$3,TRUE,$4,NULL,NOW(),NOW())
		ON CONFLICT (conversation_id, participant_type, participant_id)
		DO UPDATE SET
			is_typing  = EXCLUDED.is_typing,
			last_seen  = NOW(),
			updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q, convID, participantType, participantID, typing); err != nil {
		return fmt.Errorf("SetTyping: %w", err)
	}
	return nil
}
