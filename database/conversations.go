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

// ─────────────────────────── создание диалогов

// CreateLiveConversation создает диалог live-канала. Клиент уже на связи,
// поэтому диалог сразу попадает в статус waiting.
func (s *Store) CreateLiveConversation(ctx context.Context, name, email, sessionToken string) (*models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	now := time.Now()
	conv := &models.Conversation{
		ID:            uuid.New(),
		Channel:       models.ChannelLive,
		Status:        models.StatusWaiting,
		Priority:      models.PriorityNormal,
		Department:    "general",
		CustomerName:  name,
		CustomerEmail: email,
		SessionToken:  sessionToken,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	const q = `
		INSERT INTO conversations
			(id, channel, status, priority, department,
			 customer_name, customer_email, session_token, metadata,
			 created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULL,$9,$9)`
	if _, err := s.db.ExecContext(ctx, q,
		conv.ID, conv.Channel, conv.Status, conv.Priority, conv.Department,
		conv.CustomerName, conv.CustomerEmail, conv.SessionToken, now,
	); err != nil {
		return nil, fmt.Errorf("CreateLiveConversation: %w", err)
	}
	return conv, nil
}

// CreateEmailConversation создает диалог email-канала в статусе pending.
// Исходная тема и messageId письма сохраняются в metadata для склейки ответов.
func (s *Store) CreateEmailConversation(ctx context.Context, name, email, subject, priority, department, messageID string) (*models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	now := time.Now()
	conv := &models.Conversation{
		ID:            uuid.New(),
		Channel:       models.ChannelEmail,
		Status:        models.StatusPending,
		Priority:      priority,
		Department:    department,
		CustomerName:  name,
		CustomerEmail: email,
		Metadata: map[string]any{
			"originalSubject": subject,
			"messageId":       messageID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	rawMeta, err := json.Marshal(conv.Metadata)
	if err != nil {
		return nil, fmt.Errorf("CreateEmailConversation: metadata: %w", err)
	}

	const q = `
		INSERT INTO conversations
			(id, channel, status, priority, department,
			 customer_name, customer_email, session_token, metadata,
			 created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'',$8,$9,$9)`
	if _, err := s.db.ExecContext(ctx, q,
		conv.ID, conv.Channel, conv.Status, conv.Priority, conv.Department,
		conv.CustomerName, conv.CustomerEmail, rawMeta, now,
	); err != nil {
		return nil, fmt.Errorf("CreateEmailConversation: %w", err)
	}
	return conv, nil
}

// ─────────────────────────── чтение

func scanConversation(row interface {
	Scan(dest ...any) error
}) (*models.Conversation, error) {
	var (
		conv         models.Conversation
		assignedNull sql.NullString
		assignedAt   sql.NullTime
		rawMeta      []byte
	)
	if err := row.Scan(
		&conv.ID, &conv.Channel, &conv.Status, &assignedNull,
		&conv.Priority, &conv.Department,
		&conv.CustomerName, &conv.CustomerEmail, &conv.SessionToken,
		&rawMeta, &conv.CreatedAt, &assignedAt, &conv.UpdatedAt,
	); err != nil {
		return nil, err
	}

	assigned, err := NullUUIDToPointer(assignedNull)
	if err != nil {
		return nil, err
	}
	conv.AssignedAgentID = assigned
	conv.AssignedAt = nullTimeToPointer(assignedAt)
	if len(rawMeta) > 0 {
		_ = json.Unmarshal(rawMeta, &conv.Metadata)
	}
	return &conv, nil
}

const conversationColumns = `
	id, channel, status, assigned_agent_id, priority, department,
	customer_name, customer_email, session_token,
	metadata, created_at, assigned_at, updated_at`

// GetConversation возвращает диалог по ID (без сообщений).
func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	q := `SELECT` + conversationColumns + ` FROM conversations WHERE id = $1`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetConversation: %w", err)
	}
	return conv, nil
}

// EmailThread — кандидат на склейку ответного письма: диалог плюс
// тема последнего сообщения в нём.
type EmailThread struct {
	Conversation models.Conversation
	LastSubject  string
}

// ListEmailThreads возвращает email-диалоги клиента (свежие первыми)
// с темой последнего сообщения — кандидаты для склейки ответа.
func (s *Store) ListEmailThreads(ctx context.Context, customerEmail string) ([]EmailThread, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	q := `
		SELECT` + conversationColumns + `,
			COALESCE(l.subject, '') AS last_subject
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT metadata->>'subject' AS subject
			FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, seq DESC
			LIMIT 1
		) l ON TRUE
		WHERE c.customer_email = $1 AND c.channel = 'email'
		ORDER BY c.updated_at DESC
		LIMIT 20`
	rows, err := s.db.QueryContext(ctx, q, customerEmail)
	if err != nil {
		return nil, fmt.Errorf("ListEmailThreads: %w", err)
	}
	defer rows.Close()

	var threads []EmailThread
	for rows.Next() {
		var (
			conv         models.Conversation
			assignedNull sql.NullString
			assignedAt   sql.NullTime
			rawMeta      []byte
			lastSubject  string
		)
		if err := rows.Scan(
			&conv.ID, &conv.Channel, &conv.Status, &assignedNull,
			&conv.Priority, &conv.Department,
			&conv.CustomerName, &conv.CustomerEmail, &conv.SessionToken,
			&rawMeta, &conv.CreatedAt, &assignedAt, &conv.UpdatedAt,
			&lastSubject,
		); err != nil {
			return nil, fmt.Errorf("ListEmailThreads: scan: %w", err)
		}
		assigned, err := NullUUIDToPointer(assignedNull)
		if err != nil {
			return nil, err
		}
		conv.AssignedAgentID = assigned
		conv.AssignedAt = nullTimeToPointer(assignedAt)
		if len(rawMeta) > 0 {
			_ = json.Unmarshal(rawMeta, &conv.Metadata)
		}
		threads = append(threads, EmailThread{Conversation: conv, LastSubject: lastSubject})
	}
	return threads, rows.Err()
}

// ListWaitingConversations возвращает неназначенные диалоги, старые первыми.
func (s *Store) ListWaitingConversations(ctx context.Context, limit int) ([]models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	if limit < 1 {
		limit = DefaultPageSize
	}
	q := `SELECT` + conversationColumns + `
		FROM conversations
		WHERE status = 'waiting' AND assigned_agent_id IS NULL
		ORDER BY created_at ASC
		LIMIT $1`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("ListWaitingConversations: %w", err)
	}
	defer rows.Close()

	var result []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("ListWaitingConversations: scan: %w", err)
		}
		result = append(result, *conv)
	}
	return result, rows.Err()
}

// ListConversations возвращает страницу диалогов для панели оператора:
// назначенные этому оператору либо ещё никому.
func (s *Store) ListConversations(ctx context.Context, agentID uuid.UUID, page, size int) ([]models.ConversationResponse, int, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > MaxPageSize {
		size = DefaultPageSize
	}

	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	// 1) общее количество
	var total int
	countQ := `
		SELECT COUNT(*)
		FROM conversations
		WHERE assigned_agent_id = $1 OR assigned_agent_id IS NULL`
	if err := s.db.QueryRowContext(ctx, countQ, agentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListConversations: count: %w", err)
	}

	// 2) сами диалоги с последним сообщением
	const q = `
		SELECT
			c.id, c.channel, c.status, c.assigned_agent_id,
			c.priority, c.department, c.customer_name, c.customer_email,
			c.created_at, c.updated_at,
			l.id, l.sender_type, l.content, l.type, l.created_at
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT id, sender_type, content, type, created_at
			FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, seq DESC
			LIMIT 1
		) l ON TRUE
		WHERE c.assigned_agent_id = $1 OR c.assigned_agent_id IS NULL
		ORDER BY c.updated_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, q, agentID, size, (page-1)*size)
	if err != nil {
		return nil, 0, fmt.Errorf("ListConversations: %w", err)
	}
	defer rows.Close()

	var result []models.ConversationResponse
	for rows.Next() {
		var (
			conv         models.ConversationResponse
			assignedNull sql.NullString
			lastID       sql.NullString
			lastSender   sql.NullString
			lastContent  sql.NullString
			lastType     sql.NullString
			lastTime     sql.NullTime
		)
		if err := rows.Scan(
			&conv.ID, &conv.Channel, &conv.Status, &assignedNull,
			&conv.Priority, &conv.Department, &conv.CustomerName, &conv.CustomerEmail,
			&conv.CreatedAt, &conv.UpdatedAt,
			&lastID, &lastSender, &lastContent, &lastType, &lastTime,
		); err != nil {
			return nil, 0, fmt.Errorf("ListConversations: scan: %w", err)
		}

		assigned, err := NullUUIDToPointer(assignedNull)
		if err != nil {
			return nil, 0, err
		}
		conv.AssignedAgentID = assigned

		if lastID.Valid {
			conv.LastMessage = &models.Message{
				ID:             uuid.MustParse(lastID.String),
				ConversationID: conv.ID,
				SenderType:     lastSender.String,
				Content:        lastContent.String,
				Type:           lastType.String,
				CreatedAt:      lastTime.Time,
			}
		}
		result = append(result, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return result, total, nil
}

// ─────────────────────────── переходы статуса

// SetConversationStatus записывает новый статус диалога.
// Допустимость перехода проверяет вызывающая сторона (models.CanTransition).
func (s *Store) SetConversationStatus(ctx context.Context, id uuid.UUID, status string) error {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status=$1, updated_at=$2 WHERE id=$3`,
		status, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("SetConversationStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// ReopenConversation возвращает закрытый диалог в ожидание (closed → waiting)
// и снимает назначение — новое сообщение клиента распределяется заново.
func (s *Store) ReopenConversation(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status='waiting', assigned_agent_id=NULL, assigned_at=NULL, updated_at=$1
		WHERE id=$2 AND status='closed'`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("ReopenConversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// TryAssign выполняет атомарный hand-off: назначение записывается только если
// диалог всё ещё никому не назначен. Возвращает false, если гонка проиграна.
func (s *Store) TryAssign(ctx context.Context, convID, agentID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET assigned_agent_id=$1, status='assigned', assigned_at=$2, updated_at=$2
		WHERE id=$3
		  AND assigned_agent_id IS NULL
		  AND status IN ('pending','waiting')`,
		agentID, now, convID,
	)
	if err != nil {
		return false, fmt.Errorf("TryAssign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("TryAssign: %w", err)
	}
	return n == 1, nil
}

// CloseConversation закрывает диалог и снимает назначение, сохраняя
// инвариант «assigned_agent_id заполнен ⇔ статус assigned/active».
func (s *Store) CloseConversation(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status='closed', assigned_agent_id=NULL, assigned_at=NULL, updated_at=$1
		WHERE id=$2 AND status IN ('assigned','active')`,
		time.Now(), id,
	)
	if err != nil {
		return false, fmt.Errorf("CloseConversation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
