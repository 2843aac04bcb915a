package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/egor/supportchat/models"
)

// agentColumns — поля оператора вместе с вычисляемой текущей нагрузкой:
// количеством диалогов в статусе assigned/active, назначенных ему.
const agentColumns = `
	a.id, a.name, a.email, a.password_hash, a.status, a.is_available,
	a.max_concurrent_chats, a.avg_response_time,
	(SELECT COUNT(*) FROM conversations c
	  WHERE c.assigned_agent_id = a.id
	    AND c.status IN ('assigned','active')) AS active_count`

func scanAgent(row interface{ Scan(dest ...any) error }) (*models.Agent, error) {
	var a models.Agent
	if err := row.Scan(
		&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.Status, &a.IsAvailable,
		&a.MaxConcurrentChats, &a.AvgResponseTime, &a.ActiveCount,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAgent возвращает оператора по ID.
func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	q := `SELECT` + agentColumns + ` FROM agents a WHERE a.id = $1`
	agent, err := scanAgent(s.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetAgent: %w", err)
	}
	return agent, nil
}

// GetAgentByEmail возвращает оператора по email (авторизация).
func (s *Store) GetAgentByEmail(ctx context.Context, email string) (*models.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	q := `SELECT` + agentColumns + ` FROM agents a WHERE a.email = $1`
	agent, err := scanAgent(s.db.QueryRowContext(ctx, q, email))
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetAgentByEmail: %w", err)
	}
	return agent, nil
}

// VerifyPassword сверяет пароль с bcrypt-хешем из БД.
func VerifyPassword(pw, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
}

// SetAgentStatus записывает онлайн-статус и доступность оператора.
func (s *Store) SetAgentStatus(ctx context.Context, agentID uuid.UUID, status string, isAvailable bool) error {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status=$1, is_available=$2, last_activity=NOW() WHERE id=$3`,
		status, isAvailable, agentID,
	)
	if err != nil {
		return fmt.Errorf("SetAgentStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// ListAgents возвращает всех операторов с текущей нагрузкой.
// Отбор и ранжирование подходящих выполняет routing.Eligible.
func (s *Store) ListAgents(ctx context.Context) ([]models.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	q := `SELECT` + agentColumns + ` FROM agents a ORDER BY a.name`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListAgents: %w", err)
	}
	defer rows.Close()

	var result []models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAgents: scan: %w", err)
		}
		result = append(result, *agent)
	}
	return result, rows.Err()
}
