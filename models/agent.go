package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы оператора
const (
	AgentOnline  = "online"
	AgentOffline = "offline"
)

// Agent представляет собой оператора поддержки
type Agent struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	PasswordHash       string    `json:"-"`
	Status             string    `json:"status"` // "online" или "offline"
	IsAvailable        bool      `json:"isAvailable"`
	MaxConcurrentChats int       `json:"maxConcurrentChats"`
	ActiveCount        int       `json:"activeCount"` // вычисляется: диалоги в статусе assigned/active
	AvgResponseTime    float64   `json:"avgResponseTime"`
}

// IsEligible сообщает, может ли оператор принять новый диалог
func (a *Agent) IsEligible() bool {
	return a.Status == AgentOnline && a.IsAvailable && a.ActiveCount < a.MaxConcurrentChats
}

// Типы участников диалога
const (
	ParticipantCustomer = "customer"
	ParticipantAgent    = "agent"
)

// Presence — онлайн-статус участника в рамках диалога.
// Запись обновляется по last-write-wins, никогда не удаляется.
type Presence struct {
	ConversationID  uuid.UUID `json:"conversationId"`
	ParticipantType string    `json:"participantType"` // "customer" или "agent"
	ParticipantID   uuid.UUID `json:"participantId"`
	IsOnline        bool      `json:"isOnline"`
	IsTyping        bool      `json:"isTyping"`
	CurrentPage     *string   `json:"currentPage,omitempty"`
	LastSeen        time.Time `json:"lastSeen"`
}
