package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы диалога
const (
	StatusPending  = "pending"
	StatusWaiting  = "waiting"
	StatusAssigned = "assigned"
	StatusActive   = "active"
	StatusClosed   = "closed"
)

// Каналы, через которые приходят сообщения
const (
	ChannelLive  = "live"
	ChannelEmail = "email"
)

// Приоритеты диалога
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Conversation представляет собой диалог поддержки с клиентом
type Conversation struct {
	ID              uuid.UUID      `json:"id"`
	Channel         string         `json:"channel"` // "live" или "email"
	Status          string         `json:"status"`  // pending, waiting, assigned, active, closed
	AssignedAgentID *uuid.UUID     `json:"assignedAgentId,omitempty"`
	Priority        string         `json:"priority"` // normal, high, urgent
	Department      string         `json:"department"`
	CustomerName    string         `json:"customerName"`
	CustomerEmail   string         `json:"customerEmail,omitempty"`
	SessionToken    string         `json:"sessionToken,omitempty"` // токен виджета для live-канала
	Metadata        map[string]any `json:"metadata,omitempty"`     // originalSubject, messageId и т.п.
	CreatedAt       time.Time      `json:"createdAt"`
	AssignedAt      *time.Time     `json:"assignedAt,omitempty"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	Messages        []Message      `json:"messages,omitempty"`
	LastMessage     *Message       `json:"lastMessage,omitempty"`
}

// ConversationResponse для списка диалогов на фронтенде оператора
type ConversationResponse struct {
	ID              uuid.UUID  `json:"id"`
	Channel         string     `json:"channel"`
	Status          string     `json:"status"`
	Priority        string     `json:"priority"`
	Department      string     `json:"department"`
	CustomerName    string     `json:"customerName"`
	CustomerEmail   string     `json:"customerEmail,omitempty"`
	AssignedAgentID *uuid.UUID `json:"assignedAgentId,omitempty"`
	LastMessage     *Message   `json:"lastMessage,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// ConversationPaginationResponse стандартный ответ со списком диалогов
type ConversationPaginationResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
	Page          int                    `json:"page"`
	PageSize      int                    `json:"pageSize"`
	TotalItems    int                    `json:"totalItems"`
	TotalPages    int                    `json:"totalPages"`
}

// allowedTransitions описывает машину состояний диалога.
// Назначение (waiting→assigned) выполняется только атомарным hand-off в БД.
var allowedTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusWaiting: true,
	},
	StatusWaiting: {
		StatusWaiting:  true, // нет свободных операторов — остаёмся в ожидании
		StatusAssigned: true,
	},
	StatusAssigned: {
		StatusActive: true,
		StatusClosed: true,
	},
	StatusActive: {
		StatusClosed: true,
	},
	StatusClosed: {
		StatusWaiting: true, // новое сообщение клиента открывает диалог заново
	},
}

// CanTransition проверяет допустимость перехода статуса диалога
func CanTransition(from, to string) bool {
	return allowedTransitions[from][to]
}

// IsAssignable сообщает, можно ли пытаться назначить диалог оператору
func (c *Conversation) IsAssignable() bool {
	return c.AssignedAgentID == nil &&
		(c.Status == StatusPending || c.Status == StatusWaiting)
}
