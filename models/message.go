package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы отправителей сообщений
const (
	SenderCustomer = "customer"
	SenderAgent    = "agent"
	SenderSystem   = "system"
)

// Типы сообщений
const (
	MessageTypeText       = "text"
	MessageTypeEmail      = "email"
	MessageTypeEmailReply = "email_reply"
	MessageTypeSystem     = "system"
)

// Message представляет собой запись в ленте диалога.
// Сообщения неизменяемы после записи; порядок — по (timestamp, seq).
type Message struct {
	ID               uuid.UUID      `json:"id"`
	ConversationID   uuid.UUID      `json:"conversationId"`
	SenderType       string         `json:"senderType"` // "customer", "agent" или "system"
	SenderID         uuid.UUID      `json:"senderId,omitempty"`
	Content          string         `json:"content"`
	Type             string         `json:"type,omitempty"` // text, email, email_reply, system
	ChannelMessageID *string        `json:"channelMessageId,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	Seq              int64          `json:"-"` // порядок вставки внутри диалога
}

// Attachment — ссылка на вложение письма, привязанная к диалогу
type Attachment struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	FileName       string    `json:"fileName"`
	FilePath       string    `json:"filePath"`
	FileSize       int64     `json:"fileSize"`
	FileType       string    `json:"fileType"`
	UploadedByType string    `json:"uploadedByType"`
	UploadedByID   string    `json:"uploadedById"`
	CreatedAt      time.Time `json:"createdAt"`
}

// EmailAttachment — вложение из вебхука почтового провайдера
type EmailAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Content     []byte `json:"content"`
}

// EmailWebhookPayload — входящее письмо от почтового провайдера
type EmailWebhookPayload struct {
	To          string            `json:"to"`
	From        string            `json:"from"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text,omitempty"`
	HTML        string            `json:"html,omitempty"`
	Attachments []EmailAttachment `json:"attachments,omitempty"`
	MessageID   string            `json:"messageId"`
	Timestamp   int64             `json:"timestamp"`
}
