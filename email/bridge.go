package email

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/egor/supportchat/database"
	"github.com/egor/supportchat/models"
	"github.com/egor/supportchat/routing"
)

// BridgeStore — операции с БД, нужные почтовому мосту
type BridgeStore interface {
	FindMessageByChannelID(ctx context.Context, channelMessageID string) (*models.Message, error)
	ListEmailThreads(ctx context.Context, customerEmail string) ([]database.EmailThread, error)
	CreateEmailConversation(ctx context.Context, name, email, subject, priority, department, messageID string) (*models.Conversation, error)
	ReopenConversation(ctx context.Context, id uuid.UUID) error
	SetConversationStatus(ctx context.Context, id uuid.UUID, status string) error
	AddMessage(ctx context.Context, convID uuid.UUID, senderType string, senderID uuid.UUID,
		content, msgType string, channelMessageID *string, meta map[string]any) (*models.Message, error)
	AddAttachment(ctx context.Context, att *models.Attachment) error
}

// Assigner запускает назначение диалога после приема письма
type Assigner interface {
	AutoAssign(ctx context.Context, convID uuid.UUID) (*uuid.UUID, error)
}

// Notifier сообщает подключенным участникам о новом сообщении
type Notifier interface {
	NotifyMessage(conv *models.Conversation, msg *models.Message)
}

// IngestResult — итог обработки входящего письма
type IngestResult struct {
	ConversationID uuid.UUID  `json:"conversationId"`
	MessageID      uuid.UUID  `json:"messageId"`
	Duplicate      bool       `json:"duplicate"`
	Reopened       bool       `json:"reopened"`
	AssignedTo     *uuid.UUID `json:"assignedTo,omitempty"`
}

// Bridge принимает письма из вебхука провайдера и превращает их
// в сообщения лент диалогов. Подпись вебхука проверяет обработчик
// до вызова Ingest.
type Bridge struct {
	store    BridgeStore
	engine   Assigner
	notifier Notifier
}

// NewBridge создает новый почтовый мост
func NewBridge(store BridgeStore, engine Assigner, notifier Notifier) *Bridge {
	return &Bridge{
		store:    store,
		engine:   engine,
		notifier: notifier,
	}
}

// Ingest обрабатывает входящее письмо: находит или создает диалог,
// дописывает сообщение в ленту и при необходимости запускает назначение.
// Повторная доставка письма с тем же messageId распознается по
// channel_message_id и не создает вторую запись.
func (b *Bridge) Ingest(ctx context.Context, p *models.EmailWebhookPayload) (*IngestResult, error) {
	sender := ExtractEmailAddress(p.From)
	name := ExtractNameFromEmail(p.From)

	// идемпотентность: письмо уже принимали?
	if p.MessageID != "" {
		existing, err := b.store.FindMessageByChannelID(ctx, p.MessageID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			log.Printf("Ingest: повторная доставка письма %s, пропускаем", p.MessageID)
			return &IngestResult{
				ConversationID: existing.ConversationID,
				MessageID:      existing.ID,
				Duplicate:      true,
			}, nil
		}
	}

	conv, reopened, err := b.resolveConversation(ctx, sender, name, p)
	if err != nil {
		return nil, err
	}
	isNew := conv.Status == models.StatusPending

	msgType := models.MessageTypeEmail
	if !isNew {
		msgType = models.MessageTypeEmailReply
	}
	var channelID *string
	if p.MessageID != "" {
		channelID = &p.MessageID
	}
	senderID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(sender))

	msg, err := b.store.AddMessage(ctx,
		conv.ID, models.SenderCustomer, senderID,
		BuildContent(p.Subject, p.Text, p.HTML), msgType,
		channelID, map[string]any{"subject": p.Subject, "from": p.From},
	)
	if err != nil {
		return nil, err
	}

	// вложения: ошибка одного файла не роняет прием письма
	for _, att := range p.Attachments {
		if err := b.store.AddAttachment(ctx, &models.Attachment{
			ConversationID: conv.ID,
			FileName:       att.Filename,
			FilePath:       attachmentPath(att.Filename),
			FileType:       att.ContentType,
			FileSize:       att.Size,
			UploadedByType: models.ParticipantCustomer,
			UploadedByID:   sender,
		}); err != nil {
			log.Printf("Ingest: не удалось сохранить вложение %q письма %s: %v",
				att.Filename, p.MessageID, err)
		}
	}

	result := &IngestResult{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Reopened:       reopened,
	}

	// письмо записано — новый диалог готов к назначению
	if isNew {
		if err := b.store.SetConversationStatus(ctx, conv.ID, models.StatusWaiting); err != nil {
			return nil, err
		}
		conv.Status = models.StatusWaiting
	}
	if conv.IsAssignable() && b.engine != nil {
		agentID, err := b.engine.AutoAssign(ctx, conv.ID)
		switch {
		case err == nil:
			result.AssignedTo = agentID
		case errors.Is(err, routing.ErrNoEligibleAgents), errors.Is(err, routing.ErrAssignConflict):
			// диалог остался в очереди или его уже забрали — не ошибка приема
		default:
			log.Printf("Ingest: ошибка назначения диалога %s: %v", conv.ID, err)
		}
	}

	if b.notifier != nil {
		b.notifier.NotifyMessage(conv, msg)
	}
	return result, nil
}

// attachmentPath строит путь хранения вложения; метка времени
// защищает от коллизий одинаковых имен файлов
func attachmentPath(filename string) string {
	return fmt.Sprintf("/uploads/email-attachments/%d_%s", time.Now().UnixMilli(), filename)
}

// resolveConversation находит тред по отправителю и теме письма
// или создает новый email-диалог. Закрытый тред открывается заново.
func (b *Bridge) resolveConversation(
	ctx context.Context,
	sender, name string,
	p *models.EmailWebhookPayload,
) (*models.Conversation, bool, error) {
	threads, err := b.store.ListEmailThreads(ctx, sender)
	if err != nil {
		return nil, false, err
	}

	for i := range threads {
		t := &threads[i]
		subject := t.LastSubject
		if subject == "" {
			if s, ok := t.Conversation.Metadata["originalSubject"].(string); ok {
				subject = s
			}
		}
		if !SubjectMatches(p.Subject, subject) {
			continue
		}

		conv := t.Conversation
		if conv.Status == models.StatusClosed {
			if err := b.store.ReopenConversation(ctx, conv.ID); err != nil {
				return nil, false, err
			}
			conv.Status = models.StatusWaiting
			conv.AssignedAgentID = nil
			log.Printf("Ingest: письмо от %s открыло закрытый диалог %s заново", sender, conv.ID)
			return &conv, true, nil
		}
		log.Printf("Ingest: письмо от %s добавлено в тред %s", sender, conv.ID)
		return &conv, false, nil
	}

	conv, err := b.store.CreateEmailConversation(ctx,
		name, sender, p.Subject,
		routing.ClassifyPriority(p.Subject, p.Text),
		routing.ClassifyDepartment(p.Subject, p.Text),
		p.MessageID,
	)
	if err != nil {
		return nil, false, err
	}
	log.Printf("Ingest: создан новый email-диалог %s для %s", conv.ID, sender)
	return conv, false, nil
}
