package email

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egor/supportchat/database"
	"github.com/egor/supportchat/models"
)

// fakeBridgeStore — хранилище моста в памяти
type fakeBridgeStore struct {
	convs       map[uuid.UUID]*models.Conversation
	messages    []*models.Message
	attachments []*models.Attachment

	attachErrFor string // имя файла, сохранение которого "ломается"
	reopened     []uuid.UUID
}

func newFakeBridgeStore() *fakeBridgeStore {
	return &fakeBridgeStore{convs: make(map[uuid.UUID]*models.Conversation)}
}

func (s *fakeBridgeStore) FindMessageByChannelID(_ context.Context, channelMessageID string) (*models.Message, error) {
	for _, m := range s.messages {
		if m.ChannelMessageID != nil && *m.ChannelMessageID == channelMessageID {
			return m, nil
		}
	}
	return nil, nil
}

func (s *fakeBridgeStore) ListEmailThreads(_ context.Context, customerEmail string) ([]database.EmailThread, error) {
	var threads []database.EmailThread
	for _, conv := range s.convs {
		if conv.Channel != models.ChannelEmail || conv.CustomerEmail != customerEmail {
			continue
		}
		t := database.EmailThread{Conversation: *conv}
		for i := len(s.messages) - 1; i >= 0; i-- {
			if s.messages[i].ConversationID == conv.ID {
				if subj, ok := s.messages[i].Metadata["subject"].(string); ok {
					t.LastSubject = subj
				}
				break
			}
		}
		threads = append(threads, t)
	}
	return threads, nil
}

func (s *fakeBridgeStore) CreateEmailConversation(_ context.Context, name, email, subject, priority, department, messageID string) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:            uuid.New(),
		Channel:       models.ChannelEmail,
		Status:        models.StatusPending,
		Priority:      priority,
		Department:    department,
		CustomerName:  name,
		CustomerEmail: email,
		Metadata:      map[string]any{"originalSubject": subject, "messageId": messageID},
		CreatedAt:     time.Now(),
	}
	s.convs[conv.ID] = conv
	return conv, nil
}

func (s *fakeBridgeStore) ReopenConversation(_ context.Context, id uuid.UUID) error {
	conv, ok := s.convs[id]
	if !ok {
		return database.ErrConversationNotFound
	}
	conv.Status = models.StatusWaiting
	conv.AssignedAgentID = nil
	s.reopened = append(s.reopened, id)
	return nil
}

func (s *fakeBridgeStore) SetConversationStatus(_ context.Context, id uuid.UUID, status string) error {
	conv, ok := s.convs[id]
	if !ok {
		return database.ErrConversationNotFound
	}
	conv.Status = status
	return nil
}

func (s *fakeBridgeStore) AddMessage(_ context.Context, convID uuid.UUID, senderType string, senderID uuid.UUID,
	content, msgType string, channelMessageID *string, meta map[string]any) (*models.Message, error) {
	if _, ok := s.convs[convID]; !ok {
		return nil, database.ErrConversationNotFound
	}
	m := &models.Message{
		ID:               uuid.New(),
		ConversationID:   convID,
		SenderType:       senderType,
		SenderID:         senderID,
		Content:          content,
		Type:             msgType,
		ChannelMessageID: channelMessageID,
		Metadata:         meta,
		CreatedAt:        time.Now(),
	}
	s.messages = append(s.messages, m)
	return m, nil
}

func (s *fakeBridgeStore) AddAttachment(_ context.Context, att *models.Attachment) error {
	if att.FileName == s.attachErrFor {
		return errors.New("хранилище недоступно")
	}
	s.attachments = append(s.attachments, att)
	return nil
}

// fakeAssigner записывает вызовы AutoAssign
type fakeAssigner struct {
	calls []uuid.UUID
	agent *uuid.UUID
	err   error
}

func (a *fakeAssigner) AutoAssign(_ context.Context, convID uuid.UUID) (*uuid.UUID, error) {
	a.calls = append(a.calls, convID)
	return a.agent, a.err
}

// fakeMessageNotifier записывает рассылки новых сообщений
type fakeMessageNotifier struct {
	notified []uuid.UUID
}

func (n *fakeMessageNotifier) NotifyMessage(conv *models.Conversation, _ *models.Message) {
	n.notified = append(n.notified, conv.ID)
}

func payload(from, subject, text, messageID string) *models.EmailWebhookPayload {
	return &models.EmailWebhookPayload{
		To:        "support@example.nl",
		From:      from,
		Subject:   subject,
		Text:      text,
		MessageID: messageID,
		Timestamp: time.Now().Unix(),
	}
}

func TestIngestNewEmail(t *testing.T) {
	store := newFakeBridgeStore()
	agentID := uuid.New()
	assigner := &fakeAssigner{agent: &agentID}
	notifier := &fakeMessageNotifier{}
	bridge := NewBridge(store, assigner, notifier)

	result, err := bridge.Ingest(context.Background(),
		payload("Jan de Vries <jan@example.nl>", "Bestelling #42", "Waar is mijn pakket?", "msg-001"))
	require.NoError(t, err)

	assert.False(t, result.Duplicate)
	assert.False(t, result.Reopened)
	require.NotNil(t, result.AssignedTo)
	assert.Equal(t, agentID, *result.AssignedTo)

	conv := store.convs[result.ConversationID]
	require.NotNil(t, conv)
	assert.Equal(t, models.ChannelEmail, conv.Channel)
	assert.Equal(t, "jan@example.nl", conv.CustomerEmail)
	assert.Equal(t, "Jan de Vries", conv.CustomerName)
	assert.Equal(t, models.StatusWaiting, conv.Status, "после записи письма диалог готов к назначению")

	require.Len(t, store.messages, 1)
	msg := store.messages[0]
	assert.Equal(t, models.MessageTypeEmail, msg.Type)
	assert.Equal(t, models.SenderCustomer, msg.SenderType)
	require.NotNil(t, msg.ChannelMessageID)
	assert.Equal(t, "msg-001", *msg.ChannelMessageID)
	assert.Contains(t, msg.Content, "Bestelling #42")

	assert.Equal(t, []uuid.UUID{conv.ID}, assigner.calls)
	assert.Equal(t, []uuid.UUID{conv.ID}, notifier.notified)
}

// Повторная доставка того же письма не создает второй записи.
func TestIngestDuplicate(t *testing.T) {
	store := newFakeBridgeStore()
	assigner := &fakeAssigner{}
	bridge := NewBridge(store, assigner, nil)

	p := payload("jan@example.nl", "Bestelling #42", "Waar is mijn pakket?", "msg-001")

	first, err := bridge.Ingest(context.Background(), p)
	require.NoError(t, err)

	second, err := bridge.Ingest(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Len(t, store.messages, 1, "дубликат не должен создавать запись")
	assert.Len(t, assigner.calls, 1, "дубликат не должен запускать назначение")
}

// Ответ с "Re:" в теме попадает в существующий тред.
func TestIngestReplyJoinsThread(t *testing.T) {
	store := newFakeBridgeStore()
	bridge := NewBridge(store, &fakeAssigner{}, nil)

	first, err := bridge.Ingest(context.Background(),
		payload("jan@example.nl", "Bestelling #42", "Waar is mijn pakket?", "msg-001"))
	require.NoError(t, err)

	second, err := bridge.Ingest(context.Background(),
		payload("jan@example.nl", "Re: Bestelling #42", "Nog steeds niets ontvangen", "msg-002"))
	require.NoError(t, err)

	assert.Equal(t, first.ConversationID, second.ConversationID, "ответ должен попасть в тот же диалог")
	assert.Len(t, store.convs, 1)
	require.Len(t, store.messages, 2)
	assert.Equal(t, models.MessageTypeEmailReply, store.messages[1].Type)
}

// Письмо с другой темой от того же отправителя открывает новый тред.
func TestIngestDifferentSubjectNewThread(t *testing.T) {
	store := newFakeBridgeStore()
	bridge := NewBridge(store, &fakeAssigner{}, nil)

	first, err := bridge.Ingest(context.Background(),
		payload("jan@example.nl", "Bestelling #42", "Waar is mijn pakket?", "msg-001"))
	require.NoError(t, err)

	second, err := bridge.Ingest(context.Background(),
		payload("jan@example.nl", "Nieuwe vraag over facturen", "Hallo", "msg-002"))
	require.NoError(t, err)

	assert.NotEqual(t, first.ConversationID, second.ConversationID)
	assert.Len(t, store.convs, 2)
}

// Письмо в закрытый тред открывает его заново и запускает назначение.
func TestIngestReopensClosedThread(t *testing.T) {
	store := newFakeBridgeStore()
	assigner := &fakeAssigner{}
	bridge := NewBridge(store, assigner, nil)

	first, err := bridge.Ingest(context.Background(),
		payload("jan@example.nl", "Bestelling #42", "Waar is mijn pakket?", "msg-001"))
	require.NoError(t, err)

	// оператор закрыл диалог (закрытие очищает назначение)
	conv := store.convs[first.ConversationID]
	conv.Status = models.StatusClosed
	conv.AssignedAgentID = nil

	second, err := bridge.Ingest(context.Background(),
		payload("jan@example.nl", "Re: Bestelling #42", "Het probleem is terug", "msg-002"))
	require.NoError(t, err)

	assert.True(t, second.Reopened)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Contains(t, store.reopened, first.ConversationID)
	assert.Len(t, assigner.calls, 2, "переоткрытый диалог снова идет на назначение")
}

// Ошибка сохранения одного вложения не роняет прием письма.
func TestIngestAttachmentPartialFailure(t *testing.T) {
	store := newFakeBridgeStore()
	store.attachErrFor = "broken.pdf"
	bridge := NewBridge(store, &fakeAssigner{}, nil)

	p := payload("jan@example.nl", "Bestelling #42", "Zie bijlagen", "msg-001")
	p.Attachments = []models.EmailAttachment{
		{Filename: "factuur.pdf", ContentType: "application/pdf", Size: 1024},
		{Filename: "broken.pdf", ContentType: "application/pdf", Size: 2048},
		{Filename: "foto.jpg", ContentType: "image/jpeg", Size: 4096},
	}

	result, err := bridge.Ingest(context.Background(), p)
	require.NoError(t, err, "сломанное вложение не должно ронять прием")

	assert.Len(t, store.messages, 1)
	require.Len(t, store.attachments, 2)
	assert.Equal(t, "factuur.pdf", store.attachments[0].FileName)
	assert.Equal(t, "foto.jpg", store.attachments[1].FileName)
	assert.Equal(t, result.ConversationID, store.attachments[0].ConversationID)

	// у каждой записи есть путь хранения
	assert.Regexp(t, `^/uploads/email-attachments/\d+_factuur\.pdf$`, store.attachments[0].FilePath)
	assert.Regexp(t, `^/uploads/email-attachments/\d+_foto\.jpg$`, store.attachments[1].FilePath)
}
