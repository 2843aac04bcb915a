package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/egor/supportchat/models"
)

// Event представляет сообщение для WebSocket
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent создает новое сообщение с указанным типом и данными
func NewEvent(eventType string, payload interface{}) ([]byte, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	event := Event{
		Type:    eventType,
		Payload: payloadJSON,
	}

	return json.Marshal(event)
}

// NewMessageEvent создает событие о новом сообщении в диалоге
func NewMessageEvent(message *models.Message) ([]byte, error) {
	return NewEvent("new_message", message)
}

// NewTypingEvent создает событие индикатора набора текста
func NewTypingEvent(convID uuid.UUID, senderType string, typing bool) ([]byte, error) {
	eventType := "typing_stop"
	if typing {
		eventType = "typing_start"
	}
	payload := struct {
		ConversationID uuid.UUID `json:"conversationId"`
		SenderType     string    `json:"senderType"`
		Timestamp      time.Time `json:"timestamp"`
	}{convID, senderType, time.Now()}

	return NewEvent(eventType, payload)
}

// NewAgentStatusEvent создает событие смены статуса оператора
func NewAgentStatusEvent(agentID uuid.UUID, status string, isAvailable bool) ([]byte, error) {
	payload := struct {
		AgentID     uuid.UUID `json:"agentId"`
		Status      string    `json:"status"`
		IsAvailable bool      `json:"isAvailable"`
	}{agentID, status, isAvailable}

	return NewEvent("agent_status_changed", payload)
}

// NewConversationAssignedEvent создает событие назначения диалога оператору
func NewConversationAssignedEvent(convID, agentID uuid.UUID) ([]byte, error) {
	payload := struct {
		ConversationID uuid.UUID `json:"conversationId"`
		AgentID        uuid.UUID `json:"agentId"`
		AssignedAt     time.Time `json:"assignedAt"`
	}{convID, agentID, time.Now()}

	return NewEvent("conversation_assigned", payload)
}

// NewChatRequestEvent создает уведомление оператору о диалоге в очереди
func NewChatRequestEvent(conv *models.Conversation) ([]byte, error) {
	payload := struct {
		ConversationID uuid.UUID `json:"conversationId"`
		Channel        string    `json:"channel"`
		Priority       string    `json:"priority"`
		Department     string    `json:"department"`
		CustomerName   string    `json:"customerName"`
		CreatedAt      time.Time `json:"createdAt"`
	}{conv.ID, conv.Channel, conv.Priority, conv.Department, conv.CustomerName, conv.CreatedAt}

	return NewEvent("new_chat_request", payload)
}

// NewParticipantEvent создает событие входа/выхода участника диалога
func NewParticipantEvent(eventType string, convID uuid.UUID, participantType string, participantID uuid.UUID) ([]byte, error) {
	payload := struct {
		ConversationID  uuid.UUID `json:"conversationId"`
		ParticipantType string    `json:"participantType"`
		ParticipantID   uuid.UUID `json:"participantId"`
		Timestamp       time.Time `json:"timestamp"`
	}{convID, participantType, participantID, time.Now()}

	return NewEvent(eventType, payload)
}

// NewJoinedConversationEvent создает подтверждение входа в диалог
func NewJoinedConversationEvent(convID uuid.UUID) ([]byte, error) {
	payload := struct {
		ConversationID uuid.UUID `json:"conversationId"`
	}{convID}

	return NewEvent("joined_conversation", payload)
}

// NewPresenceEvent создает событие обновления presence участника
func NewPresenceEvent(p *models.Presence) ([]byte, error) {
	return NewEvent("presence_updated", p)
}

// NewErrorMessage создает сообщение об ошибке
func NewErrorMessage(code, errorText string) ([]byte, error) {
	payload := struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}{code, errorText}

	return NewEvent("error", payload)
}
