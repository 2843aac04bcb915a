package handlers

import (
	"log"

	"github.com/google/uuid"

	"github.com/egor/supportchat/models"
	"github.com/egor/supportchat/websocket"
)

// HubNotifier транслирует события движка назначения и почтового моста
// в WebSocket-рассылки. Реализует routing.Notifier и email.Notifier.
type HubNotifier struct {
	hub *websocket.Hub
}

// NewHubNotifier создает нотификатор поверх хаба
func NewHubNotifier(hub *websocket.Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

// NotifyAssigned сообщает оператору и участникам диалога о назначении
func (n *HubNotifier) NotifyAssigned(conv *models.Conversation, agentID uuid.UUID) {
	data, err := websocket.NewConversationAssignedEvent(conv.ID, agentID)
	if err != nil {
		log.Printf("NotifyAssigned: ошибка формирования события: %v", err)
		return
	}
	n.hub.SendToAgent(agentID, data)
	n.hub.BroadcastToConversation(conv.ID, data, nil)
}

// NotifyWaiting рассылает онлайн-операторам уведомление о диалоге в очереди
func (n *HubNotifier) NotifyWaiting(conv *models.Conversation, agentIDs []uuid.UUID) {
	data, err := websocket.NewChatRequestEvent(conv)
	if err != nil {
		log.Printf("NotifyWaiting: ошибка формирования события: %v", err)
		return
	}
	for _, id := range agentIDs {
		n.hub.SendToAgent(id, data)
	}
}

// NotifyMessage рассылает участникам диалога новое сообщение
// (используется почтовым мостом: у письма нет WebSocket-отправителя)
func (n *HubNotifier) NotifyMessage(conv *models.Conversation, msg *models.Message) {
	data, err := websocket.NewMessageEvent(msg)
	if err != nil {
		log.Printf("NotifyMessage: ошибка формирования события: %v", err)
		return
	}
	if conv.AssignedAgentID != nil {
		n.hub.DeliverToConversation(conv.ID, *conv.AssignedAgentID, data, nil)
		return
	}
	n.hub.BroadcastToConversation(conv.ID, data, nil)
}
