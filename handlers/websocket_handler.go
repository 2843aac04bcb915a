package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/egor/supportchat/database"
	"github.com/egor/supportchat/middleware"
	"github.com/egor/supportchat/models"
	"github.com/egor/supportchat/routing"
	websocketpkg "github.com/egor/supportchat/websocket"
)

// wsUpgrader апгрейдит HTTP→WebSocket с проверкой Origin
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// checkOrigin проверяет, разрешен ли Origin для подключения
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Разрешаем локальные подключения без Origin
		host := r.Host
		if strings.HasPrefix(host, "localhost:") || strings.HasPrefix(host, "127.0.0.1:") {
			return true
		}
		return false
	}

	// Получаем разрешенные origins из переменных окружения
	allowedOrigins := []string{}

	if frontendURL := os.Getenv("FRONTEND_URL"); frontendURL != "" {
		allowedOrigins = append(allowedOrigins, frontendURL)
	}
	if additional := os.Getenv("ADDITIONAL_ALLOWED_ORIGINS"); additional != "" {
		for _, url := range strings.Split(additional, ",") {
			url = strings.TrimSpace(url)
			if url != "" {
				allowedOrigins = append(allowedOrigins, url)
			}
		}
	}

	for _, allowed := range allowedOrigins {
		if allowed == origin {
			return true
		}
	}

	// Для разработки можно разрешить все origins
	if os.Getenv("ALLOW_ALL_ORIGINS") == "true" {
		log.Printf("ВНИМАНИЕ: Разрешен origin %s (ALLOW_ALL_ORIGINS=true)", origin)
		return true
	}

	log.Printf("Отклонен origin: %s", origin)
	return false
}

// ServeWs обрабатывает WebSocket соединение.
// Операторы аутентифицируются JWT-токеном, клиенты виджета — сессионным
// токеном своего диалога.
func ServeWs(c *gin.Context) {
	log.Printf("ServeWs: новое соединение от %s, origin: %s",
		c.ClientIP(), c.Request.Header.Get("Origin"))

	token := c.Query("token")
	participantType := c.DefaultQuery("type", models.ParticipantAgent)
	convIDStr := c.Query("conversation_id")
	sessionToken := c.Query("session_token")

	var (
		participantID uuid.UUID
		convID        uuid.UUID
		err           error
	)

	switch participantType {
	case models.ParticipantAgent:
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Отсутствует токен"})
			return
		}
		claims, err := middleware.ValidateToken(token)
		if err != nil {
			log.Printf("ServeWs: ошибка валидации токена: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Неверный токен"})
			return
		}
		participantID, err = uuid.Parse(claims.AgentID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Некорректный agentID"})
			return
		}
		c.Set("agentID", claims.AgentID)
		c.Set("role", claims.Role)
		log.Printf("ServeWs: аутентифицирован оператор %s", participantID)

	case models.ParticipantCustomer:
		// Клиент подключается только к своему диалогу
		if convIDStr == "" || sessionToken == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Необходимы conversation_id и session_token"})
			return
		}
		convID, err = uuid.Parse(convIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Некорректный формат conversation_id"})
			return
		}
		conv, err := Store.GetConversation(c.Request.Context(), convID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Диалог не найден"})
			return
		}
		if conv.SessionToken == "" || conv.SessionToken != sessionToken {
			log.Printf("ServeWs: неверный session_token для диалога %s", convID)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Неверный session_token"})
			return
		}
		participantID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(sessionToken))
		log.Printf("ServeWs: подключение клиента к диалогу %s", convID)

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный тип клиента"})
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ServeWs: ошибка апгрейда соединения: %v", err)
		return
	}

	client := websocketpkg.NewClient(WebSocketHub, conn, participantType, participantID, sessionToken)
	client.Context = c

	WebSocketHub.Register <- client

	go client.WritePump()
	go client.ReadPump(processWebSocketMessage)

	// Клиент виджета сразу входит в комнату своего диалога
	if convID != uuid.Nil {
		WebSocketHub.JoinConversation(client, convID)
		if data, err := websocketpkg.NewJoinedConversationEvent(convID); err == nil {
			client.SendRaw(data)
		}
	}

	client.SendJSON(map[string]interface{}{
		"type": "connection_established",
		"payload": map[string]interface{}{
			"participantType": participantType,
		},
	})

	log.Printf("ServeWs: клиент %s успешно подключен", client.ID)
}

// processWebSocketMessage обрабатывает входящие WebSocket сообщения
func processWebSocketMessage(client *websocketpkg.Client, raw []byte) {
	var msg websocketpkg.Event
	if err := json.Unmarshal(raw, &msg); err != nil {
		client.SendError("invalid_json", "Некорректный формат JSON")
		return
	}

	switch msg.Type {
	case "join_conversation":
		processJoinConversation(client, msg.Payload)
	case "send_message":
		processSendMessage(client, msg.Payload)
	case "typing_start":
		processTyping(client, msg.Payload, true)
	case "typing_stop":
		processTyping(client, msg.Payload, false)
	case "agent_status_update":
		processAgentStatus(client, msg.Payload)
	case "assign_conversation":
		processAssignConversation(client, msg.Payload)
	case "update_presence":
		processUpdatePresence(client, msg.Payload)
	default:
		client.SendError("unknown_type", "Неизвестный тип сообщения: "+msg.Type)
	}
}

// parseConversationID достает и валидирует conversationId из payload
func parseConversationID(client *websocketpkg.Client, payload json.RawMessage) (uuid.UUID, bool) {
	var p struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" {
		client.SendError("invalid_payload", "Необходимо поле conversationId")
		return uuid.Nil, false
	}
	convID, err := uuid.Parse(p.ConversationID)
	if err != nil {
		client.SendError("invalid_uuid", "Некорректный формат conversationId")
		return uuid.Nil, false
	}
	return convID, true
}

// processJoinConversation подписывает соединение на комнату диалога
func processJoinConversation(client *websocketpkg.Client, payload json.RawMessage) {
	convID, ok := parseConversationID(client, payload)
	if !ok {
		return
	}

	conv, err := Store.GetConversation(context.Background(), convID)
	if err != nil {
		client.SendError("unknown_conversation", "Диалог не найден")
		return
	}

	// клиент виджета может войти только в свой диалог
	if client.ParticipantType == models.ParticipantCustomer &&
		(conv.SessionToken == "" || conv.SessionToken != client.SessionID) {
		client.SendError("access_denied", "Доступ к диалогу запрещен")
		return
	}

	WebSocketHub.JoinConversation(client, convID)

	if data, err := websocketpkg.NewJoinedConversationEvent(convID); err == nil {
		client.SendRaw(data)
	}
	log.Printf("processJoinConversation: %s %s вошел в диалог %s",
		client.ParticipantType, client.ID, convID)
}

// processSendMessage записывает сообщение в ленту и рассылает его
// участникам. Здесь же срабатывают переходы статусов: первое сообщение
// клиента запускает назначение, первый ответ оператора активирует диалог,
// сообщение клиента в закрытый диалог открывает его заново.
func processSendMessage(client *websocketpkg.Client, payload json.RawMessage) {
	var p struct {
		ConversationID string                 `json:"conversationId"`
		Content        string                 `json:"content"`
		Type           string                 `json:"type"`
		Metadata       map[string]interface{} `json:"metadata,omitempty"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		client.SendError("invalid_payload", "Некорректный формат данных для send_message")
		return
	}
	if p.ConversationID == "" || p.Content == "" {
		client.SendError("missing_fields", "Необходимы поля conversationId и content")
		return
	}
	convID, err := uuid.Parse(p.ConversationID)
	if err != nil {
		client.SendError("invalid_uuid", "Некорректный формат conversationId")
		return
	}

	// отправлять можно только в диалог, в который вошел
	if client.ConversationID != convID {
		client.SendError("unknown_conversation", "Сначала войдите в диалог (join_conversation)")
		return
	}

	ctx := context.Background()
	conv, err := Store.GetConversation(ctx, convID)
	if err != nil {
		client.SendError("unknown_conversation", "Диалог не найден")
		return
	}

	senderType := models.SenderCustomer
	if client.ParticipantType == models.ParticipantAgent {
		senderType = models.SenderAgent
	}

	// закрытый диалог открывает заново только сообщение клиента
	reopened := false
	if conv.Status == models.StatusClosed {
		if senderType != models.SenderCustomer {
			client.SendError("conversation_closed", "Диалог закрыт")
			return
		}
		if err := Store.ReopenConversation(ctx, convID); err != nil {
			log.Printf("processSendMessage: ошибка переоткрытия диалога %s: %v", convID, err)
			client.SendError("db_error", "Ошибка при переоткрытии диалога")
			return
		}
		conv.Status = models.StatusWaiting
		conv.AssignedAgentID = nil
		reopened = true
	}

	msgType := p.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	// ответ оператора в email-диалоге уходит клиенту письмом
	if senderType == models.SenderAgent && conv.Channel == models.ChannelEmail {
		msgType = models.MessageTypeEmailReply
	}

	message, err := Store.AddMessage(ctx, convID, senderType, client.ID, p.Content, msgType, nil, p.Metadata)
	if err != nil {
		log.Printf("processSendMessage: ошибка добавления сообщения: %v", err)
		client.SendError("db_error", "Ошибка при отправке сообщения")
		return
	}

	// рассылаем сообщение участникам диалога; назначенный оператор
	// получает его и вне комнаты, но не дважды
	if data, err := websocketpkg.NewMessageEvent(message); err == nil {
		if conv.AssignedAgentID != nil {
			WebSocketHub.DeliverToConversation(convID, *conv.AssignedAgentID, data, nil)
		} else {
			WebSocketHub.BroadcastToConversation(convID, data, nil)
		}
	}

	switch {
	case senderType == models.SenderCustomer && (reopened || conv.IsAssignable()):
		// сообщение клиента в неназначенный диалог запускает назначение
		go func() {
			if _, err := AssignEngine.AutoAssign(context.Background(), convID); err != nil &&
				!errors.Is(err, routing.ErrNoEligibleAgents) &&
				!errors.Is(err, routing.ErrAssignConflict) {
				log.Printf("processSendMessage: ошибка назначения диалога %s: %v", convID, err)
			}
		}()

	case senderType == models.SenderAgent && conv.Status == models.StatusAssigned:
		// первый ответ оператора переводит диалог в active
		if err := Store.SetConversationStatus(ctx, convID, models.StatusActive); err != nil {
			log.Printf("processSendMessage: ошибка активации диалога %s: %v", convID, err)
		}
	}

	// в email-канале ответ оператора дублируется письмом
	if senderType == models.SenderAgent && conv.Channel == models.ChannelEmail && EmailSender != nil {
		subject := "Re: "
		if orig, ok := conv.Metadata["originalSubject"].(string); ok {
			subject += orig
		}
		if err := EmailSender.Send(conv.CustomerEmail, subject, p.Content); err != nil {
			log.Printf("processSendMessage: ошибка отправки письма для диалога %s: %v", convID, err)
		}
	}

	// Подтверждение отправителю
	client.SendJSON(map[string]interface{}{
		"type": "message_sent",
		"payload": map[string]interface{}{
			"messageId": message.ID.String(),
			"timestamp": message.CreatedAt,
			"status":    "delivered",
		},
	})
}

// processTyping рассылает индикатор набора текста остальным участникам
func processTyping(client *websocketpkg.Client, payload json.RawMessage, typing bool) {
	convID, ok := parseConversationID(client, payload)
	if !ok {
		return
	}
	if client.ConversationID != convID {
		client.SendError("unknown_conversation", "Сначала войдите в диалог (join_conversation)")
		return
	}

	if err := Store.SetTyping(context.Background(), convID, client.ParticipantType, client.ID, typing); err != nil {
		log.Printf("processTyping: ошибка записи статуса: %v", err)
	}

	if data, err := websocketpkg.NewTypingEvent(convID, client.ParticipantType, typing); err == nil {
		WebSocketHub.BroadcastToConversation(convID, data, client)
	}
}

// processAgentStatus обновляет статус оператора. Выход в онлайн
// запускает разбор очереди ожидания.
func processAgentStatus(client *websocketpkg.Client, payload json.RawMessage) {
	if client.ParticipantType != models.ParticipantAgent {
		client.SendError("access_denied", "Статус меняют только операторы")
		return
	}

	var p struct {
		Status      string `json:"status"`
		IsAvailable bool   `json:"isAvailable"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		client.SendError("invalid_payload", "Некорректный формат данных для agent_status_update")
		return
	}
	if p.Status != models.AgentOnline && p.Status != models.AgentOffline {
		client.SendError("invalid_payload", "Статус должен быть online или offline")
		return
	}

	ctx := context.Background()
	if err := Store.SetAgentStatus(ctx, client.ID, p.Status, p.IsAvailable); err != nil {
		log.Printf("processAgentStatus: ошибка обновления статуса: %v", err)
		client.SendError("db_error", "Ошибка при обновлении статуса")
		return
	}

	if data, err := websocketpkg.NewAgentStatusEvent(client.ID, p.Status, p.IsAvailable); err == nil {
		WebSocketHub.BroadcastAll(data)
	}
	log.Printf("processAgentStatus: оператор %s теперь %s (available=%v)",
		client.ID, p.Status, p.IsAvailable)

	// освободившийся оператор разбирает очередь ожидания
	if p.Status == models.AgentOnline && p.IsAvailable {
		go func() {
			ctx := context.Background()
			agent, err := Store.GetAgent(ctx, client.ID)
			if err != nil {
				log.Printf("processAgentStatus: ошибка получения оператора: %v", err)
				return
			}
			if _, err := AssignEngine.OnAgentAvailable(ctx, agent); err != nil {
				log.Printf("processAgentStatus: ошибка разбора очереди: %v", err)
			}
		}()
	}
}

// processAssignConversation — оператор забирает диалог себе ("взять чат")
func processAssignConversation(client *websocketpkg.Client, payload json.RawMessage) {
	if client.ParticipantType != models.ParticipantAgent {
		client.SendError("access_denied", "Назначать диалоги могут только операторы")
		return
	}
	convID, ok := parseConversationID(client, payload)
	if !ok {
		return
	}

	err := AssignEngine.ManualAssign(context.Background(), convID, client.ID)
	switch {
	case errors.Is(err, routing.ErrAssignConflict):
		client.SendError("assign_conflict", "Диалог уже забрал другой оператор")
		return
	case errors.Is(err, database.ErrConversationNotFound):
		client.SendError("unknown_conversation", "Диалог не найден")
		return
	case err != nil:
		log.Printf("processAssignConversation: ошибка назначения: %v", err)
		client.SendError("db_error", "Ошибка при назначении диалога")
		return
	}
	// рассылку conversation_assigned выполняет нотификатор движка
}

// processUpdatePresence обновляет presence участника (текущая страница и т.п.)
func processUpdatePresence(client *websocketpkg.Client, payload json.RawMessage) {
	var p struct {
		ConversationID string  `json:"conversationId"`
		CurrentPage    *string `json:"currentPage,omitempty"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" {
		client.SendError("invalid_payload", "Необходимо поле conversationId")
		return
	}
	convID, err := uuid.Parse(p.ConversationID)
	if err != nil {
		client.SendError("invalid_uuid", "Некорректный формат conversationId")
		return
	}
	if client.ConversationID != convID {
		client.SendError("unknown_conversation", "Сначала войдите в диалог (join_conversation)")
		return
	}

	ctx := context.Background()
	if err := Store.UpsertPresence(ctx, convID, client.ParticipantType, client.ID, true, false, p.CurrentPage); err != nil {
		log.Printf("processUpdatePresence: ошибка записи presence: %v", err)
		client.SendError("db_error", "Ошибка при обновлении presence")
		return
	}

	presence := &models.Presence{
		ConversationID:  convID,
		ParticipantType: client.ParticipantType,
		ParticipantID:   client.ID,
		IsOnline:        true,
		CurrentPage:     p.CurrentPage,
	}
	if data, err := websocketpkg.NewPresenceEvent(presence); err == nil {
		WebSocketHub.BroadcastToConversation(convID, data, client)
	}
}
