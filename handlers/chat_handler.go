package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/egor/supportchat/database"
	"github.com/egor/supportchat/models"
	websocketpkg "github.com/egor/supportchat/websocket"
)

// GetConversations возвращает список диалогов для дашборда оператора
func GetConversations(c *gin.Context) {
	agentIDStr := c.GetString("agentID")
	if agentIDStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Необходима авторизация"})
		return
	}
	agentID, err := uuid.Parse(agentIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Некорректный agentID"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", strconv.Itoa(database.DefaultPageSize)))

	conversations, totalItems, err := Store.ListConversations(c.Request.Context(), agentID, page, pageSize)
	if err != nil {
		log.Printf("GetConversations: ошибка получения диалогов для %s: %v", agentID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка получения диалогов"})
		return
	}

	totalPages := (totalItems + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}

	c.JSON(http.StatusOK, models.ConversationPaginationResponse{
		Conversations: conversations,
		Page:          page,
		PageSize:      pageSize,
		TotalItems:    totalItems,
		TotalPages:    totalPages,
	})
}

// GetConversationByID возвращает диалог со страницей его сообщений
func GetConversationByID(c *gin.Context) {
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Некорректный формат id"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", strconv.Itoa(database.DefaultPageSize)))

	conv, err := Store.GetConversation(c.Request.Context(), convID)
	if errors.Is(err, database.ErrConversationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Диалог не найден"})
		return
	}
	if err != nil {
		log.Printf("GetConversationByID: ошибка получения диалога %s: %v", convID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка получения диалога"})
		return
	}

	messages, totalMessages, err := Store.GetMessages(c.Request.Context(), convID, page, pageSize)
	if err != nil {
		log.Printf("GetConversationByID: ошибка получения сообщений %s: %v", convID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка получения сообщений"})
		return
	}
	conv.Messages = messages

	totalPages := (totalMessages + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"page":         page,
		"pageSize":     pageSize,
		"totalItems":   totalMessages,
		"totalPages":   totalPages,
	})
}

// GetConversationPresence возвращает presence участников диалога
func GetConversationPresence(c *gin.Context) {
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Некорректный формат id"})
		return
	}

	presence, err := Store.GetPresence(c.Request.Context(), convID)
	if err != nil {
		log.Printf("GetConversationPresence: ошибка получения presence %s: %v", convID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка получения presence"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": presence})
}

// CloseConversation закрывает диалог. Закрыть можно только назначенный
// или активный диалог; поле assigned_agent_id при этом очищается.
func CloseConversation(c *gin.Context) {
	agentIDStr := c.GetString("agentID")
	if agentIDStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Необходима авторизация"})
		return
	}

	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Некорректный формат id"})
		return
	}

	closed, err := Store.CloseConversation(c.Request.Context(), convID)
	if errors.Is(err, database.ErrConversationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Диалог не найден"})
		return
	}
	if err != nil {
		log.Printf("CloseConversation: ошибка закрытия диалога %s: %v", convID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка закрытия диалога"})
		return
	}
	if !closed {
		c.JSON(http.StatusConflict, gin.H{"error": "Диалог нельзя закрыть из текущего статуса"})
		return
	}

	log.Printf("CloseConversation: диалог %s закрыт оператором %s", convID, agentIDStr)

	// уведомляем участников комнаты
	if data, err := websocketpkg.NewEvent("conversation_closed", gin.H{
		"conversationId": convID.String(),
		"closedBy":       agentIDStr,
	}); err == nil {
		WebSocketHub.BroadcastToConversation(convID, data, nil)
	}

	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}
