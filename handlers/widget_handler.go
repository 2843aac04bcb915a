package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/egor/supportchat/models"
)

// StartConversation создает live-диалог для виджета на сайте.
// В ответе — id диалога и сессионный токен, которым виджет
// подтверждает свои WebSocket-подключения.
func StartConversation(c *gin.Context) {
	var in struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if in.Name == "" {
		in.Name = "Гость"
	}

	sessionToken, err := newSessionToken()
	if err != nil {
		log.Printf("StartConversation: ошибка генерации токена: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка создания диалога"})
		return
	}

	conv, err := Store.CreateLiveConversation(c.Request.Context(), in.Name, in.Email, sessionToken)
	if err != nil {
		log.Printf("StartConversation: ошибка создания диалога: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка создания диалога"})
		return
	}

	log.Printf("StartConversation: создан live-диалог %s для %s", conv.ID, in.Name)
	c.JSON(http.StatusCreated, gin.H{
		"conversationId": conv.ID.String(),
		"sessionToken":   sessionToken,
		"status":         models.StatusWaiting,
	})
}

// newSessionToken генерирует случайный сессионный токен виджета
func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
