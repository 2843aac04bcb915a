package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/egor/supportchat/email"
	"github.com/egor/supportchat/models"
)

// EmailWebhook принимает входящие письма от почтового провайдера.
// Сначала проверяется HMAC-подпись запроса: при любой ошибке подписи
// отвечаем 401 и не производим никаких побочных эффектов.
func EmailWebhook(c *gin.Context) {
	log.Printf("EmailWebhook: %s %s from %s", c.Request.Method, c.FullPath(), c.ClientIP())

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Printf("EmailWebhook: ошибка чтения тела запроса: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Не удалось прочитать тело запроса"})
		return
	}

	secret := os.Getenv("EMAIL_WEBHOOK_SECRET")
	if secret == "" {
		log.Println("EmailWebhook: EMAIL_WEBHOOK_SECRET не задан, вебхук отключен")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Вебхук не настроен"})
		return
	}

	signature := c.GetHeader("X-Webhook-Signature")
	timestamp := c.GetHeader("X-Webhook-Timestamp")
	if err := email.VerifySignature(secret, signature, timestamp, body); err != nil {
		log.Printf("EmailWebhook: отклонен запрос от %s: %v", c.ClientIP(), err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Неверная подпись"})
		return
	}

	var payload models.EmailWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("EmailWebhook: ошибка парсинга JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if payload.From == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Поле from обязательно"})
		return
	}

	result, err := EmailBridge.Ingest(c.Request.Context(), &payload)
	if err != nil {
		log.Printf("EmailWebhook: ошибка обработки письма %s: %v", payload.MessageID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := "message processed"
	if result.Duplicate {
		status = "duplicate ignored"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"conversationId": result.ConversationID.String(),
		"messageId":      result.MessageID.String(),
		"reopened":       result.Reopened,
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}
