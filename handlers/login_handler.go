package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/egor/supportchat/middleware"
)

// Login обрабатывает авторизацию операторов
func Login(c *gin.Context) {
	var credentials struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&credentials); err != nil {
		log.Printf("Ошибка парсинга данных для авторизации: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	log.Printf("Попытка авторизации для оператора: %s", credentials.Email)

	token, agent, err := middleware.Authenticate(c.Request.Context(), Store, credentials.Email, credentials.Password)
	if err != nil {
		log.Printf("Ошибка аутентификации для %s: %v", credentials.Email, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Неверный email или пароль"})
		return
	}

	agent.PasswordHash = ""

	log.Printf("Успешная авторизация оператора: %s (ID: %s)", agent.Email, agent.ID)
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"agent": agent,
	})
}
