package middleware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/egor/supportchat/database"
	"github.com/egor/supportchat/models"
)

// jwtKey - ключ для подписи JWT токена
var jwtKey []byte

func init() {
	// Получаем ключ из переменных окружения
	jwtSecret := os.Getenv("JWT_SECRET_KEY")
	if jwtSecret == "" {
		// В продакшене этот код должен выдавать ошибку или использовать защищенное хранилище секретов
		log.Println("Предупреждение: JWT_SECRET_KEY не установлен, используется стандартный ключ")
		jwtSecret = "временный_ключ_для_разработки_не_использовать_в_продакшене"
	}
	jwtKey = []byte(jwtSecret)
}

// AuthMiddleware проверяет JWT токен и авторизует запрос
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Получаем токен из заголовка
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "требуется авторизация"})
			c.Abort()
			return
		}

		tokenString := strings.Replace(authHeader, "Bearer ", "", 1)
		claims, err := validateToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "неверный или устаревший токен"})
			c.Abort()
			return
		}

		// Устанавливаем данные оператора в контексте
		c.Set("agentID", claims.AgentID)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// JWTClaims определяет структуру данных токена
type JWTClaims struct {
	AgentID string `json:"agentId"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken генерирует JWT токен
func GenerateToken(agentID, role string) (string, error) {
	// Устанавливаем время истечения токена (24 часа)
	expirationTime := time.Now().Add(24 * time.Hour)

	claims := &JWTClaims{
		AgentID: agentID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "supportchat-server",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(jwtKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ValidateToken проверяет и парсит JWT токен (экспортированная версия)
func ValidateToken(tokenString string) (*JWTClaims, error) {
	return validateToken(tokenString)
}

// validateToken проверяет и парсит JWT токен (приватная версия)
func validateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Проверяем, что используется правильный алгоритм подписи
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", token.Header["alg"])
		}
		return jwtKey, nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("недействительный токен")
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		return nil, errors.New("неверный формат токена")
	}

	return claims, nil
}

// Authenticate аутентифицирует оператора по email и паролю
func Authenticate(ctx context.Context, store *database.Store, email, password string) (string, *models.Agent, error) {
	agent, err := store.GetAgentByEmail(ctx, email)
	if err != nil {
		return "", nil, errors.New("неверные учетные данные")
	}

	// Проверяем пароль (хешированный в базе)
	if err := database.VerifyPassword(password, agent.PasswordHash); err != nil {
		return "", nil, errors.New("неверные учетные данные")
	}

	token, err := GenerateToken(agent.ID.String(), "agent")
	if err != nil {
		return "", nil, err
	}

	return token, agent, nil
}
