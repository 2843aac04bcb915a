package main

import (
	"log"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/egor/supportchat/database"
	"github.com/egor/supportchat/email"
	"github.com/egor/supportchat/handlers"
	"github.com/egor/supportchat/middleware"
	"github.com/egor/supportchat/routing"
	"github.com/egor/supportchat/websocket"
)

func main() {
	// .env удобен при локальной разработке; в продакшене переменные приходят из окружения
	if err := godotenv.Load(); err != nil {
		log.Println("Файл .env не найден, используем переменные окружения")
	}

	// Инициализация базы данных
	if err := database.Init(); err != nil {
		log.Fatalf("Ошибка подключения к базе данных: %v", err)
	}
	defer database.Close()

	store := database.NewStore()
	handlers.SetStore(store)

	// Инициализация WebSocket хаба
	hub := websocket.NewHub(store)
	go hub.Run()
	handlers.SetWebSocketHub(hub)

	// Движок назначения и почтовый мост
	notifier := handlers.NewHubNotifier(hub)
	engine := routing.NewEngine(store, notifier)
	handlers.SetAssignEngine(engine)

	handlers.SetEmailSender(email.LogSender{})
	handlers.SetEmailBridge(email.NewBridge(store, engine, notifier))

	// Инициализация роутера Gin
	r := gin.Default()

	// Добавляем middleware для логирования
	r.Use(middleware.Logger())

	// Настройка CORS для взаимодействия с фронтендом
	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	// API эндпоинты
	api := r.Group("/api")
	{
		// Эндпоинт для авторизации операторов (публичный)
		api.POST("/auth/login", handlers.Login)

		// Виджет создает live-диалог без авторизации
		api.POST("/widget/conversations", handlers.StartConversation)

		// Защищенные маршруты дашборда оператора
		authorized := api.Group("/")
		authorized.Use(middleware.AuthMiddleware())
		{
			conversations := authorized.Group("/conversations")
			{
				conversations.GET("", handlers.GetConversations)
				conversations.GET("/:id", handlers.GetConversationByID)
				conversations.GET("/:id/presence", handlers.GetConversationPresence)
				conversations.POST("/:id/close", handlers.CloseConversation)
			}
		}

		// Вебхук почтового провайдера (подпись проверяется в обработчике)
		api.POST("/email/webhook", handlers.EmailWebhook)
	}

	// WebSocket эндпоинт
	r.GET("/ws", handlers.ServeWs)

	// Запуск сервера
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Сервер запущен на порту :%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Ошибка запуска сервера: %v", err)
	}
}

// allowedOrigins собирает список разрешенных origins из окружения
func allowedOrigins() []string {
	origins := []string{"http://localhost:3000"}
	if frontendURL := os.Getenv("FRONTEND_URL"); frontendURL != "" {
		origins = append(origins, frontendURL)
	}
	if additional := os.Getenv("ADDITIONAL_ALLOWED_ORIGINS"); additional != "" {
		for _, url := range strings.Split(additional, ",") {
			if url = strings.TrimSpace(url); url != "" {
				origins = append(origins, url)
			}
		}
	}
	return origins
}
