package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	// Загружаем переменные окружения из .env файла
	if err := godotenv.Load(); err != nil {
		log.Println("Файл .env не найден, используем переменные окружения")
	}

	// Подключаемся к базе данных
	db, err := sql.Open("pgx", buildDSN())
	if err != nil {
		log.Fatalf("Ошибка подключения к базе данных: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Ошибка проверки соединения с БД: %v", err)
	}
	log.Println("Успешное подключение к базе данных")

	// Создаем таблицы если они не существуют
	createTables(db)

	// Создаем тестовых операторов
	seedAgents(db)

	log.Println("База данных успешно инициализирована")
}

func buildDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		env("PG_HOST", "localhost"),
		env("PG_PORT", "5432"),
		env("PG_USER", "postgres"),
		os.Getenv("PG_PASSWORD"),
		env("PG_DATABASE", "supportchat"),
		env("PG_SSL_MODE", "disable"),
	)
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// Создание таблиц базы данных
func createTables(db *sql.DB) {
	// Таблица операторов
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'offline',
			is_available BOOLEAN NOT NULL DEFAULT FALSE,
			max_concurrent_chats INT NOT NULL DEFAULT 5,
			avg_response_time DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Fatalf("Ошибка создания таблицы agents: %v", err)
	}

	// Таблица диалогов
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY,
			channel TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			assigned_agent_id UUID REFERENCES agents (id),
			priority TEXT NOT NULL DEFAULT 'normal',
			department TEXT NOT NULL DEFAULT 'general',
			customer_name TEXT NOT NULL,
			customer_email TEXT,
			session_token TEXT,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			assigned_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Fatalf("Ошибка создания таблицы conversations: %v", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_conversations_status
		ON conversations (status, created_at)
	`)
	if err != nil {
		log.Fatalf("Ошибка создания индекса conversations: %v", err)
	}

	// Таблица сообщений: seq фиксирует порядок вставки внутри диалога
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES conversations (id),
			sender_type TEXT NOT NULL,
			sender_id UUID NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'text',
			channel_message_id TEXT,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			seq BIGSERIAL
		)
	`)
	if err != nil {
		log.Fatalf("Ошибка создания таблицы messages: %v", err)
	}

	// Идемпотентность почтового моста: одно письмо — одна запись
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_channel_message_id
		ON messages (channel_message_id)
		WHERE channel_message_id IS NOT NULL
	`)
	if err != nil {
		log.Fatalf("Ошибка создания индекса messages: %v", err)
	}

	// Таблица presence: одна строка на участника диалога
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS presence (
			conversation_id UUID NOT NULL REFERENCES conversations (id),
			participant_type TEXT NOT NULL,
			participant_id UUID NOT NULL,
			is_online BOOLEAN NOT NULL DEFAULT FALSE,
			is_typing BOOLEAN NOT NULL DEFAULT FALSE,
			current_page TEXT,
			last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (conversation_id, participant_type, participant_id)
		)
	`)
	if err != nil {
		log.Fatalf("Ошибка создания таблицы presence: %v", err)
	}

	// Таблица вложений
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS attachments (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES conversations (id),
			file_name TEXT NOT NULL,
			file_path TEXT NOT NULL DEFAULT '',
			file_size BIGINT NOT NULL DEFAULT 0,
			file_type TEXT NOT NULL DEFAULT '',
			uploaded_by_type TEXT NOT NULL,
			uploaded_by_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Fatalf("Ошибка создания таблицы attachments: %v", err)
	}

	log.Println("Все таблицы успешно созданы")
}

// Создание тестовых операторов
func seedAgents(db *sql.DB) {
	agents := []struct {
		name     string
		email    string
		maxChats int
		avgResp  float64
	}{
		{"Anna de Jong", "anna@example.com", 5, 45.0},
		{"Pieter Bakker", "pieter@example.com", 3, 90.0},
		{"Sanne Visser", "sanne@example.com", 5, 60.0},
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Ошибка хеширования пароля: %v", err)
	}

	for _, a := range agents {
		agentID := uuid.New()
		_, err := db.Exec(`
			INSERT INTO agents (id, name, email, password_hash, status, is_available, max_concurrent_chats, avg_response_time)
			VALUES ($1, $2, $3, $4, 'offline', FALSE, $5, $6)
			ON CONFLICT (email) DO NOTHING
		`, agentID, a.name, a.email, string(passwordHash), a.maxChats, a.avgResp)
		if err != nil {
			log.Fatalf("Ошибка создания тестового оператора %s: %v", a.name, err)
		}
		log.Printf("Создан тестовый оператор %s с ID: %s", a.name, agentID)
	}
}
