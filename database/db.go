package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	// pgx-драйвер в режиме database/sql
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	dbQueryTimeout  = 5 * time.Second
)

// Ошибки уровня хранилища
var (
	ErrConversationNotFound = errors.New("диалог не найден")
	ErrAgentNotFound        = errors.New("оператор не найден")
)

var DB *sql.DB

// Init открывает пул соединений и проверяет подключение.
func Init() error {
	dsn := buildDSN()
	var err error

	DB, err = sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("sql.Open: %w", err)
	}

	// Параметры пула
	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(5)
	DB.SetConnMaxLifetime(5 * time.Minute)

	// Проверяем подключение (тайм-аут 3 с)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err = DB.PingContext(ctx); err != nil {
		_ = DB.Close()
		return fmt.Errorf("db.Ping: %w", err)
	}

	log.Println("[database] PostgreSQL connected ✓")
	return nil
}

// Close закрывает пул (вызывайте defer database.Close()).
func Close() { _ = DB.Close() }

// Store инкапсулирует запросы к хранилищу диалогов.
// Все методы принимают context и работают через пул соединений.
type Store struct {
	db *sql.DB
}

// NewStore создает Store поверх глобального пула (после Init).
func NewStore() *Store {
	return &Store{db: DB}
}

// NewStoreWithDB создает Store поверх готового подключения (для скриптов).
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// ─────────────────────────────── helpers

func buildDSN() string {
	host := env("PG_HOST", "localhost")
	port := env("PG_PORT", "5432")
	user := env("PG_USER", "postgres")
	password := os.Getenv("PG_PASSWORD") // может быть пустым
	dbname := env("PG_DATABASE", "supportchat")
	sslmode := env("PG_SSL_MODE", "disable")

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode,
	)
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// nullStringToPointer превращает sql.NullString → *string.
func nullStringToPointer(ns sql.NullString) *string {
	if ns.Valid {
		s := ns.String
		return &s
	}
	return nil
}

// nullTimeToPointer превращает sql.NullTime → *time.Time.
func nullTimeToPointer(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// ─────────────────────────────── UUID-утилиты

func NullUUIDToPointer(ns sql.NullString) (*uuid.UUID, error) {
	if !ns.Valid {
		return nil, nil
	}
	u, err := uuid.Parse(ns.String)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func UUIDPointerToNullString(u *uuid.UUID) sql.NullString {
	if u == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{
		String: u.String(),
		Valid:  true,
	}
}
