package websocket

import (
	"bytes"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // время на запись одного сообщения
	pongWait       = 60 * time.Second    // максимальное время ожидания PONG
	pingPeriod     = (pongWait * 9) / 10 // как часто слать PING
	maxMessageSize = 4096                // максимальный размер входящего сообщения
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client представляет одно WebSocket-соединение.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte // исходящие сообщения

	mu     sync.Mutex // защищает closed и закрытие send
	closed bool

	ParticipantType string    // "agent" или "customer"
	ID              uuid.UUID // agentID; для клиента виджета — его userID
	ConversationID  uuid.UUID // текущий диалог; изменяется только циклом хаба
	SessionID       string    // сессионный токен виджета (live-канал)
	JoinedAt        time.Time
	Context         *gin.Context // Gin context для доступа к данным запроса/аутентификации
}

// NewClient создает нового WebSocket клиента
func NewClient(hub *Hub, conn *websocket.Conn, participantType string, id uuid.UUID, sessionID string) *Client {
	return &Client{
		hub:             hub,
		conn:            conn,
		send:            make(chan []byte, 256),
		ParticipantType: participantType,
		ID:              id,
		SessionID:       sessionID,
		JoinedAt:        time.Now(),
	}
}

// enqueue кладет данные в канал send. Возвращает false, если клиент
// уже отключен хабом или его буфер переполнен: читающая горутина может
// пережить отключение, и поздняя отправка не должна трогать закрытый канал.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend закрывает канал send ровно один раз. Вызывается хабом;
// последующие enqueue становятся no-op.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// SendJSON отправляет JSON-объект клиенту
func (c *Client) SendJSON(data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.enqueue(raw)
	return nil
}

// SendRaw отправляет уже сериализованные данные клиенту
func (c *Client) SendRaw(data []byte) {
	c.enqueue(data)
}

// SendError отправляет сообщение об ошибке
func (c *Client) SendError(code, message string) {
	errorMsg, _ := NewErrorMessage(code, message)
	c.enqueue(errorMsg)
}

// ReadPump читает сообщения из WebSocket, парсит их и вызывает handler.
func (c *Client) ReadPump(messageHandler func(client *Client, message []byte)) {
	defer func() {
		c.hub.Unregister <- c
		c.conn.Close()
		log.Printf("WebSocket closed: %s (%s)", c.ParticipantType, c.ID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket unexpected close (%s): %v", c.ID, err)
			}
			break
		}

		// Очищаем переносы строк
		raw = bytes.TrimSpace(bytes.Replace(raw, newline, space, -1))

		// Вызываем обработчик сообщения
		if messageHandler != nil {
			messageHandler(c, raw)
		}
	}
}

// WritePump пишет из канала send в WebSocket и держит соединение живым ping/pong'ом.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// канал закрыт Hub'ом
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// сбрасываем накопленные сообщения
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
