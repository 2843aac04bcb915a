package handlers

import (
	"log"

	"github.com/egor/supportchat/database"
	"github.com/egor/supportchat/email"
	"github.com/egor/supportchat/routing"
	"github.com/egor/supportchat/websocket"
)

// WebSocketHub - глобальная переменная для доступа к WebSocket хабу из всех обработчиков
var WebSocketHub *websocket.Hub

// Store - доступ к БД из обработчиков
var Store *database.Store

// AssignEngine - движок назначения диалогов
var AssignEngine *routing.Engine

// EmailBridge - мост входящей почты
var EmailBridge *email.Bridge

// EmailSender - отправка исходящих писем (ответы операторов в email-диалогах)
var EmailSender email.Sender

// SetWebSocketHub устанавливает WebSocket хаб для обработчиков
func SetWebSocketHub(hub *websocket.Hub) {
	WebSocketHub = hub
	log.Println("WebSocket hub установлен в обработчиках")
}

// SetStore устанавливает хранилище для обработчиков
func SetStore(s *database.Store) {
	Store = s
}

// SetAssignEngine устанавливает движок назначения для обработчиков
func SetAssignEngine(e *routing.Engine) {
	AssignEngine = e
}

// SetEmailBridge устанавливает почтовый мост для обработчиков
func SetEmailBridge(b *email.Bridge) {
	EmailBridge = b
}

// SetEmailSender устанавливает отправителя исходящих писем
func SetEmailSender(s email.Sender) {
	EmailSender = s
}
