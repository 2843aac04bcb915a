package websocket

import (
	"log"

	"github.com/google/uuid"

	"github.com/egor/supportchat/models"
)

// PresenceUpdater получает уведомления о входе/выходе участников.
// Реализуется database.Store; хаб не знает про БД напрямую.
type PresenceUpdater interface {
	SetOnline(conversationID uuid.UUID, participantType string, participantID uuid.UUID, online bool)
}

// joinRequest — запрос на вход клиента в комнату диалога
type joinRequest struct {
	client         *Client
	conversationID uuid.UUID
	done           chan struct{}
}

// deliverRequest — исходящая рассылка: в комнату, оператору или всем
type deliverRequest struct {
	conversationID uuid.UUID
	agentID        uuid.UUID
	all            bool
	data           []byte
	except         *Client
}

// countQuery — синхронный запрос размера комнаты или числа соединений
type countQuery struct {
	conversationID uuid.UUID
	agentID        uuid.UUID
	total          bool
	reply          chan int
}

// presenceUpdate — отложенная запись presence в хранилище
type presenceUpdate struct {
	conversationID  uuid.UUID
	participantType string
	participantID   uuid.UUID
	online          bool
}

// Hub владеет всеми WebSocket-соединениями. Карты clients/rooms/agents
// изменяются только внутри Run — внешние методы общаются с циклом
// через каналы, поэтому мьютексы не нужны.
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Комнаты диалогов: conversationID -> подписанные соединения
	rooms map[uuid.UUID]map[*Client]bool

	// Соединения операторов: agentID -> все его вкладки
	agents map[uuid.UUID]map[*Client]bool

	// Регистрация клиента
	Register chan *Client

	// Отмена регистрации клиента
	Unregister chan *Client

	join    chan joinRequest
	deliver chan deliverRequest
	counts  chan countQuery

	presence      PresenceUpdater
	presenceQueue chan presenceUpdate
}

// NewHub создает новый Hub
func NewHub(presence PresenceUpdater) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		agents:     make(map[uuid.UUID]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		join:       make(chan joinRequest),
		deliver:    make(chan deliverRequest),
		counts:     make(chan countQuery),
		presence:   presence,
		// запас на всплеск подключений; при переполнении цикл ждет воркера
		presenceQueue: make(chan presenceUpdate, 256),
	}
}

// Run запускает цикл хаба. Должен работать в отдельной горутине.
func (h *Hub) Run() {
	if h.presence != nil {
		go h.presencePump()
	}
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
			if client.ParticipantType == models.ParticipantAgent && client.ID != uuid.Nil {
				if h.agents[client.ID] == nil {
					h.agents[client.ID] = make(map[*Client]bool)
				}
				h.agents[client.ID][client] = true
			}
			log.Printf("Клиент подключился (%s). Всего клиентов: %d", client.ParticipantType, len(h.clients))

		case client := <-h.Unregister:
			h.removeClient(client)

		case req := <-h.join:
			h.joinRoom(req.client, req.conversationID)
			close(req.done)

		case req := <-h.deliver:
			h.dispatch(req)

		case q := <-h.counts:
			switch {
			case q.total:
				q.reply <- len(h.clients)
			case q.agentID != uuid.Nil:
				q.reply <- len(h.agents[q.agentID])
			default:
				q.reply <- len(h.rooms[q.conversationID])
			}
		}
	}
}

// presencePump последовательно применяет presence-обновления, чтобы
// запись в хранилище не задерживала цикл хаба. Один воркер сохраняет
// порядок обновлений каждого участника.
func (h *Hub) presencePump() {
	for u := range h.presenceQueue {
		h.presence.SetOnline(u.conversationID, u.participantType, u.participantID, u.online)
	}
}

// queuePresence передает обновление presence воркеру. Вызывается только из Run.
func (h *Hub) queuePresence(convID uuid.UUID, participantType string, participantID uuid.UUID, online bool) {
	if h.presence == nil {
		return
	}
	h.presenceQueue <- presenceUpdate{convID, participantType, participantID, online}
}

// removeClient вычищает клиента из всех индексов и закрывает его канал.
// Вызывается только из Run.
func (h *Hub) removeClient(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	client.closeSend()

	if client.ParticipantType == models.ParticipantAgent && client.ID != uuid.Nil {
		if conns := h.agents[client.ID]; conns != nil {
			delete(conns, client)
			if len(conns) == 0 {
				delete(h.agents, client.ID)
			}
		}
	}

	convID := client.ConversationID
	if convID == uuid.Nil {
		log.Printf("Клиент отключился. Всего клиентов: %d", len(h.clients))
		return
	}
	if room := h.rooms[convID]; room != nil {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, convID)
		}
	}

	h.queuePresence(convID, client.ParticipantType, client.ID, false)

	// сообщаем оставшимся в комнате об уходе участника
	if data, err := NewParticipantEvent("participant_left", convID, client.ParticipantType, client.ID); err == nil {
		h.sendToRoom(convID, data, nil)
	}
	log.Printf("Клиент отключился из диалога %s. Всего клиентов: %d", convID, len(h.clients))
}

// joinRoom подписывает клиента на комнату диалога. Вызывается только из Run.
func (h *Hub) joinRoom(client *Client, convID uuid.UUID) {
	if !h.clients[client] {
		return
	}
	// клиент мог быть подписан на другой диалог (оператор переключает чаты)
	if old := client.ConversationID; old != uuid.Nil && old != convID {
		if room := h.rooms[old]; room != nil {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, old)
			}
		}
		h.queuePresence(old, client.ParticipantType, client.ID, false)
	}

	client.ConversationID = convID
	if h.rooms[convID] == nil {
		h.rooms[convID] = make(map[*Client]bool)
	}
	h.rooms[convID][client] = true

	h.queuePresence(convID, client.ParticipantType, client.ID, true)

	if data, err := NewParticipantEvent("user_joined", convID, client.ParticipantType, client.ID); err == nil {
		h.sendToRoom(convID, data, client)
	}
}

// dispatch доставляет сообщение адресатам запроса. Вызывается только из Run.
func (h *Hub) dispatch(req deliverRequest) {
	switch {
	case req.all:
		for client := range h.clients {
			h.sendOrEvict(client, req.data)
		}
	case req.conversationID != uuid.Nil && req.agentID != uuid.Nil:
		// комната плюс вкладки оператора вне комнаты; подписанная на
		// диалог вкладка получает сообщение один раз
		room := h.rooms[req.conversationID]
		h.sendToRoom(req.conversationID, req.data, req.except)
		for client := range h.agents[req.agentID] {
			if room[client] || client == req.except {
				continue
			}
			h.sendOrEvict(client, req.data)
		}
	case req.agentID != uuid.Nil:
		for client := range h.agents[req.agentID] {
			h.sendOrEvict(client, req.data)
		}
	default:
		h.sendToRoom(req.conversationID, req.data, req.except)
	}
}

func (h *Hub) sendToRoom(convID uuid.UUID, data []byte, except *Client) {
	for client := range h.rooms[convID] {
		if client == except {
			continue
		}
		h.sendOrEvict(client, data)
	}
}

// sendOrEvict пишет в канал клиента; медленного клиента отключаем,
// чтобы не блокировать цикл хаба.
func (h *Hub) sendOrEvict(client *Client, data []byte) {
	if !client.enqueue(data) {
		h.removeClient(client)
	}
}

// JoinConversation подписывает клиента на диалог и возвращает управление
// после того, как цикл хаба обработал вход.
func (h *Hub) JoinConversation(client *Client, convID uuid.UUID) {
	done := make(chan struct{})
	h.join <- joinRequest{client: client, conversationID: convID, done: done}
	<-done
}

// BroadcastToConversation рассылает данные всем участникам диалога.
// except позволяет не отправлять событие его автору.
func (h *Hub) BroadcastToConversation(convID uuid.UUID, data []byte, except *Client) {
	h.deliver <- deliverRequest{conversationID: convID, data: data, except: except}
}

// SendToAgent доставляет данные на все соединения оператора
func (h *Hub) SendToAgent(agentID uuid.UUID, data []byte) {
	h.deliver <- deliverRequest{agentID: agentID, data: data}
}

// DeliverToConversation рассылает данные участникам диалога и на
// соединения назначенного оператора, не подписанные на комнату.
func (h *Hub) DeliverToConversation(convID uuid.UUID, agentID uuid.UUID, data []byte, except *Client) {
	h.deliver <- deliverRequest{conversationID: convID, agentID: agentID, data: data, except: except}
}

// BroadcastAll рассылает данные всем подключенным клиентам
func (h *Hub) BroadcastAll(data []byte) {
	h.deliver <- deliverRequest{all: true, data: data}
}

// RoomSize возвращает число соединений в комнате диалога
func (h *Hub) RoomSize(convID uuid.UUID) int {
	reply := make(chan int, 1)
	h.counts <- countQuery{conversationID: convID, reply: reply}
	return <-reply
}

// AgentConnections возвращает число открытых соединений оператора
func (h *Hub) AgentConnections(agentID uuid.UUID) int {
	reply := make(chan int, 1)
	h.counts <- countQuery{agentID: agentID, reply: reply}
	return <-reply
}

// ClientCount возвращает общее число подключенных клиентов
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	h.counts <- countQuery{total: true, reply: reply}
	return <-reply
}
