package routing

import (
	"context"
	"errors"
	"log"
	"sort"

	"github.com/google/uuid"

	"github.com/egor/supportchat/models"
)

var (
	// ErrAssignConflict — диалог уже забрал другой оператор
	ErrAssignConflict = errors.New("conversation already assigned")

	// ErrNoEligibleAgents — ни один оператор не может принять диалог
	ErrNoEligibleAgents = errors.New("no eligible agents")
)

// Store — операции с БД, нужные движку назначения
type Store interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	TryAssign(ctx context.Context, convID, agentID uuid.UUID) (bool, error)
	SetConversationStatus(ctx context.Context, id uuid.UUID, status string) error
	ListWaitingConversations(ctx context.Context, limit int) ([]models.Conversation, error)
}

// Notifier получает события о результатах назначения.
// Реализуется поверх websocket-хаба; движок не знает про транспорт.
type Notifier interface {
	NotifyAssigned(conv *models.Conversation, agentID uuid.UUID)
	NotifyWaiting(conv *models.Conversation, agentIDs []uuid.UUID)
}

const (
	// Скольким онлайн-операторам сообщать о диалоге в очереди
	waitingNotifyLimit = 5

	// Сколько диалогов разбирать за один проход при освобождении оператора
	sweepLimit = 50
)

// Engine распределяет диалоги по операторам. Единственная точка
// изменения assigned_agent_id — атомарный hand-off в Store.TryAssign;
// движок лишь выбирает кандидатов и реагирует на проигрыш гонки.
type Engine struct {
	store    Store
	notifier Notifier
}

// NewEngine создает новый движок назначения
func NewEngine(store Store, notifier Notifier) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
	}
}

// Eligible отбирает операторов, способных принять новый диалог,
// и ранжирует их: сначала по среднему времени ответа, при равенстве —
// по текущей нагрузке.
func Eligible(agents []models.Agent) []models.Agent {
	var result []models.Agent
	for _, a := range agents {
		if a.IsEligible() {
			result = append(result, a)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].AvgResponseTime != result[j].AvgResponseTime {
			return result[i].AvgResponseTime < result[j].AvgResponseTime
		}
		return result[i].ActiveCount < result[j].ActiveCount
	})
	return result
}

// AutoAssign пытается назначить диалог лучшему доступному оператору.
// Кандидаты перебираются по порядку ранжирования: проигрыш CAS у одного
// кандидата — не ошибка, переходим к следующему. Если никто не смог
// принять диалог, он остается в очереди, а онлайн-операторы получают
// уведомление new_chat_request.
func (e *Engine) AutoAssign(ctx context.Context, convID uuid.UUID) (*uuid.UUID, error) {
	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.IsAssignable() {
		// кто-то успел раньше (или диалог закрыт) — назначать нечего
		return conv.AssignedAgentID, ErrAssignConflict
	}

	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	for _, agent := range Eligible(agents) {
		ok, err := e.store.TryAssign(ctx, convID, agent.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			// диалог уже забрали — дальнейшие попытки бессмысленны
			return nil, ErrAssignConflict
		}
		log.Printf("AutoAssign: диалог %s назначен оператору %s", convID, agent.ID)
		if e.notifier != nil {
			e.notifier.NotifyAssigned(conv, agent.ID)
		}
		agentID := agent.ID
		return &agentID, nil
	}

	// свободных операторов нет — диалог встает в очередь ожидания
	if conv.Status == models.StatusPending {
		if err := e.store.SetConversationStatus(ctx, convID, models.StatusWaiting); err != nil {
			return nil, err
		}
		conv.Status = models.StatusWaiting
	}
	if e.notifier != nil {
		e.notifier.NotifyWaiting(conv, onlineAgentIDs(agents, waitingNotifyLimit))
	}
	log.Printf("AutoAssign: для диалога %s нет свободных операторов, оставлен в очереди", convID)
	return nil, ErrNoEligibleAgents
}

// ManualAssign назначает диалог конкретному оператору (клик "взять чат").
// Возвращает ErrAssignConflict, если диалог уже забрал другой оператор.
func (e *Engine) ManualAssign(ctx context.Context, convID, agentID uuid.UUID) error {
	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return err
	}

	ok, err := e.store.TryAssign(ctx, convID, agentID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAssignConflict
	}
	log.Printf("ManualAssign: диалог %s назначен оператору %s", convID, agentID)
	if e.notifier != nil {
		e.notifier.NotifyAssigned(conv, agentID)
	}
	return nil
}

// OnAgentAvailable разбирает очередь ожидания, когда оператор вышел
// в онлайн или освободился: старейшие диалоги назначаются ему, пока
// не исчерпана его вместимость.
func (e *Engine) OnAgentAvailable(ctx context.Context, agent *models.Agent) (int, error) {
	if !agent.IsEligible() {
		return 0, nil
	}
	capacity := agent.MaxConcurrentChats - agent.ActiveCount

	waiting, err := e.store.ListWaitingConversations(ctx, sweepLimit)
	if err != nil {
		return 0, err
	}

	assigned := 0
	for _, conv := range waiting {
		if assigned >= capacity {
			break
		}
		ok, err := e.store.TryAssign(ctx, conv.ID, agent.ID)
		if err != nil {
			return assigned, err
		}
		if !ok {
			// диалог забрал кто-то другой — идем дальше по очереди
			continue
		}
		assigned++
		if e.notifier != nil {
			c := conv
			e.notifier.NotifyAssigned(&c, agent.ID)
		}
	}
	if assigned > 0 {
		log.Printf("OnAgentAvailable: оператору %s назначено диалогов из очереди: %d", agent.ID, assigned)
	}
	return assigned, nil
}

// onlineAgentIDs возвращает до limit операторов в статусе online,
// в порядке ранжирования Eligible; если подходящих нет — просто онлайн.
func onlineAgentIDs(agents []models.Agent, limit int) []uuid.UUID {
	var online []models.Agent
	for _, a := range agents {
		if a.Status == models.AgentOnline {
			online = append(online, a)
		}
	}
	sort.SliceStable(online, func(i, j int) bool {
		if online[i].AvgResponseTime != online[j].AvgResponseTime {
			return online[i].AvgResponseTime < online[j].AvgResponseTime
		}
		return online[i].ActiveCount < online[j].ActiveCount
	})

	var ids []uuid.UUID
	for _, a := range online {
		if len(ids) >= limit {
			break
		}
		ids = append(ids, a.ID)
	}
	return ids
}
