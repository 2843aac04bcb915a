package routing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egor/supportchat/models"
)

// fakeStore — хранилище в памяти с той же семантикой CAS, что у БД
type fakeStore struct {
	mu     sync.Mutex
	convs  map[uuid.UUID]*models.Conversation
	agents []models.Agent
}

func newFakeStore() *fakeStore {
	return &fakeStore{convs: make(map[uuid.UUID]*models.Conversation)}
}

func (s *fakeStore) addConversation(status string, createdAt time.Time) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.convs[id] = &models.Conversation{
		ID:        id,
		Channel:   models.ChannelLive,
		Status:    status,
		CreatedAt: createdAt,
	}
	return id
}

func (s *fakeStore) GetConversation(_ context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, errors.New("диалог не найден")
	}
	c := *conv
	return &c, nil
}

// ListAgents пересчитывает нагрузку по текущим назначениям
func (s *fakeStore) ListAgents(_ context.Context) ([]models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]models.Agent, len(s.agents))
	for i, a := range s.agents {
		a.ActiveCount = 0
		for _, conv := range s.convs {
			if conv.AssignedAgentID != nil && *conv.AssignedAgentID == a.ID &&
				(conv.Status == models.StatusAssigned || conv.Status == models.StatusActive) {
				a.ActiveCount++
			}
		}
		result[i] = a
	}
	return result, nil
}

// TryAssign повторяет атомарный hand-off: побеждает ровно один вызов
func (s *fakeStore) TryAssign(_ context.Context, convID, agentID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[convID]
	if !ok {
		return false, errors.New("диалог не найден")
	}
	if conv.AssignedAgentID != nil ||
		(conv.Status != models.StatusPending && conv.Status != models.StatusWaiting) {
		return false, nil
	}
	id := agentID
	conv.AssignedAgentID = &id
	conv.Status = models.StatusAssigned
	return true, nil
}

func (s *fakeStore) SetConversationStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return errors.New("диалог не найден")
	}
	conv.Status = status
	return nil
}

func (s *fakeStore) ListWaitingConversations(_ context.Context, limit int) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var waiting []models.Conversation
	for _, conv := range s.convs {
		if conv.Status == models.StatusWaiting && conv.AssignedAgentID == nil {
			waiting = append(waiting, *conv)
		}
	}
	sort.Slice(waiting, func(i, j int) bool {
		return waiting[i].CreatedAt.Before(waiting[j].CreatedAt)
	})
	if len(waiting) > limit {
		waiting = waiting[:limit]
	}
	return waiting, nil
}

// fakeNotifier записывает уведомления движка
type fakeNotifier struct {
	mu       sync.Mutex
	assigned []uuid.UUID // agentID каждого NotifyAssigned
	waiting  [][]uuid.UUID
}

func (n *fakeNotifier) NotifyAssigned(_ *models.Conversation, agentID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.assigned = append(n.assigned, agentID)
}

func (n *fakeNotifier) NotifyWaiting(_ *models.Conversation, agentIDs []uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.waiting = append(n.waiting, agentIDs)
}

func onlineAgent(maxChats int, avgResp float64) models.Agent {
	return models.Agent{
		ID:                 uuid.New(),
		Status:             models.AgentOnline,
		IsAvailable:        true,
		MaxConcurrentChats: maxChats,
		AvgResponseTime:    avgResp,
	}
}

func TestEligibleRanking(t *testing.T) {
	fast := onlineAgent(5, 30)
	slow := onlineAgent(5, 120)
	offline := onlineAgent(5, 10)
	offline.Status = models.AgentOffline
	busy := onlineAgent(2, 5)
	busy.ActiveCount = 2 // на пределе вместимости
	unavailable := onlineAgent(5, 20)
	unavailable.IsAvailable = false

	ranked := Eligible([]models.Agent{slow, offline, busy, unavailable, fast})

	require.Len(t, ranked, 2)
	assert.Equal(t, fast.ID, ranked[0].ID, "быстрый оператор должен быть первым")
	assert.Equal(t, slow.ID, ranked[1].ID)
}

func TestEligibleTieBreakByLoad(t *testing.T) {
	light := onlineAgent(5, 60)
	light.ActiveCount = 1
	heavy := onlineAgent(5, 60)
	heavy.ActiveCount = 3

	ranked := Eligible([]models.Agent{heavy, light})

	require.Len(t, ranked, 2)
	assert.Equal(t, light.ID, ranked[0].ID, "при равном времени ответа побеждает меньшая нагрузка")
}

// Один оператор с вместимостью 1 и два клиента: первый диалог назначается,
// второй остается в очереди с уведомлением операторам.
func TestAutoAssignCapacityOverflow(t *testing.T) {
	store := newFakeStore()
	agent := onlineAgent(1, 30)
	store.agents = []models.Agent{agent}

	first := store.addConversation(models.StatusWaiting, time.Now().Add(-time.Minute))
	second := store.addConversation(models.StatusWaiting, time.Now())

	notifier := &fakeNotifier{}
	engine := NewEngine(store, notifier)

	assignedTo, err := engine.AutoAssign(context.Background(), first)
	require.NoError(t, err)
	require.NotNil(t, assignedTo)
	assert.Equal(t, agent.ID, *assignedTo)

	_, err = engine.AutoAssign(context.Background(), second)
	assert.ErrorIs(t, err, ErrNoEligibleAgents)

	conv, _ := store.GetConversation(context.Background(), second)
	assert.Equal(t, models.StatusWaiting, conv.Status)
	assert.Nil(t, conv.AssignedAgentID)

	// оператор всё еще онлайн — он в списке уведомленных
	require.Len(t, notifier.waiting, 1)
	assert.Contains(t, notifier.waiting[0], agent.ID)
}

func TestAutoAssignPendingGoesWaiting(t *testing.T) {
	store := newFakeStore()
	convID := store.addConversation(models.StatusPending, time.Now())

	engine := NewEngine(store, &fakeNotifier{})
	_, err := engine.AutoAssign(context.Background(), convID)
	assert.ErrorIs(t, err, ErrNoEligibleAgents)

	conv, _ := store.GetConversation(context.Background(), convID)
	assert.Equal(t, models.StatusWaiting, conv.Status,
		"без операторов pending-диалог должен встать в очередь")
}

func TestAutoAssignAlreadyAssigned(t *testing.T) {
	store := newFakeStore()
	agent := onlineAgent(5, 30)
	store.agents = []models.Agent{agent}
	convID := store.addConversation(models.StatusWaiting, time.Now())

	engine := NewEngine(store, &fakeNotifier{})
	_, err := engine.AutoAssign(context.Background(), convID)
	require.NoError(t, err)

	// повторная попытка проигрывает: диалог уже назначен
	_, err = engine.AutoAssign(context.Background(), convID)
	assert.ErrorIs(t, err, ErrAssignConflict)
}

// Два оператора одновременно забирают один диалог: побеждает ровно один.
func TestManualAssignConcurrent(t *testing.T) {
	store := newFakeStore()
	convID := store.addConversation(models.StatusWaiting, time.Now())
	engine := NewEngine(store, &fakeNotifier{})

	agentA := uuid.New()
	agentB := uuid.New()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, agentID := range []uuid.UUID{agentA, agentB} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			errs[i] = engine.ManualAssign(context.Background(), convID, id)
		}(i, agentID)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrAssignConflict)
		}
	}
	assert.Equal(t, 1, winners, "назначение должно достаться ровно одному оператору")

	conv, _ := store.GetConversation(context.Background(), convID)
	require.NotNil(t, conv.AssignedAgentID)
	assert.Equal(t, models.StatusAssigned, conv.Status)
}

func TestManualAssignConflict(t *testing.T) {
	store := newFakeStore()
	convID := store.addConversation(models.StatusWaiting, time.Now())
	engine := NewEngine(store, &fakeNotifier{})

	first := uuid.New()
	require.NoError(t, engine.ManualAssign(context.Background(), convID, first))

	err := engine.ManualAssign(context.Background(), convID, uuid.New())
	assert.ErrorIs(t, err, ErrAssignConflict)

	conv, _ := store.GetConversation(context.Background(), convID)
	assert.Equal(t, first, *conv.AssignedAgentID, "победитель не должен меняться")
}

// Освободившийся оператор разбирает очередь: старейшие диалоги первыми,
// не больше его вместимости.
func TestOnAgentAvailableSweep(t *testing.T) {
	store := newFakeStore()
	agent := onlineAgent(2, 30)
	store.agents = []models.Agent{agent}

	oldest := store.addConversation(models.StatusWaiting, time.Now().Add(-3*time.Hour))
	middle := store.addConversation(models.StatusWaiting, time.Now().Add(-2*time.Hour))
	newest := store.addConversation(models.StatusWaiting, time.Now().Add(-time.Hour))

	notifier := &fakeNotifier{}
	engine := NewEngine(store, notifier)

	assigned, err := engine.OnAgentAvailable(context.Background(), &agent)
	require.NoError(t, err)
	assert.Equal(t, 2, assigned)

	for _, id := range []uuid.UUID{oldest, middle} {
		conv, _ := store.GetConversation(context.Background(), id)
		require.NotNil(t, conv.AssignedAgentID, "старейшие диалоги должны быть назначены")
		assert.Equal(t, agent.ID, *conv.AssignedAgentID)
	}
	conv, _ := store.GetConversation(context.Background(), newest)
	assert.Nil(t, conv.AssignedAgentID, "сверх вместимости не назначаем")
}

func TestOnAgentAvailableIneligible(t *testing.T) {
	store := newFakeStore()
	store.addConversation(models.StatusWaiting, time.Now())

	agent := onlineAgent(2, 30)
	agent.IsAvailable = false

	engine := NewEngine(store, &fakeNotifier{})
	assigned, err := engine.OnAgentAvailable(context.Background(), &agent)
	require.NoError(t, err)
	assert.Zero(t, assigned)
}

func TestOnlineAgentIDsLimit(t *testing.T) {
	var agents []models.Agent
	for i := 0; i < 8; i++ {
		agents = append(agents, onlineAgent(5, float64(i)))
	}
	offline := onlineAgent(5, 0)
	offline.Status = models.AgentOffline
	agents = append(agents, offline)

	ids := onlineAgentIDs(agents, 5)
	require.Len(t, ids, 5)
	// лучшие по времени ответа идут первыми
	assert.Equal(t, agents[0].ID, ids[0])
	assert.NotContains(t, ids, offline.ID)
}
