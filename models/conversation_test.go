package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to string }{
		{StatusPending, StatusWaiting},
		{StatusWaiting, StatusWaiting},
		{StatusWaiting, StatusAssigned},
		{StatusAssigned, StatusActive},
		{StatusAssigned, StatusClosed},
		{StatusActive, StatusClosed},
		{StatusClosed, StatusWaiting}, // новое сообщение клиента открывает диалог заново
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr.from, tr.to), "%s → %s должен быть разрешен", tr.from, tr.to)
	}

	forbidden := []struct{ from, to string }{
		{StatusPending, StatusAssigned}, // назначение только из waiting
		{StatusPending, StatusClosed},
		{StatusWaiting, StatusActive},
		{StatusAssigned, StatusWaiting},
		{StatusActive, StatusWaiting},
		{StatusClosed, StatusAssigned},
		{StatusClosed, StatusActive},
		{StatusClosed, StatusClosed},
	}
	for _, tr := range forbidden {
		assert.False(t, CanTransition(tr.from, tr.to), "%s → %s должен быть запрещен", tr.from, tr.to)
	}
}

func TestIsAssignable(t *testing.T) {
	agentID := uuid.New()

	assert.True(t, (&Conversation{Status: StatusWaiting}).IsAssignable())
	assert.True(t, (&Conversation{Status: StatusPending}).IsAssignable())

	assert.False(t, (&Conversation{Status: StatusAssigned, AssignedAgentID: &agentID}).IsAssignable())
	assert.False(t, (&Conversation{Status: StatusActive, AssignedAgentID: &agentID}).IsAssignable())
	assert.False(t, (&Conversation{Status: StatusClosed}).IsAssignable())
	// назначенный диалог непригоден независимо от статуса
	assert.False(t, (&Conversation{Status: StatusWaiting, AssignedAgentID: &agentID}).IsAssignable())
}

func TestAgentIsEligible(t *testing.T) {
	base := Agent{Status: AgentOnline, IsAvailable: true, MaxConcurrentChats: 3, ActiveCount: 1}
	assert.True(t, base.IsEligible())

	offline := base
	offline.Status = AgentOffline
	assert.False(t, offline.IsEligible())

	unavailable := base
	unavailable.IsAvailable = false
	assert.False(t, unavailable.IsEligible())

	full := base
	full.ActiveCount = 3
	assert.False(t, full.IsEligible(), "оператор на пределе вместимости не принимает новые диалоги")
}
