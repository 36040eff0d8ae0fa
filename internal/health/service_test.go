package health

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []HealthItem
}

func (b *recordingBroadcaster) Broadcast(msgType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msgType == MessageHealthUpdated {
		b.msgs = append(b.msgs, payload.(HealthItem))
	}
}

func TestService_Transitions(t *testing.T) {
	s := NewService(zerolog.Nop())
	b := &recordingBroadcaster{}
	s.SetBroadcaster(b)

	s.RegisterItem(CategoryWorker, "backend", "Backend")
	assert.True(t, s.IsHealthy(CategoryWorker, "backend"))

	s.SetWarning(CategoryWorker, "backend", "not accepting connections")
	item := s.GetItem(CategoryWorker, "backend")
	require.NotNil(t, item)
	assert.Equal(t, StatusWarning, item.Status)
	assert.NotNil(t, item.Timestamp)

	s.SetError(CategoryWorker, "backend", "exited")
	s.SetError(CategoryWorker, "backend", "exited")
	assert.False(t, s.IsHealthy(CategoryWorker, "backend"))

	s.ClearStatus(CategoryWorker, "backend")
	item = s.GetItem(CategoryWorker, "backend")
	assert.Equal(t, StatusOK, item.Status)
	assert.Nil(t, item.Timestamp)

	// register, warning, error, clear; the duplicate error is suppressed
	assert.Len(t, b.msgs, 4)
	assert.Equal(t, StatusError, b.msgs[2].Status)
}

func TestService_RegisterKeepsStatus(t *testing.T) {
	s := NewService(zerolog.Nop())
	s.RegisterItem(CategorySurface, "window", "Window")
	s.SetError(CategorySurface, "window", "closed")

	s.RegisterItem(CategorySurface, "window", "Main window")

	item := s.GetItem(CategorySurface, "window")
	assert.Equal(t, StatusError, item.Status)
	assert.Equal(t, "Main window", item.Name)
}

func TestService_UnregisteredItem(t *testing.T) {
	s := NewService(zerolog.Nop())
	s.SetError(CategoryWorker, "missing", "x")

	assert.Nil(t, s.GetItem(CategoryWorker, "missing"))
	assert.False(t, s.IsHealthy(CategoryWorker, "missing"))

	s.RegisterItem(CategoryWorker, "gone", "Gone")
	s.UnregisterItem(CategoryWorker, "gone")
	assert.Empty(t, s.GetAll().Worker)
}

func TestService_Summary(t *testing.T) {
	s := NewService(zerolog.Nop())
	s.RegisterItem(CategoryWorker, "backend", "Backend")
	s.RegisterItem(CategorySurface, "window", "Window")

	assert.False(t, s.GetSummary().HasIssues)

	s.SetError(CategoryWorker, "backend", "exited")
	summary := s.GetSummary()
	assert.True(t, summary.HasIssues)
	require.Len(t, summary.Categories, 2)
	assert.Equal(t, CategoryWorker, summary.Categories[0].Category)
	assert.Equal(t, 1, summary.Categories[0].Error)
	assert.Equal(t, 1, summary.Categories[1].OK)
}

func TestHealthItem_MarshalJSON(t *testing.T) {
	s := NewService(zerolog.Nop())
	s.RegisterItem(CategoryWorker, "backend", "Backend")
	s.SetError(CategoryWorker, "backend", "exited")
	s.ClearStatus(CategoryWorker, "backend")

	data, err := json.Marshal(s.GetItem(CategoryWorker, "backend"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "timestamp")
	assert.NotContains(t, string(data), "message")
}
