package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aditus/internal/interfaces"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var mu sync.Mutex
	var received []string
	done := make(chan struct{}, 2)

	handler := func(name string) interfaces.EventHandler {
		return func(_ context.Context, event interfaces.Event) error {
			mu.Lock()
			received = append(received, name)
			mu.Unlock()
			done <- struct{}{}
			return nil
		}
	}

	require.NoError(t, svc.Subscribe(interfaces.EventAnalysisStarted, handler("a")))
	require.NoError(t, svc.Subscribe(interfaces.EventAnalysisStarted, handler("b")))

	require.NoError(t, svc.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventAnalysisStarted,
		Payload: map[string]interface{}{"job_id": "j1"},
	}))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("handler never ran")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, received)
}

func TestPublishWithoutSubscribersIsNoOp(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	assert.NoError(t, svc.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventWorkerRequested,
	}))
}

func TestSubscribeRejectsNilHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	assert.Error(t, svc.Subscribe(interfaces.EventError, nil))
}
