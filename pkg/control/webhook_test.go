package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/ari_bridge/pkg/bridge"
)

func TestWebhookSinkDeliversInOrder(t *testing.T) {
	var (
		mu       sync.Mutex
		received []bridge.NormalizedEvent
	)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt bridge.NormalizedEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, evt)
		mu.Unlock()
		if evt.Type == bridge.EventSpeech {
			// ошибка получателя не останавливает доставку
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer target.Close()

	sink := NewWebhookSink(target.URL, nil, nil)
	sink.ProcessEvent(bridge.NormalizedEvent{Type: bridge.EventActive, ProviderCallID: "pc-1"})
	sink.ProcessEvent(bridge.NormalizedEvent{Type: bridge.EventSpeech, ProviderCallID: "pc-1", Transcript: "алло", IsFinal: true})
	sink.ProcessEvent(bridge.NormalizedEvent{Type: bridge.EventEnded, ProviderCallID: "pc-1", Reason: bridge.ReasonCompleted})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))
	require.NoError(t, sink.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 3)
	assert.Equal(t, bridge.EventActive, received[0].Type)
	assert.Equal(t, "алло", received[1].Transcript)
	assert.Equal(t, bridge.ReasonCompleted, received[2].Reason)
}

func TestWebhookSinkEventsAfterClose(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer target.Close()

	sink := NewWebhookSink(target.URL, nil, nil)

	// Звонки, завершающиеся при остановке, шлют события параллельно с Close
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sink.ProcessEvent(bridge.NormalizedEvent{Type: bridge.EventEnded, Reason: bridge.ReasonShutdown})
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))
	wg.Wait()

	delivered := hits.Load()
	assert.NotPanics(t, func() {
		sink.ProcessEvent(bridge.NormalizedEvent{Type: bridge.EventEnded, ProviderCallID: "pc-late"})
	})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, delivered, hits.Load())
}

func TestLogSink(t *testing.T) {
	// не должен паниковать без логгера
	LogSink(nil).ProcessEvent(bridge.NormalizedEvent{Type: bridge.EventEnded})
}
