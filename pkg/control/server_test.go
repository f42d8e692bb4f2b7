package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/ari_bridge/pkg/ari"
	"github.com/arzzra/ari_bridge/pkg/bridge"
	"github.com/arzzra/ari_bridge/pkg/rtp"
)

// fakeBridge записывает вызовы и возвращает заданные ошибки
type fakeBridge struct {
	mu      sync.Mutex
	calls   map[string]bridge.CallInfo
	ops     []string
	initErr error
	ttsErr  error
	lastReq bridge.InitiateRequest
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{calls: map[string]bridge.CallInfo{
		"pc-1": {CallID: "c-1", ProviderCallID: "pc-1", Direction: bridge.DirectionInbound, State: "active"},
	}}
}

func (f *fakeBridge) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
}

func (f *fakeBridge) known(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.calls[id]; !ok {
		return bridge.ErrCallNotFound
	}
	return nil
}

func (f *fakeBridge) InitiateCall(_ context.Context, req bridge.InitiateRequest) (bridge.InitiateResult, error) {
	f.record("initiate")
	f.lastReq = req
	if f.initErr != nil {
		return bridge.InitiateResult{}, f.initErr
	}
	return bridge.InitiateResult{CallID: req.CallID, ProviderCallID: "pc-new", Status: "initiated"}, nil
}

func (f *fakeBridge) HangupCall(_ context.Context, id string) error {
	f.record("hangup " + id)
	return f.known(id)
}

func (f *fakeBridge) PlayTTS(_ context.Context, id, text string) error {
	f.record("speak " + id + " " + text)
	if err := f.known(id); err != nil {
		return err
	}
	return f.ttsErr
}

func (f *fakeBridge) StartListening(_ context.Context, id string) error {
	f.record("listen start " + id)
	return f.known(id)
}

func (f *fakeBridge) StopListening(_ context.Context, id string) error {
	f.record("listen stop " + id)
	return f.known(id)
}

func (f *fakeBridge) Call(id string) (bridge.CallInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.calls[id]
	return info, ok
}

func (f *fakeBridge) Calls() []bridge.CallInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bridge.CallInfo, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c)
	}
	return out
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInitiate(t *testing.T) {
	fb := newFakeBridge()
	srv := NewServer(ServerConfig{Bridge: fb})

	rec := do(t, srv, http.MethodPost, "/calls", `{"callId":"c-9","from":"100","fromName":"Бот","to":"79990001122"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var result bridge.InitiateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "pc-new", result.ProviderCallID)
	assert.Equal(t, "Бот", fb.lastReq.FromName)
	assert.Equal(t, "79990001122", fb.lastReq.To)

	rec = do(t, srv, http.MethodPost, "/calls", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fb.initErr = fmt.Errorf("пустой номер: %w", ari.ErrInvalidDestination)
	rec = do(t, srv, http.MethodPost, "/calls", `{"to":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestCallCommands(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"Завершение", http.MethodPost, "/calls/pc-1/hangup", "", http.StatusNoContent},
		{"Завершение неизвестного", http.MethodPost, "/calls/nope/hangup", "", http.StatusNotFound},
		{"Синтез", http.MethodPost, "/calls/pc-1/speak", `{"text":"Добрый день"}`, http.StatusNoContent},
		{"Синтез без текста", http.MethodPost, "/calls/pc-1/speak", `{}`, http.StatusBadRequest},
		{"Синтез неизвестному", http.MethodPost, "/calls/nope/speak", `{"text":"x"}`, http.StatusNotFound},
		{"Начать слушать", http.MethodPost, "/calls/pc-1/listen/start", "", http.StatusNoContent},
		{"Перестать слушать", http.MethodPost, "/calls/pc-1/listen/stop", "", http.StatusNoContent},
		{"Слушать неизвестный", http.MethodPost, "/calls/nope/listen/start", "", http.StatusNotFound},
		{"Снимок звонка", http.MethodGet, "/calls/pc-1", "", http.StatusOK},
		{"Снимок неизвестного", http.MethodGet, "/calls/nope", "", http.StatusNotFound},
		{"Неверный метод", http.MethodGet, "/calls/pc-1/hangup", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(ServerConfig{Bridge: newFakeBridge()})
			rec := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestSpeakErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Нет синтеза", bridge.ErrNoSpeechSynthesis, http.StatusNotImplemented},
		{"Нет собеседника", &bridge.CallError{Op: "tts", ProviderCallID: "pc-1", Err: rtp.ErrNoPeer}, http.StatusConflict},
		{"Ошибка провайдера", fmt.Errorf("сбой"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBridge()
			fb.ttsErr = tt.err
			srv := NewServer(ServerConfig{Bridge: fb})
			rec := do(t, srv, http.MethodPost, "/calls/pc-1/speak", `{"text":"привет"}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestListCalls(t *testing.T) {
	srv := NewServer(ServerConfig{Bridge: newFakeBridge()})
	rec := do(t, srv, http.MethodGet, "/calls", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var calls []bridge.CallInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &calls))
	require.Len(t, calls, 1)
	assert.Equal(t, "pc-1", calls[0].ProviderCallID)
}

func TestHealthAndMetrics(t *testing.T) {
	connected := false
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "ari_bridge_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := NewServer(ServerConfig{
		Bridge:    newFakeBridge(),
		Connected: func() bool { return connected },
		Gatherer:  reg,
	})

	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/healthz", "").Code)
	connected = true
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", "").Code)

	rec := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ari_bridge_test_total 1")
}

func TestMetricsDisabledWithoutGatherer(t *testing.T) {
	srv := NewServer(ServerConfig{Bridge: newFakeBridge()})
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/metrics", "").Code)
}
