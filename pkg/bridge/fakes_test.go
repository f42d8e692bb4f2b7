package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arzzra/ari_bridge/pkg/ari"
)

// fakeControlPlane ARI в памяти, записывающий операции
type fakeControlPlane struct {
	mutex    sync.Mutex
	ops      []string
	nextID   int
	extHosts map[string]string
	hangups  map[string]int
	channels []ari.Channel

	// onOriginate вызывается до возврата ответа originate
	onOriginate func(params ari.OriginateParams, channelID string)
	// beforeExternalMedia блокирует создание внешнего медиа
	beforeExternalMedia func()
	bridgeErr           error

	// hangupGate задерживает завершение каналов до закрытия
	hangupGate chan struct{}
	inFlight   atomic.Int32
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		extHosts: make(map[string]string),
		hangups:  make(map[string]int),
	}
}

func (f *fakeControlPlane) record(op string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.ops = append(f.ops, op)
}

func (f *fakeControlPlane) id(prefix string) string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeControlPlane) Originate(_ context.Context, params ari.OriginateParams) (*ari.Channel, error) {
	id := f.id("sip-out")
	f.record("originate:" + params.Endpoint)
	if f.onOriginate != nil {
		f.onOriginate(params, id)
	}
	return &ari.Channel{ID: id, Name: "PJSIP/trunk-" + id}, nil
}

func (f *fakeControlPlane) Answer(_ context.Context, channelID string) error {
	f.record("answer:" + channelID)
	return nil
}

func (f *fakeControlPlane) HangupOrDelete(ctx context.Context, channelID string) error {
	if channelID == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mutex.Lock()
	gate := f.hangupGate
	f.mutex.Unlock()
	if gate != nil {
		f.inFlight.Add(1)
		<-gate
		f.inFlight.Add(-1)
	}
	f.record("hangup:" + channelID)
	f.mutex.Lock()
	f.hangups[channelID]++
	f.mutex.Unlock()
	return nil
}

func (f *fakeControlPlane) CreateBridge(ctx context.Context, bridgeType string) (*ari.Bridge, error) {
	if f.bridgeErr != nil {
		return nil, f.bridgeErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := f.id("br")
	f.record("create_bridge:" + bridgeType)
	return &ari.Bridge{ID: id, BridgeType: bridgeType}, nil
}

func (f *fakeControlPlane) AddChannels(_ context.Context, bridgeID string, channelIDs ...string) error {
	f.record("add:" + bridgeID + ":" + strings.Join(channelIDs, ","))
	return nil
}

func (f *fakeControlPlane) DeleteBridge(_ context.Context, bridgeID string) error {
	f.record("delete_bridge:" + bridgeID)
	return nil
}

func (f *fakeControlPlane) ExternalMedia(_ context.Context, params ari.ExternalMediaParams) (*ari.Channel, error) {
	if f.beforeExternalMedia != nil {
		f.beforeExternalMedia()
	}
	id := f.id("ext")
	f.record("external_media:" + params.Format)
	f.mutex.Lock()
	f.extHosts[id] = params.ExternalHost
	f.mutex.Unlock()
	return &ari.Channel{ID: id, Name: "UnicastRTP/" + params.ExternalHost}, nil
}

func (f *fakeControlPlane) ListChannels(context.Context) ([]ari.Channel, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]ari.Channel(nil), f.channels...), nil
}

func (f *fakeControlPlane) opsWithPrefix(prefix string) []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var out []string
	for _, op := range f.ops {
		if strings.HasPrefix(op, prefix) {
			out = append(out, op)
		}
	}
	return out
}

func (f *fakeControlPlane) holdHangups() chan struct{} {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.hangupGate = make(chan struct{})
	return f.hangupGate
}

func (f *fakeControlPlane) hangupCount(channelID string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.hangups[channelID]
}

func (f *fakeControlPlane) extHost(channelID string) string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.extHosts[channelID]
}

// fakeSpeech сессия распознавания, которой управляет тест
type fakeSpeech struct {
	callbacks SpeechCallbacks
	audio     chan []byte
	closes    atomic.Int32
}

func (s *fakeSpeech) SendAudio(mulaw []byte) {
	select {
	case s.audio <- mulaw:
	default:
	}
}

func (s *fakeSpeech) Close() error {
	s.closes.Add(1)
	return nil
}

type fakeSTT struct {
	mutex    sync.Mutex
	sessions []*fakeSpeech
}

func (f *fakeSTT) Connect(_ context.Context, callbacks SpeechCallbacks) (SpeechSession, error) {
	s := &fakeSpeech{callbacks: callbacks, audio: make(chan []byte, 64)}
	f.mutex.Lock()
	f.sessions = append(f.sessions, s)
	f.mutex.Unlock()
	return s, nil
}

func (f *fakeSTT) session(i int) *fakeSpeech {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if i >= len(f.sessions) {
		return nil
	}
	return f.sessions[i]
}

type fakeTTS struct {
	audio []byte
}

func (f *fakeTTS) Synthesize(context.Context, string) ([]byte, error) {
	return f.audio, nil
}

// eventCollector собирает нормализованные события
type eventCollector struct {
	mutex  sync.Mutex
	events []NormalizedEvent
}

func (c *eventCollector) ProcessEvent(evt NormalizedEvent) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.events = append(c.events, evt)
}

func (c *eventCollector) all() []NormalizedEvent {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]NormalizedEvent(nil), c.events...)
}

func (c *eventCollector) types(providerCallID string) []EventType {
	var out []EventType
	for _, e := range c.all() {
		if e.ProviderCallID == providerCallID {
			out = append(out, e.Type)
		}
	}
	return out
}

func (c *eventCollector) count(typ EventType) int {
	n := 0
	for _, e := range c.all() {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// waitFor ждет первое событие типа typ
func (c *eventCollector) waitFor(t *testing.T, typ EventType, timeout time.Duration) NormalizedEvent {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, e := range c.all() {
			if e.Type == typ {
				return e
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("событие %s не получено за %s", typ, timeout)
	return NormalizedEvent{}
}
