package bridge

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/ari_bridge/pkg/rtp"
)

// Состояния звонка
const (
	StateDialing   = "dialing"
	StateRinging   = "ringing"
	StateAnswering = "answering"
	StateBridging  = "bridging"
	StateActive    = "active"
	StateEnding    = "ending"
	StateGone      = "gone"
)

// События автомата звонка
const (
	eventRing     = "ring"
	eventAnswer   = "answer"
	eventBridge   = "bridge"
	eventActivate = "activate"
	eventEnd      = "end"
	eventRelease  = "release"
)

// Call состояние одного звонка.
//
// Переход answer выполняется не более одного раза и защищает настройку,
// переход end выполняется ровно один раз и защищает завершение.
type Call struct {
	callID         string
	providerCallID string
	direction      Direction
	from           string
	to             string
	createdAt      time.Time

	// mutex защищает идентификаторы и ресурсы ниже
	mutex        sync.Mutex
	sipChannelID string
	extChannelID string
	bridgeID     string
	rtp          *rtp.Session
	speech       SpeechSession

	// speaking сбрасывается при barge-in и прерывает воспроизведение
	speaking atomic.Bool

	stateMachine *fsm.FSM
	ended        chan struct{}
	logger       *slog.Logger
}

func newCall(callID, providerCallID string, direction Direction, logger *slog.Logger, metrics *Metrics) *Call {
	c := &Call{
		callID:         callID,
		providerCallID: providerCallID,
		direction:      direction,
		createdAt:      time.Now(),
		ended:          make(chan struct{}),
		logger: logger.With(
			slog.String("provider_call_id", providerCallID),
			slog.String("call_id", callID),
		),
	}

	initial := StateRinging
	if direction == DirectionOutbound {
		initial = StateDialing
	}

	c.stateMachine = fsm.NewFSM(
		initial,
		fsm.Events{
			{Name: eventRing, Src: []string{StateDialing}, Dst: StateRinging},
			{Name: eventAnswer, Src: []string{StateRinging}, Dst: StateAnswering},
			{Name: eventBridge, Src: []string{StateAnswering}, Dst: StateBridging},
			{Name: eventActivate, Src: []string{StateBridging}, Dst: StateActive},
			{Name: eventEnd, Src: []string{StateDialing, StateRinging, StateAnswering, StateBridging, StateActive}, Dst: StateEnding},
			{Name: eventRelease, Src: []string{StateEnding}, Dst: StateGone},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				metrics.StateTransitions.WithLabelValues(e.Src, e.Dst).Inc()
				c.logger.Debug("Смена состояния звонка", slog.String("from", e.Src), slog.String("to", e.Dst))
			},
		},
	)

	return c
}

// fire выполняет переход автомата. Переход, невозможный из текущего
// состояния, возвращает ошибку и не меняет состояние.
//
// Отмена ctx на переход не влияет: автомат, прерванный отменой, остается
// в незавершенном переходе и отвергает все следующие события.
func (c *Call) fire(ctx context.Context, event string) error {
	return c.stateMachine.Event(context.WithoutCancel(ctx), event)
}

// State текущее состояние звонка
func (c *Call) State() string {
	return c.stateMachine.Current()
}

// CallID внутренний идентификатор звонка
func (c *Call) CallID() string { return c.callID }

// ProviderCallID идентификатор звонка на стороне ARI
func (c *Call) ProviderCallID() string { return c.providerCallID }

// Direction направление звонка
func (c *Call) Direction() Direction { return c.direction }

// Speaking идет ли сейчас воспроизведение синтезированной речи
func (c *Call) Speaking() bool { return c.speaking.Load() }

// Ended закрывается в начале завершения звонка
func (c *Call) Ended() <-chan struct{} { return c.ended }

// ending началось ли завершение звонка
func (c *Call) ending() bool {
	return c.endingLocked()
}

// endingLocked читает только канал ended и не требует мьютекса
func (c *Call) endingLocked() bool {
	select {
	case <-c.ended:
		return true
	default:
		return false
	}
}

// beginTeardown переводит звонок в ending. true получает только первый вызвавший.
func (c *Call) beginTeardown(ctx context.Context) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.fire(ctx, eventEnd); err != nil {
		return false
	}
	close(c.ended)
	return true
}

// SIPChannelID идентификатор телефонного канала
func (c *Call) SIPChannelID() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.sipChannelID
}

// bindSIPChannel запоминает телефонный канал, если он еще не известен
func (c *Call) bindSIPChannel(channelID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.sipChannelID == "" {
		c.sipChannelID = channelID
	}
}

// attach привязывает ресурс под мьютексом звонка. Если звонок уже
// завершается, ресурс не привязывается и его освобождает вызывающий.
func (c *Call) attach(set func()) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.endingLocked() {
		return ErrCallEnded
	}
	set()
	return nil
}

func (c *Call) attachBridge(id string) error {
	return c.attach(func() { c.bridgeID = id })
}

func (c *Call) attachRTP(s *rtp.Session) error {
	return c.attach(func() { c.rtp = s })
}

func (c *Call) attachExtChannel(id string) error {
	return c.attach(func() { c.extChannelID = id })
}

func (c *Call) attachSpeech(s SpeechSession) error {
	return c.attach(func() { c.speech = s })
}

func (c *Call) rtpSession() *rtp.Session {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.rtp
}

// forwardAudio передает входящий звук в сессию распознавания, если она открыта
func (c *Call) forwardAudio(payload []byte) {
	c.mutex.Lock()
	s := c.speech
	c.mutex.Unlock()

	if s != nil {
		s.SendAudio(payload)
	}
}

// ownsChannel относится ли канал к звонку
func (c *Call) ownsChannel(channelID string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return channelID != "" && (c.sipChannelID == channelID || c.extChannelID == channelID)
}

// callResources ресурсы, изъятые у звонка для освобождения
type callResources struct {
	sipChannelID string
	extChannelID string
	bridgeID     string
	rtp          *rtp.Session
	speech       SpeechSession
}

// detach забирает ресурсы. После detach звонок ничем не владеет.
func (c *Call) detach() callResources {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res := callResources{
		sipChannelID: c.sipChannelID,
		extChannelID: c.extChannelID,
		bridgeID:     c.bridgeID,
		rtp:          c.rtp,
		speech:       c.speech,
	}
	c.rtp = nil
	c.speech = nil
	return res
}

// CallInfo снимок состояния звонка
type CallInfo struct {
	CallID         string    `json:"callId"`
	ProviderCallID string    `json:"providerCallId"`
	Direction      Direction `json:"direction"`
	State          string    `json:"state"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	SIPChannelID   string    `json:"sipChannelId,omitempty"`
	ExtChannelID   string    `json:"extChannelId,omitempty"`
	BridgeID       string    `json:"bridgeId,omitempty"`
	RTPPort        int       `json:"rtpPort,omitempty"`
	RTPPeer        string    `json:"rtpPeer,omitempty"`
	Speaking       bool      `json:"speaking"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Info возвращает снимок состояния
func (c *Call) Info() CallInfo {
	c.mutex.Lock()
	info := CallInfo{
		CallID:         c.callID,
		ProviderCallID: c.providerCallID,
		Direction:      c.direction,
		From:           c.from,
		To:             c.to,
		SIPChannelID:   c.sipChannelID,
		ExtChannelID:   c.extChannelID,
		BridgeID:       c.bridgeID,
		CreatedAt:      c.createdAt,
	}
	c.mutex.Unlock()

	info.State = c.State()
	info.Speaking = c.speaking.Load()
	info.RTPPort = c.RTPPort()
	if peer, ok := c.RTPPeer(); ok {
		info.RTPPeer = peer.String()
	}
	return info
}

// RTPPort локальный RTP порт звонка или 0
func (c *Call) RTPPort() int {
	if s := c.rtpSession(); s != nil {
		return s.Port()
	}
	return 0
}

// RTPPeer выученный адрес медиа канала
func (c *Call) RTPPeer() (netip.AddrPort, bool) {
	if s := c.rtpSession(); s != nil {
		return s.Peer()
	}
	return netip.AddrPort{}, false
}
