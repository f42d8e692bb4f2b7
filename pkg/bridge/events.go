package bridge

import (
	"time"

	"github.com/google/uuid"
)

// EventType тип нормализованного события жизненного цикла звонка
type EventType string

const (
	EventInitiated EventType = "call.initiated"
	EventRinging   EventType = "call.ringing"
	EventAnswered  EventType = "call.answered"
	EventActive    EventType = "call.active"
	EventSpeaking  EventType = "call.speaking"
	EventSpeech    EventType = "call.speech"
	EventEnded     EventType = "call.ended"
)

// Direction направление звонка
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Причины завершения в событии call.ended
const (
	ReasonCompleted = "completed"
	ReasonHangupBot = "hangup-bot"
	ReasonError     = "error"
	ReasonShutdown  = "shutdown"
)

// NormalizedEvent событие, передаваемое внешнему менеджеру звонков.
// Сырые ошибки транспорта наружу не попадают, только Reason.
type NormalizedEvent struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	CallID         string    `json:"callId"`
	ProviderCallID string    `json:"providerCallId"`
	Timestamp      time.Time `json:"timestamp"`

	Direction  Direction `json:"direction,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Text       string    `json:"text,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	IsFinal    bool      `json:"isFinal,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// EventSink получатель нормализованных событий
type EventSink interface {
	ProcessEvent(evt NormalizedEvent)
}

// EventSinkFunc адаптер функции к EventSink
type EventSinkFunc func(evt NormalizedEvent)

func (f EventSinkFunc) ProcessEvent(evt NormalizedEvent) {
	f(evt)
}

func newEvent(typ EventType, c *Call) NormalizedEvent {
	return NormalizedEvent{
		ID:             uuid.NewString(),
		Type:           typ,
		CallID:         c.callID,
		ProviderCallID: c.providerCallID,
		Timestamp:      time.Now(),
	}
}
