package rtp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Причины отброса входящих пакетов
const (
	DropShort       = "short"
	DropForeignPeer = "foreign_peer"
	DropMalformed   = "malformed"
)

// Metrics счетчики RTP уровня.
// Один экземпляр разделяется всеми сессиями процесса.
type Metrics struct {
	PacketsReceived prometheus.Counter
	PacketsDropped  *prometheus.CounterVec
	PacketsSent     prometheus.Counter
	PortFallbacks   prometheus.Counter
}

// NewMetrics регистрирует счетчики в reg. При reg == nil счетчики
// создаются без регистрации (используется в тестах).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ari_bridge",
			Name:      "rtp_packets_received_total",
			Help:      "Принятые RTP пакеты, переданные дальше по цепочке",
		}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ari_bridge",
			Name:      "rtp_packets_dropped_total",
			Help:      "Отброшенные входящие RTP пакеты",
		}, []string{"reason"}),
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ari_bridge",
			Name:      "rtp_packets_sent_total",
			Help:      "Отправленные RTP пакеты синтезированной речи",
		}),
		PortFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ari_bridge",
			Name:      "rtp_port_bind_fallbacks_total",
			Help:      "Привязки к эфемерному порту после исчерпания кандидатов",
		}),
	}
}
