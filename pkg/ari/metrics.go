package ari

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics счетчики взаимодействия с ARI
type Metrics struct {
	Requests   *prometheus.CounterVec
	Reconnects prometheus.Counter
	Events     *prometheus.CounterVec
}

// NewMetrics регистрирует счетчики в reg; nil reg оставляет их незарегистрированными
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ari_bridge",
			Name:      "ari_requests_total",
			Help:      "REST запросы к ARI по методу и коду ответа",
		}, []string{"method", "status"}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ari_bridge",
			Name:      "ari_event_stream_reconnects_total",
			Help:      "Переподключения потока событий ARI",
		}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ari_bridge",
			Name:      "ari_events_total",
			Help:      "Принятые события ARI по типу",
		}, []string{"type"}),
	}
}
