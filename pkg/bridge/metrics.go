package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics счетчики жизненного цикла звонков
type Metrics struct {
	Calls            *prometheus.CounterVec
	ActiveCalls      prometheus.Gauge
	SetupFailures    *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
	OrphansHungUp    prometheus.Counter
	TTSPlaybacks     *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg; nil reg оставляет их незарегистрированными
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ari_bridge",
			Name:      "calls_total",
			Help:      "Звонки по направлению",
		}, []string{"direction"}),
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ari_bridge",
			Name:      "calls_active",
			Help:      "Звонки в реестре",
		}),
		SetupFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ari_bridge",
			Name:      "call_setup_failures_total",
			Help:      "Ошибки настройки звонка по этапу",
		}, []string{"stage"}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ari_bridge",
			Name:      "call_state_transitions_total",
			Help:      "Переходы конечного автомата звонка",
		}, []string{"from", "to"}),
		OrphansHungUp: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ari_bridge",
			Name:      "orphans_hungup_total",
			Help:      "Завершенные осиротевшие каналы внешнего медиа",
		}),
		TTSPlaybacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ari_bridge",
			Name:      "tts_playbacks_total",
			Help:      "Воспроизведения синтезированной речи по результату",
		}, []string{"result"}),
	}
}
