package rtp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
)

const (
	portCandidates = 20
	maxPort        = 65535
)

// PortAllocator выделяет UDP сокеты под RTP звонков.
// Счетчик кандидатов общий для всех звонков: каждая попытка сдвигает
// его на единицу, после maxPort он возвращается к базовому порту.
type PortAllocator struct {
	host       string
	basePort   int
	candidates int
	metrics    *Metrics

	mutex    sync.Mutex
	nextPort int
}

// NewPortAllocator создает аллокатор, привязывающий сокеты к host начиная с basePort
func NewPortAllocator(host string, basePort int, metrics *Metrics) (*PortAllocator, error) {
	if basePort <= 0 || basePort > maxPort {
		return nil, fmt.Errorf("некорректный базовый RTP порт: %d", basePort)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &PortAllocator{
		host:       host,
		basePort:   basePort,
		candidates: portCandidates,
		metrics:    metrics,
		nextPort:   basePort,
	}, nil
}

// Bind привязывает UDP сокет. Занятые порты пропускаются; если все
// кандидаты заняты, порт выбирает ОС. Любая другая ошибка bind фатальна.
func (a *PortAllocator) Bind(ctx context.Context) (*net.UDPConn, error) {
	for i := 0; i < a.candidates; i++ {
		conn, err := a.listen(ctx, a.takePort())
		if err == nil {
			return conn, nil
		}
		if isAddrInUse(err) {
			continue
		}
		return nil, fmt.Errorf("ошибка создания UDP соединения: %w", err)
	}

	conn, err := a.listen(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания UDP соединения на эфемерном порту: %w", err)
	}
	a.metrics.PortFallbacks.Inc()
	return conn, nil
}

func (a *PortAllocator) takePort() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	port := a.nextPort
	a.nextPort++
	if a.nextPort > maxPort {
		a.nextPort = a.basePort
	}
	return port
}

func (a *PortAllocator) listen(ctx context.Context, port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: controlVoiceSocket}

	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort(a.host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
