package rtp

import (
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freeBasePort находит порт, свободный на момент вызова
func freeBasePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func counterValue(t *testing.T, c prometheus.Counter) int {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return int(m.GetCounter().GetValue())
}

func TestPortAllocatorSkipsBusyPort(t *testing.T) {
	base := freeBasePort(t)

	busy, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: base})
	require.NoError(t, err)
	defer busy.Close()

	alloc, err := NewPortAllocator("127.0.0.1", base, nil)
	require.NoError(t, err)

	conn, err := alloc.Bind(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	port := conn.LocalAddr().(*net.UDPAddr).Port
	assert.NotEqual(t, base, port)
	assert.Equal(t, 0, counterValue(t, alloc.metrics.PortFallbacks))
}

func TestPortAllocatorCounterIsShared(t *testing.T) {
	base := freeBasePort(t)
	alloc, err := NewPortAllocator("127.0.0.1", base, nil)
	require.NoError(t, err)

	first, err := alloc.Bind(context.Background())
	require.NoError(t, err)
	defer first.Close()
	second, err := alloc.Bind(context.Background())
	require.NoError(t, err)
	defer second.Close()

	p1 := first.LocalAddr().(*net.UDPAddr).Port
	p2 := second.LocalAddr().(*net.UDPAddr).Port
	assert.NotEqual(t, p1, p2)
	assert.Greater(t, p2, p1)
}

func TestPortAllocatorFallsBackToEphemeral(t *testing.T) {
	base := freeBasePort(t)

	alloc, err := NewPortAllocator("127.0.0.1", base, nil)
	require.NoError(t, err)
	alloc.candidates = 2

	var blockers []*net.UDPConn
	for p := base; p < base+alloc.candidates; p++ {
		c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: p})
		if err != nil {
			// Порт уже занят кем-то еще, для теста это то же самое
			continue
		}
		blockers = append(blockers, c)
	}
	defer func() {
		for _, c := range blockers {
			c.Close()
		}
	}()

	conn, err := alloc.Bind(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	port := conn.LocalAddr().(*net.UDPAddr).Port
	assert.False(t, port >= base && port < base+alloc.candidates, "порт %d из занятого диапазона", port)
	assert.Equal(t, 1, counterValue(t, alloc.metrics.PortFallbacks))
}

func TestNewPortAllocatorValidation(t *testing.T) {
	_, err := NewPortAllocator("127.0.0.1", 0, nil)
	assert.Error(t, err)
	_, err = NewPortAllocator("127.0.0.1", 70000, nil)
	assert.Error(t, err)
}
