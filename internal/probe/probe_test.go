package probe

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woozymasta/radar/internal/models"
)

func addrList(n int) []models.Address {
	addrs := make([]models.Address, n)
	for i := range addrs {
		addrs[i] = models.Address{IP: fmt.Sprintf("192.0.2.%d", i+1), Port: 27016}
	}

	return addrs
}

func TestProbeAllBoundedConcurrency(t *testing.T) {
	const limit = 5

	var inflight, peak atomic.Int32

	p := New(Options{Concurrency: limit})
	p.query = func(_ context.Context, _ models.Address, _ Options) (*reply, error) {
		cur := inflight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)

		return &reply{name: "srv", players: 1, maxPlayers: 60}, nil
	}

	count := 0
	for range p.ProbeAll(context.Background(), addrList(40)) {
		count++
	}

	assert.Equal(t, 40, count)
	assert.LessOrEqual(t, peak.Load(), int32(limit), "in-flight probes must never exceed the concurrency limit")
}

func TestProbeAllCompletionOrder(t *testing.T) {
	delays := map[string]time.Duration{
		"192.0.2.1": 60 * time.Millisecond,
		"192.0.2.2": 5 * time.Millisecond,
		"192.0.2.3": 30 * time.Millisecond,
	}

	p := New(Options{Concurrency: 3})
	p.query = func(_ context.Context, addr models.Address, _ Options) (*reply, error) {
		time.Sleep(delays[addr.IP])
		return &reply{name: addr.IP}, nil
	}

	var order []string
	for res := range p.ProbeAll(context.Background(), addrList(3)) {
		order = append(order, res.Addr.IP)
	}

	require.Len(t, order, 3)
	assert.Equal(t, []string{"192.0.2.2", "192.0.2.3", "192.0.2.1"}, order,
		"results arrive in completion order, not submission order")
}

func TestProbeAllUnreachable(t *testing.T) {
	p := New(Options{})
	p.query = func(_ context.Context, addr models.Address, _ Options) (*reply, error) {
		if addr.IP == "192.0.2.2" {
			return nil, errors.New("i/o timeout")
		}
		return &reply{name: "up", players: 3, maxPlayers: 60}, nil
	}

	results := make(map[string]Result)
	for res := range p.ProbeAll(context.Background(), addrList(3)) {
		results[res.Addr.IP] = res
	}

	require.Len(t, results, 3)
	assert.True(t, results["192.0.2.1"].Reachable)
	assert.False(t, results["192.0.2.2"].Reachable, "a timeout is an expected outcome, not an error")
	assert.True(t, results["192.0.2.3"].Reachable)
	assert.GreaterOrEqual(t, results["192.0.2.1"].PingMs, 0)
}

func TestProbeAllClampsCounters(t *testing.T) {
	p := New(Options{})
	p.query = func(_ context.Context, _ models.Address, _ Options) (*reply, error) {
		return &reply{name: "crowded", players: 90, maxPlayers: 60}, nil
	}

	for res := range p.ProbeAll(context.Background(), addrList(1)) {
		assert.Equal(t, 60, res.Players, "player count never exceeds capacity")
		assert.Equal(t, 60, res.MaxPlayers)
	}
}

func TestProbeAllPingCap(t *testing.T) {
	p := New(Options{MaxPingMs: 10})
	p.query = func(_ context.Context, _ models.Address, _ Options) (*reply, error) {
		time.Sleep(30 * time.Millisecond)
		return &reply{name: "slow"}, nil
	}

	for res := range p.ProbeAll(context.Background(), addrList(1)) {
		assert.False(t, res.Reachable, "an exchange over the ping cap counts as unreachable")
	}
}

func TestProbeAllCancelStopsAdmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int32
	p := New(Options{Concurrency: 1})
	p.query = func(_ context.Context, _ models.Address, _ Options) (*reply, error) {
		started.Add(1)
		time.Sleep(10 * time.Millisecond)
		return &reply{}, nil
	}

	results := p.ProbeAll(ctx, addrList(20))
	<-results // first probe resolved
	cancel()

	for range results {
	}

	assert.Less(t, started.Load(), int32(20), "canceled runs stop admitting queued addresses")
}
