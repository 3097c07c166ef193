// Package probe queries game servers directly over the Source Engine Query
// (A2S) protocol: a bounded worker pool issues one best-effort UDP exchange
// per endpoint and yields results in completion order.
package probe

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/a2s/pkg/a2s"

	"github.com/woozymasta/radar/internal/models"
)

// Options configures probing behavior.
type Options struct {
	// Timeout bounds a single query/response exchange.
	Timeout time.Duration

	// Concurrency caps the number of simultaneously in-flight probes.
	Concurrency int

	// MaxPingMs clamps the accepted round-trip time; slower exchanges count
	// as unreachable.
	MaxPingMs int

	// BufferSize is the A2S response buffer size.
	BufferSize uint16
}

// Result is the outcome of one probe. Unreachable is an expected terminal
// outcome, not an error.
type Result struct {
	Name       string
	Map        string
	Addr       models.Address
	PingMs     int
	Players    int
	MaxPlayers int
	Reachable  bool
}

// reply is the subset of the A2S_INFO response the pipeline uses.
type reply struct {
	name       string
	mapName    string
	players    int
	maxPlayers int
}

// queryFunc performs one query/response exchange. Swappable in tests.
type queryFunc func(ctx context.Context, addr models.Address, opts Options) (*reply, error)

// Prober issues bounded-concurrency liveness probes.
type Prober struct {
	query queryFunc
	opts  Options
}

// New creates a Prober, applying defaults for zero options.
func New(opts Options) *Prober {
	if opts.Timeout <= 0 {
		opts.Timeout = 1500 * time.Millisecond
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 64
	}
	if opts.MaxPingMs <= 0 {
		opts.MaxPingMs = 2000
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = 1400
	}

	return &Prober{opts: opts, query: queryA2S}
}

// ProbeAll submits the addresses to the worker pool and returns a channel of
// results in completion order. The channel is closed once every submitted
// probe has resolved or the context is canceled; a canceled run simply stops
// admitting queued addresses, in-flight exchanges drain on their own timeout.
// The sequence is not restartable.
func (p *Prober) ProbeAll(ctx context.Context, addrs []models.Address) <-chan Result {
	jobs := make(chan models.Address, len(addrs))
	results := make(chan Result, len(addrs))

	workers := p.opts.Concurrency
	if workers > len(addrs) {
		workers = len(addrs)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for addr := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				results <- p.probeOne(ctx, addr)
			}
		}()
	}

	for _, addr := range addrs {
		jobs <- addr
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// probeOne runs a single exchange and measures its round-trip time.
func (p *Prober) probeOne(ctx context.Context, addr models.Address) Result {
	start := time.Now()

	info, err := p.query(ctx, addr, p.opts)
	if err != nil {
		log.Trace().Err(err).Str("addr", addr.String()).Msg("Probe unreachable")
		return Result{Addr: addr}
	}

	ping := int(time.Since(start).Milliseconds())
	if ping > p.opts.MaxPingMs {
		log.Trace().Int("ping", ping).Str("addr", addr.String()).Msg("Probe over ping cap")
		return Result{Addr: addr}
	}

	players, maxPlayers := models.ClampCounts(info.players, info.maxPlayers)

	return Result{
		Addr:       addr,
		Name:       info.name,
		Map:        info.mapName,
		Players:    players,
		MaxPlayers: maxPlayers,
		PingMs:     ping,
		Reachable:  true,
	}
}

// queryA2S connects to a game server via UDP and requests A2S_INFO.
func queryA2S(_ context.Context, addr models.Address, opts Options) (*reply, error) {
	client, err := a2s.New(addr.IP, addr.Port)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	client.BufferSize = opts.BufferSize
	client.Timeout = opts.Timeout

	info, err := client.GetInfo()
	if err != nil {
		return nil, err
	}

	return &reply{
		name:       info.Name,
		mapName:    info.Map,
		players:    int(info.Players),
		maxPlayers: int(info.MaxPlayers),
	}, nil
}
