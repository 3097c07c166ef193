// Package browser drives refresh cycles end to end: decide cache-warm vs.
// catalog fetch, merge candidates into the cache, fan probes out under
// bounded concurrency, and stream incremental updates to the consumer until
// the cycle completes, fails, or is superseded by a newer one.
package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/woozymasta/radar/internal/faults"
	"github.com/woozymasta/radar/internal/models"
	"github.com/woozymasta/radar/internal/probe"
	"github.com/woozymasta/radar/internal/storage"
	"github.com/woozymasta/radar/internal/stream"
)

// CatalogClient fetches filtered candidate listings from the remote catalog.
type CatalogClient interface {
	FetchCatalog(ctx context.Context, criteria models.FilterCriteria, limit int) ([]models.ServerRecord, error)
}

// Prober issues bounded-concurrency liveness probes with completion-ordered
// results.
type Prober interface {
	ProbeAll(ctx context.Context, addrs []models.Address) <-chan probe.Result
}

// CountryResolver maps an IP address to an ISO country code. geoip.Provider
// satisfies it; nil disables enrichment.
type CountryResolver interface {
	CountryCode(ip string) string
}

// Options tunes the refresh orchestration.
type Options struct {
	// TTL is the staleness window of a catalog fetch; a refresh with
	// equivalent criteria inside it skips the network.
	TTL time.Duration

	// FetchLimit caps the candidate set requested from the catalog.
	FetchLimit int

	// ReadyFraction is the resolved-probe fraction that triggers the
	// PartialReady marker.
	ReadyFraction float64

	// CycleTimeout bounds a whole cycle; unresolved probes are marked
	// unreachable when it elapses.
	CycleTimeout time.Duration

	// Cooldown keeps the catalog off-limits after a rate-limit response.
	Cooldown time.Duration

	// TopFallback is how many cached rows are served when a cycle fails.
	TopFallback int

	// PruneAfter deactivates rows not seen for this long.
	PruneAfter time.Duration

	// DeleteAfter hard-deletes rows not seen for this long.
	DeleteAfter time.Duration

	// JanitorInterval paces the periodic prune. Zero disables it.
	JanitorInterval time.Duration
}

// Browser is the refresh orchestrator. One instance owns the update stream
// and at most one active refresh generation at a time.
type Browser struct {
	store   storage.Store
	catalog CatalogClient
	prober  Prober
	geo     CountryResolver
	events  *stream.Stream

	ctx    context.Context
	cancel context.CancelFunc

	cancelCycle context.CancelCauseFunc

	generation    atomic.Uint64
	cooldownUntil atomic.Int64
	degraded      atomic.Bool

	opts Options

	storeMu sync.RWMutex
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// New creates a Browser over the given collaborators. geo may be nil. The
// janitor goroutine starts immediately when enabled.
func New(store storage.Store, catalog CatalogClient, prober Prober, geo CountryResolver, opts Options) *Browser {
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 200
	}
	if opts.ReadyFraction <= 0 || opts.ReadyFraction > 1 {
		opts.ReadyFraction = 0.6
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = 90 * time.Second
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 5 * time.Minute
	}
	if opts.TopFallback <= 0 {
		opts.TopFallback = 50
	}
	if opts.PruneAfter <= 0 {
		opts.PruneAfter = 2 * time.Hour
	}
	if opts.DeleteAfter <= 0 {
		opts.DeleteAfter = 24 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Browser{
		store:   store,
		catalog: catalog,
		prober:  prober,
		geo:     geo,
		events:  stream.New(),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	if opts.JanitorInterval > 0 {
		b.wg.Add(1)
		go b.janitor()
	}

	return b
}

// Updates returns the single-subscriber event stream.
func (b *Browser) Updates() <-chan stream.Event {
	return b.events.Events()
}

// CurrentServers returns the active cached records.
func (b *Browser) CurrentServers() ([]models.ServerRecord, error) {
	return b.getStore().GetAll(nil)
}

// Stats returns cache content counters.
func (b *Browser) Stats() (storage.Stats, error) {
	return b.getStore().Stats()
}

// RequestRefresh validates the criteria and starts a new refresh cycle,
// superseding any cycle still in flight. It returns the new generation id.
func (b *Browser) RequestRefresh(criteria models.FilterCriteria, force bool) (uint64, error) {
	if err := criteria.Validate(); err != nil {
		return 0, err
	}

	// Generation assignment and cancel registration must be atomic together,
	// or a racing older request could cancel the newer cycle's context.
	b.mu.Lock()
	gen := b.generation.Add(1)
	if b.cancelCycle != nil {
		// Supersede: the old cycle's probes drain, their results are dropped
		// at the write-back boundary by the generation check.
		b.cancelCycle(faults.ErrSuperseded)
	}
	base, cancelCause := context.WithCancelCause(b.ctx)
	cycleCtx, cancelTimeout := context.WithTimeout(base, b.opts.CycleTimeout)
	b.cancelCycle = cancelCause
	b.mu.Unlock()

	cancel := func() {
		cancelTimeout()
		cancelCause(nil)
	}

	b.wg.Add(1)
	go b.runCycle(cycleCtx, cancel, gen, criteria, force)

	return gen, nil
}

// Close supersedes any in-flight cycle, waits for its probes to drain, and
// closes the event stream.
func (b *Browser) Close() {
	b.cancel()
	b.wg.Wait()
	b.events.Close()
}

// current reports whether gen is still the newest generation.
func (b *Browser) current(gen uint64) bool {
	return b.generation.Load() == gen
}

func (b *Browser) getStore() storage.Store {
	b.storeMu.RLock()
	defer b.storeMu.RUnlock()

	return b.store
}

// degrade swaps the persistent store for an in-memory one seeded with the
// given records. The process keeps running without persistence.
func (b *Browser) degrade(seed []models.ServerRecord, cause error) storage.Store {
	b.storeMu.Lock()
	defer b.storeMu.Unlock()

	if b.degraded.Load() {
		return b.store
	}

	log.Error().Err(cause).Msg("Cache store failing, degrading to in-memory cache")

	mem := storage.NewMemory()
	mem.Seed(seed)
	b.store = mem
	b.degraded.Store(true)

	return mem
}

// janitor periodically deactivates stale rows and hard-deletes long-inactive
// ones.
func (b *Browser) janitor() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.opts.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			store := b.getStore()
			if n, err := store.PruneStale(b.opts.PruneAfter); err != nil {
				log.Error().Err(err).Msg("Prune failed")
			} else if n > 0 {
				log.Debug().Int64("rows", n).Msg("Deactivated stale servers")
			}
			if n, err := store.DeleteInactive(b.opts.DeleteAfter); err != nil {
				log.Error().Err(err).Msg("Hard delete failed")
			} else if n > 0 {
				log.Debug().Int64("rows", n).Msg("Deleted long-inactive servers")
			}
		}
	}
}

// runCycle executes one refresh generation end to end.
func (b *Browser) runCycle(ctx context.Context, cancel context.CancelFunc, gen uint64, criteria models.FilterCriteria, force bool) {
	defer b.wg.Done()
	defer cancel()

	logCtx := log.With().Uint64("generation", gen).Logger()

	candidates, ok := b.gatherCandidates(ctx, logCtx, gen, criteria, force)
	if !ok {
		return
	}
	if len(candidates) == 0 {
		logCtx.Info().Msg("No candidates for refresh")
		b.events.Publish(stream.Event{Kind: stream.KindComplete, Generation: gen})
		return
	}

	b.probeCandidates(ctx, logCtx, gen, candidates)
}

// gatherCandidates runs the Deciding/Fetching/CacheWarm/Merging states and
// returns the probe target set. ok is false when the cycle terminated early
// (failed or superseded).
func (b *Browser) gatherCandidates(ctx context.Context, logCtx zerolog.Logger, gen uint64, criteria models.FilterCriteria, force bool) ([]models.ServerRecord, bool) {
	store := b.getStore()
	fingerprint := criteria.Fingerprint()

	warm := false
	if cooldown := time.Unix(0, b.cooldownUntil.Load()); time.Now().Before(cooldown) {
		// Catalog is off-limits until the cooldown lapses, serve from cache
		// even when forced.
		logCtx.Warn().Time("until", cooldown).Msg("Rate-limit cooldown active, using cache")
		warm = true
	} else if !force {
		if last, found, err := store.LastFetch(fingerprint); err == nil && found && time.Since(last) < b.opts.TTL {
			warm = true
		}
	}

	if warm {
		candidates, err := store.GetAll(&criteria)
		if err != nil {
			store = b.degrade(nil, err)
			candidates, _ = store.GetAll(&criteria)
		}
		logCtx.Info().Int("candidates", len(candidates)).Msg("Cache warm, skipping catalog fetch")
		return candidates, true
	}

	candidates, err := b.catalog.FetchCatalog(ctx, criteria, b.opts.FetchLimit)
	if err != nil {
		kind := stream.FailureNetwork
		if errors.Is(err, faults.ErrRateLimited) {
			kind = stream.FailureRateLimited
			b.cooldownUntil.Store(time.Now().Add(b.opts.Cooldown).UnixNano())
		}
		logCtx.Error().Err(err).Msg("Catalog fetch failed")
		b.failCycle(gen, kind)
		return nil, false
	}

	b.enrichCountries(candidates)

	if err := store.UpsertBatch(candidates); err != nil {
		// Persistent store broke mid-merge: keep going on memory.
		store = b.degrade(candidates, faults.Cache(err))
	}
	if err := store.RecordFetch(fingerprint, time.Now()); err != nil {
		logCtx.Warn().Err(err).Msg("Failed to record fetch time")
	}

	logCtx.Info().Int("candidates", len(candidates)).Msg("Catalog fetch merged")

	return candidates, true
}

// probeCandidates fans the target set out to the prober and streams results
// back as they arrive, finishing the cycle with PartialReady/Complete
// markers. Superseded generations stop writing and emitting immediately.
func (b *Browser) probeCandidates(ctx context.Context, logCtx zerolog.Logger, gen uint64, candidates []models.ServerRecord) {
	byAddr := make(map[models.Address]*models.ServerRecord, len(candidates))
	pending := make(map[models.Address]struct{}, len(candidates))
	addrs := make([]models.Address, 0, len(candidates))

	for i := range candidates {
		rec := &candidates[i]
		byAddr[rec.Address] = rec
		pending[rec.Address] = struct{}{}
		addrs = append(addrs, rec.Address)
	}

	total := len(addrs)
	resolved := 0
	partialSent := false

	for res := range b.prober.ProbeAll(ctx, addrs) {
		if !b.current(gen) {
			// Superseded: let the pool drain, drop everything at the
			// write-back boundary.
			logCtx.Debug().Msg("Cycle superseded, discarding probe results")
			return
		}

		rec, known := byAddr[res.Addr]
		if !known {
			continue
		}
		delete(pending, res.Addr)
		resolved++

		b.applyResult(rec, res)
		b.events.Publish(stream.Event{Kind: stream.KindServerUpdated, Server: rec, Generation: gen})

		if !partialSent && float64(resolved)/float64(total) >= b.opts.ReadyFraction {
			partialSent = true
			logCtx.Info().Int("resolved", resolved).Int("total", total).Msg("Partial results ready")
			b.events.Publish(stream.Event{Kind: stream.KindPartialReady, Generation: gen})
		}
	}

	if !b.current(gen) {
		return
	}

	// Anything unresolved when the pool drained (cycle timeout) is
	// unreachable, not pending forever.
	for addr := range pending {
		rec := byAddr[addr]
		rec.Ping = nil
		if err := b.getStore().MarkUnreachable(addr, time.Now()); err != nil {
			b.degrade(candidates, faults.Cache(err))
		}
		b.events.Publish(stream.Event{Kind: stream.KindServerUpdated, Server: rec, Generation: gen})
	}

	logCtx.Info().Int("resolved", resolved).Int("timed_out", len(pending)).Msg("Refresh cycle complete")
	b.events.Publish(stream.Event{Kind: stream.KindComplete, Generation: gen})
}

// applyResult merges one probe outcome into the candidate record and writes
// it back to the cache.
func (b *Browser) applyResult(rec *models.ServerRecord, res probe.Result) {
	now := time.Now()
	store := b.getStore()

	if !res.Reachable {
		rec.Ping = nil
		if err := store.MarkUnreachable(res.Addr, now); err != nil {
			store = b.degrade(nil, faults.Cache(err))
			_ = store.MarkUnreachable(res.Addr, now)
		}
		return
	}

	ping := res.PingMs
	rec.Ping = &ping
	rec.Players = res.Players
	if res.MaxPlayers > 0 {
		rec.MaxPlayers = res.MaxPlayers
	}
	if res.Name != "" {
		rec.Name = res.Name
	}
	if res.Map != "" {
		rec.Map = res.Map
	}
	rec.LastSeen = now

	if err := store.UpdatePing(res.Addr, ping, res.Players, now); err != nil {
		store = b.degrade(nil, faults.Cache(err))
		_ = store.UpdatePing(res.Addr, ping, res.Players, now)
	}
}

// failCycle serves best-effort cached rows and emits the terminal Failed
// marker, so the consumer never faces an empty screen when the cache has
// anything at all.
func (b *Browser) failCycle(gen uint64, kind stream.FailureKind) {
	fallback, err := b.getStore().GetTopServers(b.opts.TopFallback, storage.SortByPlayers)
	if err != nil {
		log.Error().Err(err).Msg("Cache fallback failed")
	}

	for i := range fallback {
		if !b.current(gen) {
			return
		}
		b.events.Publish(stream.Event{Kind: stream.KindServerUpdated, Server: &fallback[i], Generation: gen})
	}

	if b.current(gen) {
		b.events.Publish(stream.Event{Kind: stream.KindFailed, Failure: kind, Generation: gen})
	}
}

// enrichCountries fills in missing country codes from the GeoIP database.
func (b *Browser) enrichCountries(records []models.ServerRecord) {
	if b.geo == nil {
		return
	}

	for i := range records {
		if records[i].Country == "" {
			records[i].Country = b.geo.CountryCode(records[i].Address.IP)
		}
	}
}
