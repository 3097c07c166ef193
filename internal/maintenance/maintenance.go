// Package maintenance provides one-shot tools for cleaning and re-checking
// the server cache from the command line.
package maintenance

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/radar/internal/browser"
	"github.com/woozymasta/radar/internal/config"
	"github.com/woozymasta/radar/internal/models"
	"github.com/woozymasta/radar/internal/storage"
)

// Run checks if any maintenance flags are set and executes the corresponding
// tasks. Returns true if a task was executed (indicating the program should
// exit).
func Run(cfg *config.Config, store storage.Store, prober browser.Prober) bool {
	switch {
	case cfg.Maintenance.Prune:
		prune(cfg, store)
	case cfg.Maintenance.Recheck:
		recheck(cfg, store, prober)
	default:
		return false
	}

	return true
}

// prune deactivates stale rows and hard-deletes long-inactive ones.
func prune(cfg *config.Config, store storage.Store) {
	log.Info().Msg("Pruning stale servers...")

	deactivated, err := store.PruneStale(cfg.Cache.PruneAfter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune servers")
		return
	}

	deleted, err := store.DeleteInactive(cfg.Cache.DeleteAfter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete inactive servers")
		return
	}

	log.Info().
		Int64("deactivated", deactivated).
		Int64("deleted", deleted).
		Msg("Prune finished")
}

// recheck probes every cached row and writes the outcome back: reachable
// rows get a fresh ping and player count, the rest lose theirs.
func recheck(cfg *config.Config, store storage.Store, prober browser.Prober) {
	records, err := store.GetTopServers(math.MaxInt32, storage.SortByPlayers)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch servers for recheck")
		return
	}
	if len(records) == 0 {
		log.Info().Msg("No servers found for recheck")
		return
	}

	log.Info().Int("count", len(records)).Msg("Starting recheck...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Refresh.CycleTimeout)
	defer cancel()

	addrs := make([]models.Address, 0, len(records))
	for i := range records {
		addrs = append(addrs, records[i].Address)
	}

	var reachable, unreachable int
	for res := range prober.ProbeAll(ctx, addrs) {
		logCtx := log.With().Str("addr", res.Addr.String()).Logger()

		if !res.Reachable {
			unreachable++
			if err := store.MarkUnreachable(res.Addr, time.Now()); err != nil {
				logCtx.Error().Err(err).Msg("Failed to mark server unreachable")
			}
			logCtx.Debug().Msg("Server unreachable")
			continue
		}

		reachable++
		if err := store.UpdatePing(res.Addr, res.PingMs, res.Players, time.Now()); err != nil {
			logCtx.Error().Err(err).Msg("Failed to update server")
		} else {
			logCtx.Trace().Int("ping", res.PingMs).Msg("Server updated")
		}
	}

	log.Info().
		Int("reachable", reachable).
		Int("unreachable", unreachable).
		Msg("Recheck finished")
}
