// main is the entry point of the Radar application. It initializes the
// configuration, logger, GeoIP provider and cache, then runs one refresh
// cycle against the catalog and streams the results to the terminal.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/woozymasta/radar/internal/browser"
	"github.com/woozymasta/radar/internal/catalog"
	"github.com/woozymasta/radar/internal/config"
	"github.com/woozymasta/radar/internal/fake"
	"github.com/woozymasta/radar/internal/geoip"
	"github.com/woozymasta/radar/internal/logger"
	"github.com/woozymasta/radar/internal/maintenance"
	"github.com/woozymasta/radar/internal/models"
	"github.com/woozymasta/radar/internal/probe"
	"github.com/woozymasta/radar/internal/storage"
	"github.com/woozymasta/radar/internal/stream"
)

func main() {
	cfg := config.Parse()

	logger.Setup(cfg.Logger)
	log.Info().Msg("Starting radar...")

	// GeoIP update
	var geo browser.CountryResolver
	if !cfg.GeoIP.Disable {
		if err := geoip.EnsureDB(cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
			log.Error().Err(err).Msg("Failed to download GeoIP database")
		}

		provider, err := geoip.Open(cfg.GeoIP.Path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open GeoIP database, country enrichment disabled")
		} else {
			geo = provider
			defer func() {
				if err := provider.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing GeoIP provider")
				}
			}()
		}
	}

	// Cache: degrade to in-memory right away when SQLite cannot open
	var store storage.Store
	repo, err := storage.New(cfg.Cache.Path)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open cache, running with in-memory store")
		store = storage.NewMemory()
	} else {
		store = repo
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing cache")
		}
	}()

	prober := probe.New(probe.Options{
		Timeout:     cfg.Probe.Timeout,
		Concurrency: cfg.Probe.Concurrency,
		MaxPingMs:   cfg.Probe.MaxPing,
		BufferSize:  cfg.Probe.BufferSize,
	})

	// Data generation or cache maintenance
	if cfg.Maintenance.GenerateCount > 0 {
		fake.GenerateData(store, cfg.Maintenance.GenerateCount)
		return
	} else if maintenance.Run(cfg, store, prober) {
		return
	}

	catalogClient := catalog.NewClient(catalog.Options{
		BaseURL:        cfg.Catalog.URL,
		PageSize:       cfg.Catalog.PageSize,
		Timeout:        cfg.Catalog.Timeout,
		MaxAttempts:    cfg.Catalog.Attempts,
		InitialBackoff: cfg.Catalog.Backoff,
		PageRate:       rate.Limit(cfg.Catalog.PagesRate),
	})

	b := browser.New(store, catalogClient, prober, geo, browser.Options{
		TTL:             cfg.Cache.TTL,
		FetchLimit:      cfg.Refresh.Limit,
		ReadyFraction:   cfg.Refresh.ReadyFraction,
		CycleTimeout:    cfg.Refresh.CycleTimeout,
		Cooldown:        cfg.Refresh.Cooldown,
		TopFallback:     cfg.Refresh.TopFallback,
		PruneAfter:      cfg.Cache.PruneAfter,
		DeleteAfter:     cfg.Cache.DeleteAfter,
		JanitorInterval: 10 * time.Minute,
	})

	criteria := cfg.Filter.Criteria()
	if _, err := b.RequestRefresh(criteria, cfg.Filter.Force); err != nil {
		log.Fatal().Err(err).Msg("Invalid filter criteria")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	consumeUpdates(b, quit)

	// Drain in-flight probes before reading the final state
	b.Close()

	printSummary(b)
}

// consumeUpdates reads the event stream until the cycle reaches a terminal
// marker or the process is interrupted.
func consumeUpdates(b *browser.Browser, quit <-chan os.Signal) {
	updated := 0
	reachable := 0

	for {
		select {
		case <-quit:
			log.Warn().Msg("Interrupted, shutting down...")
			return

		case ev, ok := <-b.Updates():
			if !ok {
				return
			}

			switch ev.Kind {
			case stream.KindServerUpdated:
				updated++
				if ev.Server.Reachable() {
					reachable++
					log.Debug().
						Str("name", ev.Server.Name).
						Str("addr", ev.Server.Address.String()).
						Int("ping", *ev.Server.Ping).
						Int("players", ev.Server.Players).
						Msg("Server updated")
				} else {
					log.Debug().
						Str("addr", ev.Server.Address.String()).
						Msg("Server unreachable")
				}

			case stream.KindPartialReady:
				log.Info().Int("resolved", updated).Msg("Partial results ready")

			case stream.KindComplete:
				log.Info().Int("servers", updated).Int("reachable", reachable).Msg("Refresh complete")
				return

			case stream.KindFailed:
				log.Error().Str("cause", string(ev.Failure)).Msg("Refresh failed, showing cached servers")
				return
			}
		}
	}
}

// printSummary renders the cached result set as a table plus cache counters.
func printSummary(b *browser.Browser) {
	servers, err := b.CurrentServers()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read servers")
		return
	}

	const maxRows = 25

	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{"Name", "Address", "Map", "Country", "Kind", "Players", "Ping"})

	for i, srv := range servers {
		if i >= maxRows {
			break
		}
		if err := table.Append(serverRow(&srv)); err != nil {
			log.Error().Err(err).Msg("Error appending to table")
			return
		}
	}

	if err := table.Render(); err != nil {
		log.Error().Err(err).Msg("Error rendering table")
		return
	}

	if stats, err := b.Stats(); err == nil {
		log.Info().
			Int("total", stats.Total).
			Int("active", stats.Active).
			Int("official", stats.BySource[models.SourceOfficial]).
			Int("community", stats.BySource[models.SourceCommunity]).
			Int("private", stats.BySource[models.SourcePrivate]).
			Msg("Cache stats")
	}
}

func serverRow(srv *models.ServerRecord) []string {
	ping := "-"
	if srv.Ping != nil {
		ping = strconv.Itoa(*srv.Ping) + " ms"
	}

	name := srv.Name
	if runes := []rune(name); len(runes) > 40 {
		name = string(runes[:40])
	}

	return []string{
		name,
		srv.Address.String(),
		srv.Map,
		srv.Country,
		string(srv.Source),
		fmt.Sprintf("%d/%d", srv.Players, srv.MaxPlayers),
		ping,
	}
}
