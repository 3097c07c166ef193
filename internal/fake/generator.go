// Package fake provides utilities for generating random server records for
// testing and development purposes.
package fake

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/radar/internal/models"
	"github.com/woozymasta/radar/internal/storage"
)

// GenerateData populates the storage with a specified number of randomized
// server records: mixed maps, countries, kinds and ping spread.
func GenerateData(store storage.Store, count int) {
	maps := []string{"chernarusplus", "livonia", "namalsk", "takistan", "enoch", "sakhal", "deerisle"}
	countries := []string{"US", "DE", "RU", "FR", "UK", "PL", "CZ", "CA", "AU", "SE", "NL", "ES", "IT", "NO", "NZ"}
	kinds := []models.SourceKind{models.SourceOfficial, models.SourceCommunity, models.SourceCommunity, models.SourcePrivate}

	records := make([]models.ServerRecord, 0, count)
	now := time.Now()

	for i := 0; i < count; i++ {
		seenAgo := time.Duration(rand.Intn(180)) * time.Minute
		maxPlayers := 60 + rand.Intn(4)*20

		rec := models.ServerRecord{
			Name:       fmt.Sprintf("DayZ Server #%d [PvP]", rand.Intn(10000)),
			Map:        maps[rand.Intn(len(maps))],
			Country:    countries[rand.Intn(len(countries))],
			Source:     kinds[rand.Intn(len(kinds))],
			Modded:     rand.Float32() < 0.6,
			Players:    rand.Intn(maxPlayers + 1),
			MaxPlayers: maxPlayers,
			Active:     true,
			LastSeen:   now.Add(-seenAgo),
			FetchedAt:  now.Add(-seenAgo),
			Address: models.Address{
				IP:   fmt.Sprintf("%d.%d.%d.%d", rand.Intn(220)+1, rand.Intn(255), rand.Intn(255), rand.Intn(255)),
				Port: 2302 + rand.Intn(100),
			},
		}

		// 80% of fake servers answered a probe at some point
		if rand.Float32() < 0.8 {
			ping := 15 + rand.Intn(300)
			rec.Ping = &ping
		}

		records = append(records, rec)
	}

	if err := store.UpsertBatch(records); err != nil {
		log.Error().Err(err).Msg("Failed to insert fake data")
		return
	}

	log.Info().Int("count", len(records)).Msg("Fake data generated")
}
