package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woozymasta/radar/internal/models"
)

func TestMemoryUpsertSemantics(t *testing.T) {
	mem := NewMemory()
	now := time.Now()
	addr := models.Address{IP: "192.0.2.1", Port: 2302}

	require.NoError(t, mem.UpsertBatch([]models.ServerRecord{record(addr.IP, addr.Port, "alpha", now)}))
	require.NoError(t, mem.UpdatePing(addr, 77, 30, now))

	// A merge without a ping must not erase the measured one, and an older
	// last_seen must not regress the stored one.
	require.NoError(t, mem.UpsertBatch([]models.ServerRecord{record(addr.IP, addr.Port, "alpha", now.Add(-time.Hour))}))

	got, err := mem.Get(addr)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.Ping)
	assert.Equal(t, 77, *got.Ping)
	assert.WithinDuration(t, now, got.LastSeen, time.Second)
}

func TestMemoryPruneAndFallback(t *testing.T) {
	mem := NewMemory()
	now := time.Now()

	stale := record("192.0.2.2", 2302, "stale", now.Add(-3*time.Hour))
	stale.Players = 40
	require.NoError(t, mem.UpsertBatch([]models.ServerRecord{
		record("192.0.2.1", 2302, "fresh", now),
		stale,
	}))

	touched, err := mem.PruneStale(2 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), touched)

	all, err := mem.GetAll(nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "fresh", all[0].Name)

	top, err := mem.GetTopServers(10, SortByPlayers)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "stale", top[0].Name)

	deleted, err := mem.DeleteInactive(2 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestMemoryFilters(t *testing.T) {
	mem := NewMemory()
	now := time.Now()

	a := record("192.0.2.1", 2302, "Berlin Nights", now)
	b := record("192.0.2.2", 2302, "Tokyo Drift", now)
	b.Country = "JP"

	require.NoError(t, mem.UpsertBatch([]models.ServerRecord{a, b}))

	got, err := mem.GetAll(&models.FilterCriteria{Countries: []string{"JP"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Tokyo Drift", got[0].Name)

	got, err = mem.GetAll(&models.FilterCriteria{Search: "BERLIN"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Berlin Nights", got[0].Name)
}

func TestMemoryFetchLog(t *testing.T) {
	mem := NewMemory()

	_, found, err := mem.LastFetch(1)
	require.NoError(t, err)
	assert.False(t, found)

	at := time.Now()
	require.NoError(t, mem.RecordFetch(1, at))

	got, found, err := mem.LastFetch(1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, at, got)
}
