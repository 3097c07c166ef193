// Package storage handles the persistent server cache: schema migrations,
// batched catalog merges and the fine-grained probe write-back path, backed
// by SQLite with an in-memory fallback.
package storage

import (
	"time"

	"github.com/woozymasta/radar/internal/models"
)

// SortKey selects the ordering of GetTopServers.
type SortKey string

// Supported sort keys.
const (
	SortByPlayers SortKey = "players"
	SortByPing    SortKey = "ping"
	SortByName    SortKey = "name"
)

// Stats summarizes the cache content.
type Stats struct {
	BySource map[models.SourceKind]int
	Total    int
	Active   int
}

// Store is the cache contract used by the orchestrator. Repository implements
// it on SQLite; Memory implements it for the degraded in-process mode.
type Store interface {
	// UpsertBatch atomically merges a catalog page into the cache. LastSeen
	// never regresses, a known ping survives a merge that carries none.
	UpsertBatch(records []models.ServerRecord) error

	// UpdatePing is the narrow probe write-back path. It must interleave
	// safely with a concurrent UpsertBatch.
	UpdatePing(addr models.Address, pingMs, players int, observedAt time.Time) error

	// MarkUnreachable clears the ping of a server that failed its probe.
	MarkUnreachable(addr models.Address, observedAt time.Time) error

	// Get returns one record by address, nil when absent.
	Get(addr models.Address) (*models.ServerRecord, error)

	// GetAll returns active records, optionally narrowed by filter criteria.
	GetAll(filter *models.FilterCriteria) ([]models.ServerRecord, error)

	// GetTopServers returns up to n records ordered by the sort key,
	// including inactive rows so a failed fetch can still fall back on them.
	GetTopServers(n int, key SortKey) ([]models.ServerRecord, error)

	// PruneStale deactivates rows not seen within maxAge and returns the
	// number of rows touched. Rows are kept for fallback, not deleted.
	PruneStale(maxAge time.Duration) (int64, error)

	// DeleteInactive hard-deletes rows not seen within maxAge.
	DeleteInactive(maxAge time.Duration) (int64, error)

	// LastFetch reports when a fetch with the given criteria fingerprint
	// last completed.
	LastFetch(fingerprint uint64) (time.Time, bool, error)

	// RecordFetch stores the completion time of a catalog fetch.
	RecordFetch(fingerprint uint64, at time.Time) error

	// Stats returns cache content counters.
	Stats() (Stats, error)

	Close() error
}
