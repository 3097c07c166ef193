package storage

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/woozymasta/radar/internal/models"
)

// Memory is the in-process fallback store used when the SQLite cache cannot
// be opened or starts failing mid-run. Same semantics, nothing survives the
// process.
type Memory struct {
	records map[models.Address]models.ServerRecord
	fetches map[uint64]time.Time
	mu      sync.RWMutex
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[models.Address]models.ServerRecord),
		fetches: make(map[uint64]time.Time),
	}
}

// Seed copies existing records into the store, used when degrading from a
// failing SQLite repository mid-cycle.
func (m *Memory) Seed(records []models.ServerRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		m.records[rec.Address] = rec
	}
}

// UpsertBatch merges the records, keeping the non-regression rules of the
// SQLite path: last_seen only moves forward, a known ping survives a merge
// without one.
func (m *Memory) UpsertBatch(records []models.ServerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		rec.Active = true
		if prev, ok := m.records[rec.Address]; ok {
			if rec.LastSeen.Before(prev.LastSeen) {
				rec.LastSeen = prev.LastSeen
			}
			if rec.Ping == nil {
				rec.Ping = prev.Ping
			}
			if rec.Country == "" {
				rec.Country = prev.Country
			}
		}
		m.records[rec.Address] = rec
	}

	return nil
}

// UpdatePing records a successful probe.
func (m *Memory) UpdatePing(addr models.Address, pingMs, players int, observedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[addr]
	if !ok {
		return nil
	}

	ping := pingMs
	rec.Ping = &ping
	rec.Players = players
	rec.Active = true
	if observedAt.After(rec.LastSeen) {
		rec.LastSeen = observedAt
	}
	m.records[addr] = rec

	return nil
}

// MarkUnreachable clears the ping of a server that did not answer.
func (m *Memory) MarkUnreachable(addr models.Address, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[addr]
	if !ok {
		return nil
	}

	rec.Ping = nil
	m.records[addr] = rec

	return nil
}

// Get returns one record by address, nil when absent.
func (m *Memory) Get(addr models.Address) (*models.ServerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[addr]
	if !ok {
		return nil, nil
	}

	return &rec, nil
}

// GetAll returns active records matching the filter, ordered by player count.
func (m *Memory) GetAll(filter *models.FilterCriteria) ([]models.ServerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ServerRecord
	for _, rec := range m.records {
		if !rec.Active || !matches(&rec, filter) {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Players != out[j].Players {
			return out[i].Players > out[j].Players
		}
		return out[i].Name < out[j].Name
	})

	return out, nil
}

// GetTopServers returns up to n records ordered by the sort key, inactive
// rows included.
func (m *Memory) GetTopServers(n int, key SortKey) ([]models.ServerRecord, error) {
	m.mu.RLock()
	out := make([]models.ServerRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		switch key {
		case SortByPing:
			if (a.Ping == nil) != (b.Ping == nil) {
				return b.Ping == nil
			}
			if a.Ping != nil && *a.Ping != *b.Ping {
				return *a.Ping < *b.Ping
			}
			return a.Players > b.Players
		case SortByName:
			return a.Name < b.Name
		default:
			if a.Players != b.Players {
				return a.Players > b.Players
			}
			return a.Name < b.Name
		}
	})

	if len(out) > n {
		out = out[:n]
	}

	return out, nil
}

// PruneStale deactivates records not seen within maxAge.
func (m *Memory) PruneStale(maxAge time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var touched int64
	for addr, rec := range m.records {
		if rec.Active && rec.LastSeen.Before(cutoff) {
			rec.Active = false
			m.records[addr] = rec
			touched++
		}
	}

	return touched, nil
}

// DeleteInactive removes records not seen within maxAge.
func (m *Memory) DeleteInactive(maxAge time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var deleted int64
	for addr, rec := range m.records {
		if rec.LastSeen.Before(cutoff) {
			delete(m.records, addr)
			deleted++
		}
	}

	return deleted, nil
}

// LastFetch reports when a fetch with this fingerprint last completed.
func (m *Memory) LastFetch(fingerprint uint64) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	at, ok := m.fetches[fingerprint]

	return at, ok, nil
}

// RecordFetch stores the completion time of a catalog fetch.
func (m *Memory) RecordFetch(fingerprint uint64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetches[fingerprint] = at

	return nil
}

// Stats returns cache content counters.
func (m *Memory) Stats() (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{BySource: make(map[models.SourceKind]int)}
	for _, rec := range m.records {
		stats.Total++
		if rec.Active {
			stats.Active++
			stats.BySource[rec.Source]++
		}
	}

	return stats, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}

func matches(rec *models.ServerRecord, filter *models.FilterCriteria) bool {
	if filter == nil {
		return true
	}

	if codes := filter.CountryCodes(); len(codes) > 0 {
		found := false
		for _, cc := range codes {
			if rec.Country == cc {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.Kind != "" && rec.Source != filter.Kind {
		return false
	}
	if filter.Search != "" && !strings.Contains(strings.ToLower(rec.Name), strings.ToLower(filter.Search)) {
		return false
	}
	if filter.Modded != nil && rec.Modded != *filter.Modded {
		return false
	}

	return true
}
