package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Driver sqlite

	"github.com/woozymasta/radar/internal/models"
)

// Repository manages the SQLite database connection.
type Repository struct {
	db *sql.DB
}

// New initializes a new SQLite connection, sets connection pool parameters,
// and runs migrations. WAL mode with a busy timeout lets the bulk catalog
// merge and the per-probe write-back interleave without deadlocking.
func New(dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

const upsertQuery = `
	INSERT INTO servers (
		ip, port, name, map_name, country, source, modded,
		players, max_players, ping, active, last_seen, fetched_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT(ip, port) DO UPDATE SET
		name        = excluded.name,
		map_name    = excluded.map_name,
		source      = excluded.source,
		modded      = excluded.modded,
		players     = excluded.players,
		max_players = excluded.max_players,
		active      = 1,
		fetched_at  = excluded.fetched_at,

		-- Keep the measured ping when the incoming row has none
		ping = CASE WHEN excluded.ping IS NOT NULL THEN excluded.ping ELSE servers.ping END,

		-- Keep the country when the incoming row is blank
		country = CASE WHEN excluded.country != '' THEN excluded.country ELSE servers.country END,

		-- last_seen never regresses
		last_seen = MAX(servers.last_seen, excluded.last_seen);
`

// UpsertBatch merges the records into the cache in one transaction.
func (r *Repository) UpsertBatch(records []models.ServerRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(upsertQuery)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		if _, err := stmt.Exec(
			rec.Address.IP, rec.Address.Port, rec.Name, rec.Map, rec.Country,
			string(rec.Source), rec.Modded, rec.Players, rec.MaxPlayers,
			pingValue(rec.Ping), rec.LastSeen, rec.FetchedAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert %s: %w", rec.Address, err)
		}
	}

	return tx.Commit()
}

// UpdatePing records a successful probe: measured ping, fresh player count,
// and a non-regressing last_seen.
func (r *Repository) UpdatePing(addr models.Address, pingMs, players int, observedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE servers
		SET ping = ?, players = ?, active = 1, last_seen = MAX(last_seen, ?)
		WHERE ip = ? AND port = ?
	`, pingMs, players, observedAt, addr.IP, addr.Port)

	return err
}

// MarkUnreachable clears the ping of a server that did not answer its probe.
// last_seen is left alone: an unanswered probe is not an observation.
func (r *Repository) MarkUnreachable(addr models.Address, _ time.Time) error {
	_, err := r.db.Exec(`
		UPDATE servers
		SET ping = NULL
		WHERE ip = ? AND port = ?
	`, addr.IP, addr.Port)

	return err
}

const selectColumns = `
	ip, port, name, map_name, country, source, modded,
	players, max_players, ping, active, last_seen, fetched_at`

// Get retrieves a specific record by its address, nil when not found.
func (r *Repository) Get(addr models.Address) (*models.ServerRecord, error) {
	row := r.db.QueryRow(
		`SELECT`+selectColumns+` FROM servers WHERE ip = ? AND port = ?`,
		addr.IP, addr.Port,
	)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// GetAll retrieves active records, optionally narrowed by filter criteria,
// ordered by player count.
func (r *Repository) GetAll(filter *models.FilterCriteria) ([]models.ServerRecord, error) {
	query := `SELECT` + selectColumns + ` FROM servers WHERE active = 1`
	var args []any

	if filter != nil {
		if codes := filter.CountryCodes(); len(codes) > 0 {
			query += ` AND country IN (?` + strings.Repeat(",?", len(codes)-1) + `)`
			for _, cc := range codes {
				args = append(args, cc)
			}
		}
		if filter.Kind != "" {
			query += ` AND source = ?`
			args = append(args, string(filter.Kind))
		}
		if filter.Search != "" {
			query += ` AND LOWER(name) LIKE ?`
			args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		}
		if filter.Modded != nil {
			query += ` AND modded = ?`
			args = append(args, *filter.Modded)
		}
	}

	query += ` ORDER BY players DESC, name ASC`

	return r.queryRecords(query, args...)
}

// GetTopServers returns up to n records ordered by the sort key. Inactive
// rows are included so a total fetch failure can still serve cached data.
func (r *Repository) GetTopServers(n int, key SortKey) ([]models.ServerRecord, error) {
	var order string
	switch key {
	case SortByPing:
		order = `ping IS NULL, ping ASC, players DESC`
	case SortByName:
		order = `name ASC`
	default:
		order = `players DESC, ping ASC, name ASC`
	}

	query := `SELECT` + selectColumns + ` FROM servers ORDER BY ` + order + ` LIMIT ?`

	return r.queryRecords(query, n)
}

// PruneStale deactivates rows whose last_seen exceeds maxAge.
func (r *Repository) PruneStale(maxAge time.Duration) (int64, error) {
	res, err := r.db.Exec(
		`UPDATE servers SET active = 0 WHERE active = 1 AND last_seen < ?`,
		time.Now().Add(-maxAge),
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// DeleteInactive hard-deletes rows whose last_seen exceeds maxAge.
func (r *Repository) DeleteInactive(maxAge time.Duration) (int64, error) {
	res, err := r.db.Exec(
		`DELETE FROM servers WHERE last_seen < ?`,
		time.Now().Add(-maxAge),
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// LastFetch reports when a catalog fetch with this criteria fingerprint last
// completed.
func (r *Repository) LastFetch(fingerprint uint64) (time.Time, bool, error) {
	var at time.Time
	err := r.db.QueryRow(
		`SELECT fetched_at FROM fetches WHERE criteria = ?`,
		fingerprintKey(fingerprint),
	).Scan(&at)

	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	return at, true, nil
}

// RecordFetch stores the completion time of a catalog fetch.
func (r *Repository) RecordFetch(fingerprint uint64, at time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO fetches (criteria, fetched_at) VALUES (?, ?)
		ON CONFLICT(criteria) DO UPDATE SET fetched_at = excluded.fetched_at
	`, fingerprintKey(fingerprint), at)

	return err
}

// Stats returns cache content counters.
func (r *Repository) Stats() (Stats, error) {
	stats := Stats{BySource: make(map[models.SourceKind]int)}

	if err := r.db.QueryRow(`SELECT COUNT(*) FROM servers`).Scan(&stats.Total); err != nil {
		return stats, err
	}
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM servers WHERE active = 1`).Scan(&stats.Active); err != nil {
		return stats, err
	}

	rows, err := r.db.Query(`SELECT source, COUNT(*) FROM servers WHERE active = 1 GROUP BY source`)
	if err != nil {
		return stats, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			continue
		}
		stats.BySource[models.SourceKind(source)] = count
	}

	return stats, rows.Err()
}

func (r *Repository) queryRecords(query string, args ...any) ([]models.ServerRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []models.ServerRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			continue
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.ServerRecord, error) {
	var rec models.ServerRecord
	var source string
	var ping sql.NullInt64

	if err := s.Scan(
		&rec.Address.IP, &rec.Address.Port, &rec.Name, &rec.Map, &rec.Country,
		&source, &rec.Modded, &rec.Players, &rec.MaxPlayers,
		&ping, &rec.Active, &rec.LastSeen, &rec.FetchedAt,
	); err != nil {
		return nil, err
	}

	rec.Source = models.SourceKind(source)
	if ping.Valid {
		v := int(ping.Int64)
		rec.Ping = &v
	}

	return &rec, nil
}

func pingValue(ping *int) any {
	if ping == nil {
		return nil
	}

	return *ping
}

// fingerprintKey renders the criteria hash as text; SQLite integers are
// signed 64-bit and would mangle the upper half of the hash space.
func fingerprintKey(fp uint64) string {
	return strconv.FormatUint(fp, 16)
}
