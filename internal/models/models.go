// Package models defines the data structures shared between the catalog
// client, the cache store, the prober and the refresh orchestrator.
package models

import (
	"fmt"
	"strings"
	"time"
)

// SourceKind classifies a server by how it is operated.
type SourceKind string

// Known server source kinds.
const (
	SourceOfficial  SourceKind = "official"
	SourceCommunity SourceKind = "community"
	SourcePrivate   SourceKind = "private"
)

// Address identifies a server endpoint. It is the stable identity key for
// every record in the cache.
type Address struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// String returns the address in "ip:port" form.
func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// ServerRecord is one discovered server, as merged from the catalog listing
// and direct liveness probes.
type ServerRecord struct {
	// LastSeen is the most recent successful observation, either a catalog
	// listing or a completed probe. Never regresses for a given address.
	LastSeen time.Time `json:"last_seen"`

	// FetchedAt is the catalog fetch that produced or refreshed this row.
	FetchedAt time.Time `json:"fetched_at"`

	Name    string     `json:"name"`
	Map     string     `json:"map"`
	Country string     `json:"country"`
	Source  SourceKind `json:"source"`

	Address Address `json:"address"`

	Players    int `json:"players"`
	MaxPlayers int `json:"max_players"`

	// Ping is the measured round-trip time in milliseconds, nil while the
	// server has not answered a probe.
	Ping *int `json:"ping"`

	Modded bool `json:"modded"`

	// Active is cleared by pruning once the record has not been seen for
	// longer than the staleness horizon.
	Active bool `json:"active"`
}

// Reachable reports whether the record carries a measured ping.
func (r *ServerRecord) Reachable() bool {
	return r.Ping != nil
}

// ClampCounts normalizes player counters arriving from the catalog or a
// probe reply: negatives become zero and players never exceeds maxPlayers
// when a capacity is known.
func ClampCounts(players, maxPlayers int) (int, int) {
	if maxPlayers < 0 {
		maxPlayers = 0
	}
	if players < 0 {
		players = 0
	}
	if maxPlayers > 0 && players > maxPlayers {
		players = maxPlayers
	}

	return players, maxPlayers
}

// InferSourceKind guesses the operator kind from a server name when the
// catalog row does not state it. Heuristics follow the common naming habits
// of public hives.
func InferSourceKind(name string, private bool) SourceKind {
	lower := strings.ToLower(name)

	if private {
		return SourcePrivate
	}
	for _, kw := range []string{"private", "whitelist", "closed", "invite"} {
		if strings.Contains(lower, kw) {
			return SourcePrivate
		}
	}

	if strings.Contains(lower, "official") && !strings.ContainsAny(lower, "[]|~!") {
		return SourceOfficial
	}

	return SourceCommunity
}
