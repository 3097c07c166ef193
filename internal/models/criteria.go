package models

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/woozymasta/radar/internal/faults"
)

// Region is a named group of countries with a fixed expansion table.
type Region string

// Supported regions.
const (
	RegionEurope       Region = "europe"
	RegionNorthAmerica Region = "north_america"
	RegionOceania      Region = "oceania"
)

// regionCountries is the canonical region expansion table. The remote catalog
// only understands explicit country codes, so regions are flattened before a
// request is built.
var regionCountries = map[Region][]string{
	RegionEurope:       {"DE", "FR", "UK", "NL", "SE", "NO", "PL", "IT", "ES"},
	RegionNorthAmerica: {"US", "CA"},
	RegionOceania:      {"AU", "NZ"},
}

// Expand returns the country codes for the region, or nil for an unknown one.
func (r Region) Expand() []string {
	return regionCountries[r]
}

// Valid reports whether the region is present in the expansion table.
func (r Region) Valid() bool {
	_, ok := regionCountries[r]
	return ok
}

// FilterCriteria is the structured shape of a catalog request. The zero value
// asks for an unfiltered listing.
type FilterCriteria struct {
	// Region expands to a fixed country set. Ignored when Countries is set.
	Region Region

	// Countries is an explicit ISO country-code set, taking precedence over
	// Region.
	Countries []string

	// Kind restricts to one server source kind, empty for any.
	Kind SourceKind

	// Search is a free-text substring match against the server name.
	Search string

	// Modded is a tri-state flag: nil for any, false for mod-free servers,
	// true for modded ones.
	Modded *bool
}

// Validate checks the criteria for contradictions before a cycle is started.
func (c *FilterCriteria) Validate() error {
	if c.Region != "" && !c.Region.Valid() {
		return faults.Config("unknown region %q", c.Region)
	}
	if c.Region != "" && len(c.Countries) > 0 {
		return faults.Config("region and explicit country set are mutually exclusive")
	}

	switch c.Kind {
	case "", SourceOfficial, SourceCommunity, SourcePrivate:
	default:
		return faults.Config("unknown server kind %q", c.Kind)
	}

	for _, cc := range c.Countries {
		if len(cc) != 2 {
			return faults.Config("invalid country code %q", cc)
		}
	}

	return nil
}

// CountryCodes resolves the effective country set: the explicit set when
// given, otherwise the region expansion.
func (c *FilterCriteria) CountryCodes() []string {
	if len(c.Countries) > 0 {
		return c.Countries
	}
	if c.Region != "" {
		return c.Region.Expand()
	}

	return nil
}

// Fingerprint returns a stable hash of the criteria, used to decide whether a
// cached fetch for "equivalent criteria" is still within its TTL. Country
// order does not affect the fingerprint.
func (c *FilterCriteria) Fingerprint() uint64 {
	codes := append([]string(nil), c.CountryCodes()...)
	sort.Strings(codes)

	var b strings.Builder
	b.WriteString(strings.Join(codes, ","))
	b.WriteByte('|')
	b.WriteString(string(c.Kind))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(c.Search))
	b.WriteByte('|')
	switch {
	case c.Modded == nil:
		b.WriteString("any")
	case *c.Modded:
		b.WriteString("modded")
	default:
		b.WriteString("vanilla")
	}

	return xxhash.Sum64String(b.String())
}
