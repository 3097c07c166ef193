package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woozymasta/radar/internal/faults"
)

func TestRegionExpand(t *testing.T) {
	assert.Equal(t, []string{"DE", "FR", "UK", "NL", "SE", "NO", "PL", "IT", "ES"}, RegionEurope.Expand())
	assert.Equal(t, []string{"US", "CA"}, RegionNorthAmerica.Expand())
	assert.Equal(t, []string{"AU", "NZ"}, RegionOceania.Expand())
	assert.Nil(t, Region("atlantis").Expand())
}

func TestCriteriaValidate(t *testing.T) {
	tests := []struct {
		name     string
		criteria FilterCriteria
		wantErr  bool
	}{
		{"empty", FilterCriteria{}, false},
		{"region only", FilterCriteria{Region: RegionEurope}, false},
		{"countries only", FilterCriteria{Countries: []string{"DE", "PL"}}, false},
		{"region and countries conflict", FilterCriteria{Region: RegionEurope, Countries: []string{"DE"}}, true},
		{"unknown region", FilterCriteria{Region: "moon"}, true},
		{"unknown kind", FilterCriteria{Kind: "premium"}, true},
		{"bad country code", FilterCriteria{Countries: []string{"DEU"}}, true},
		{"full valid", FilterCriteria{Region: RegionOceania, Kind: SourceOfficial, Search: "official"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.criteria.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, faults.ErrConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCriteriaCountryCodes(t *testing.T) {
	// Explicit set wins over region
	c := FilterCriteria{Region: RegionEurope, Countries: []string{"JP"}}
	assert.Equal(t, []string{"JP"}, c.CountryCodes())

	c = FilterCriteria{Region: RegionNorthAmerica}
	assert.Equal(t, []string{"US", "CA"}, c.CountryCodes())

	assert.Nil(t, (&FilterCriteria{}).CountryCodes())
}

func TestCriteriaFingerprint(t *testing.T) {
	a := FilterCriteria{Countries: []string{"DE", "FR"}, Search: "Chernarus"}
	b := FilterCriteria{Countries: []string{"FR", "DE"}, Search: "chernarus"}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "country order and search case must not matter")

	c := FilterCriteria{Countries: []string{"DE", "FR"}, Search: "livonia"}
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())

	modded := true
	d := FilterCriteria{Countries: []string{"DE", "FR"}, Search: "chernarus", Modded: &modded}
	assert.NotEqual(t, a.Fingerprint(), d.Fingerprint())
}

func TestClampCounts(t *testing.T) {
	tests := []struct {
		name           string
		players, max   int
		wantP, wantMax int
	}{
		{"in range", 40, 60, 40, 60},
		{"over capacity", 120, 60, 60, 60},
		{"negative players", -3, 60, 0, 60},
		{"negative capacity", 5, -1, 5, 0},
		{"unknown capacity", 5, 0, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, m := ClampCounts(tt.players, tt.max)
			assert.Equal(t, tt.wantP, p)
			assert.Equal(t, tt.wantMax, m)
		})
	}
}

func TestInferSourceKind(t *testing.T) {
	assert.Equal(t, SourcePrivate, InferSourceKind("Anything", true))
	assert.Equal(t, SourcePrivate, InferSourceKind("Whitelist RP Server", false))
	assert.Equal(t, SourceOfficial, InferSourceKind("DayZ Official DE 4500", false))
	assert.Equal(t, SourceCommunity, InferSourceKind("[EU] Loot+ x10 official", false))
	assert.Equal(t, SourceCommunity, InferSourceKind("Plain Community Server", false))
}
