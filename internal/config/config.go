// Package config handles the parsing and validation of application
// configuration from command-line arguments and environment variables.
package config

import (
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/woozymasta/radar/internal/logger"
	"github.com/woozymasta/radar/internal/models"
	"github.com/woozymasta/radar/internal/vars"
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Catalog     Catalog       `group:"Catalog Options" namespace:"catalog" env-namespace:"RADAR_CATALOG"`
	Cache       Cache         `group:"Cache Options" namespace:"db" env-namespace:"RADAR_DB"`
	Probe       Probe         `group:"Probe Options" namespace:"probe" env-namespace:"RADAR_PROBE"`
	Refresh     Refresh       `group:"Refresh Options" namespace:"refresh" env-namespace:"RADAR_REFRESH"`
	GeoIP       GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"RADAR_GEOIP"`
	Filter      Filter        `group:"Filter Options" namespace:"filter" env-namespace:"RADAR_FILTER"`
	Maintenance Maintenance   `group:"Maintenance Options"`
	Logger      logger.Config `group:"Logger Options" namespace:"log" env-namespace:"RADAR_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Catalog holds remote catalog client configuration.
type Catalog struct {
	// betteralign:ignore

	URL       string        `short:"u" long:"url" env:"URL" description:"Catalog API base URL" default:"https://api.battlemetrics.com"`
	PageSize  int           `long:"page-size" env:"PAGE_SIZE" description:"Rows per catalog page" default:"100"`
	Timeout   time.Duration `long:"timeout" env:"TIMEOUT" description:"Per-page request timeout" default:"15s"`
	Attempts  int           `long:"attempts" env:"ATTEMPTS" description:"Max attempts per page on transport failure" default:"3"`
	Backoff   time.Duration `long:"backoff" env:"BACKOFF" description:"Initial retry backoff, doubled per attempt" default:"250ms"`
	PagesRate float64       `long:"pages-rate" env:"PAGES_RATE" description:"Max catalog page requests per second" default:"10"`
}

// Cache holds persistent cache configuration.
type Cache struct {
	// betteralign:ignore

	Path        string        `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"radar.db"`
	TTL         time.Duration `long:"ttl" env:"TTL" description:"Catalog fetch staleness window" default:"15m"`
	PruneAfter  time.Duration `long:"prune-after" env:"PRUNE_AFTER" description:"Deactivate rows not seen for this long" default:"2h"`
	DeleteAfter time.Duration `long:"delete-after" env:"DELETE_AFTER" description:"Hard-delete rows not seen for this long" default:"24h"`
}

// Probe holds A2S liveness probe configuration.
type Probe struct {
	// betteralign:ignore

	Timeout     time.Duration `long:"timeout" env:"TIMEOUT" description:"Per-probe query timeout" default:"1500ms"`
	Concurrency int           `long:"concurrency" env:"CONCURRENCY" description:"Max simultaneous in-flight probes" default:"64"`
	MaxPing     int           `long:"max-ping" env:"MAX_PING" description:"Ping cap in ms, slower counts as unreachable" default:"2000"`
	BufferSize  uint16        `long:"buffer-size" env:"BUFFER_SIZE" description:"Response body buffer size" default:"1400"`
}

// Refresh holds refresh-cycle orchestration configuration.
type Refresh struct {
	// betteralign:ignore

	Limit         int           `short:"n" long:"limit" env:"LIMIT" description:"Max servers fetched per refresh" default:"200"`
	ReadyFraction float64       `long:"ready-fraction" env:"READY_FRACTION" description:"Resolved-probe fraction that triggers PartialReady" default:"0.6"`
	CycleTimeout  time.Duration `long:"cycle-timeout" env:"CYCLE_TIMEOUT" description:"Global per-cycle timeout" default:"90s"`
	Cooldown      time.Duration `long:"cooldown" env:"COOLDOWN" description:"Catalog cooldown after a rate-limit response" default:"5m"`
	TopFallback   int           `long:"top-fallback" env:"TOP_FALLBACK" description:"Rows served from cache when a cycle fails" default:"50"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	// betteralign:ignore

	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file" default:"radar.mmdb"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
	Disable  bool          `long:"disable" env:"DISABLE" description:"Disable country enrichment"`
}

// Filter holds the server filter for the refresh started from the CLI.
type Filter struct {
	// betteralign:ignore

	Region    string   `short:"r" long:"region" env:"REGION" description:"Region filter" choice:"europe" choice:"north_america" choice:"oceania" optional:"true"`
	Countries []string `short:"c" long:"country" env:"COUNTRIES" env-delim:"," description:"Explicit ISO country codes, overrides region"`
	Kind      string   `short:"k" long:"kind" env:"KIND" description:"Server kind" choice:"official" choice:"community" choice:"private" optional:"true"`
	Search    string   `short:"s" long:"search" env:"SEARCH" description:"Free-text name search"`
	Mods      string   `short:"m" long:"mods" env:"MODS" description:"Mods filter" choice:"any" choice:"vanilla" choice:"modded" default:"any"`
	Force     bool     `short:"f" long:"force" env:"FORCE" description:"Force a catalog fetch even within the TTL"`
}

// Maintenance holds one-shot maintenance task flags.
type Maintenance struct {
	// betteralign:ignore

	Prune         bool `long:"prune" description:"Deactivate stale rows, hard-delete long-inactive ones, then exit"`
	Recheck       bool `long:"recheck" description:"Probe every cached row, write results back, then exit"`
	GenerateCount int  `long:"gen-fake-data" hidden:"true"`
}

// Criteria converts the CLI filter flags into validated filter criteria.
func (f *Filter) Criteria() models.FilterCriteria {
	criteria := models.FilterCriteria{
		Region:    models.Region(f.Region),
		Countries: f.Countries,
		Kind:      models.SourceKind(f.Kind),
		Search:    f.Search,
	}

	switch f.Mods {
	case "vanilla":
		v := false
		criteria.Modded = &v
	case "modded":
		v := true
		criteria.Modded = &v
	}

	return criteria
}

// Parse reads the configuration from flags and environment variables. It
// terminates the application if the configuration is invalid or if the help
// flag is invoked.
func Parse() *Config {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	return &cfg
}
