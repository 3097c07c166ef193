// Package catalog implements the client for the remote server catalog: query
// construction from filter criteria, transparent cursor pagination, bounded
// retry with backoff, and rate-limit signaling.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/woozymasta/radar/internal/faults"
	"github.com/woozymasta/radar/internal/models"
)

// Options configures the catalog client.
type Options struct {
	// BaseURL is the catalog endpoint, without the /servers suffix.
	BaseURL string

	// PageSize is the number of rows requested per page, capped at 100 by
	// the remote.
	PageSize int

	// Timeout bounds a single page request.
	Timeout time.Duration

	// MaxAttempts bounds the retries of a single page on transport failure.
	MaxAttempts int

	// InitialBackoff is the first retry delay, doubled per attempt.
	InitialBackoff time.Duration

	// PageRate paces successive page requests, zero for no pacing.
	PageRate rate.Limit
}

// Client fetches filtered, paginated server listings from the catalog.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	opts       Options
}

// NewClient creates a catalog client from options, applying defaults for any
// zero field.
func NewClient(opts Options) *Client {
	if opts.PageSize <= 0 || opts.PageSize > 100 {
		opts.PageSize = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 250 * time.Millisecond
	}
	if opts.PageRate <= 0 {
		opts.PageRate = rate.Limit(10)
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(opts.PageRate, 1),
		opts:       opts,
	}
}

// page mirrors the catalog wire format: a data array plus a cursor link to
// the next page.
type page struct {
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
	Data []row `json:"data"`
}

type row struct {
	Attributes struct {
		Name       string `json:"name"`
		IP         string `json:"ip"`
		Map        string `json:"map"`
		Country    string `json:"country"`
		Port       int    `json:"port"`
		Players    int    `json:"players"`
		MaxPlayers int    `json:"maxPlayers"`
		Private    bool   `json:"private"`
		Modded     bool   `json:"modded"`
	} `json:"attributes"`
}

// FetchCatalog returns up to limit server records matching the criteria,
// following cursor pagination until the limit is reached or the remote is
// exhausted. It does not touch the cache.
func (c *Client) FetchCatalog(ctx context.Context, criteria models.FilterCriteria, limit int) ([]models.ServerRecord, error) {
	nextURL := c.firstPageURL(criteria, limit)

	var records []models.ServerRecord
	pageNum := 0

	for nextURL != "" && len(records) < limit {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, faults.Network(err)
		}

		pg, err := c.fetchPage(ctx, nextURL)
		if err != nil {
			return nil, err
		}
		pageNum++

		now := time.Now()
		for _, r := range pg.Data {
			if len(records) >= limit {
				break
			}
			records = append(records, recordFromRow(r, now))
		}

		log.Debug().
			Int("page", pageNum).
			Int("rows", len(pg.Data)).
			Int("total", len(records)).
			Msg("Catalog page fetched")

		if len(pg.Data) == 0 {
			break
		}
		nextURL = pg.Links.Next
	}

	return records, nil
}

// firstPageURL builds the initial request from the filter criteria. The
// parameter names are fixed by the remote service.
func (c *Client) firstPageURL(criteria models.FilterCriteria, limit int) string {
	params := url.Values{}

	if codes := criteria.CountryCodes(); len(codes) > 0 {
		params.Set("countries[]", strings.Join(codes, ","))
	}
	if criteria.Kind == models.SourcePrivate {
		params.Set("private", "true")
	}
	// An empty mods value asks for mod-free servers; official listings are
	// requested the same way.
	if criteria.Kind == models.SourceOfficial || (criteria.Modded != nil && !*criteria.Modded) {
		params.Set("mods", "")
	} else if criteria.Modded != nil && *criteria.Modded {
		params.Set("mods", "true")
	}
	if criteria.Search != "" {
		params.Set("search", criteria.Search)
	}

	size := c.opts.PageSize
	if limit < size {
		size = limit
	}
	params.Set("page[size]", strconv.Itoa(size))

	return c.opts.BaseURL + "/servers?" + params.Encode()
}

// fetchPage requests one page, retrying transport failures with doubling
// backoff. A throttling response is surfaced immediately and never retried
// here; the orchestrator owns the cooldown.
func (c *Client) fetchPage(ctx context.Context, pageURL string) (*page, error) {
	backoff := c.opts.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, faults.Network(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			log.Debug().Err(err).Int("attempt", attempt).Msg("Catalog request failed")
		} else {
			pg, err := decodePage(resp)
			if err == nil {
				return pg, nil
			}
			if errors.Is(err, faults.ErrRateLimited) {
				return nil, err
			}
			lastErr = err
			log.Debug().Err(err).Int("attempt", attempt).Msg("Catalog response rejected")
		}

		if attempt < c.opts.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, faults.Network(ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return nil, faults.Network(lastErr)
}

func decodePage(resp *http.Response) (*page, error) {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, faults.RateLimited(resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var pg page
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&pg); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}

	return &pg, nil
}

func recordFromRow(r row, now time.Time) models.ServerRecord {
	a := r.Attributes

	source := models.SourceCommunity
	if a.Private {
		source = models.SourcePrivate
	} else if !a.Modded {
		source = models.InferSourceKind(a.Name, false)
	}

	players, maxPlayers := models.ClampCounts(a.Players, a.MaxPlayers)

	return models.ServerRecord{
		Name:       a.Name,
		Map:        a.Map,
		Country:    a.Country,
		Source:     source,
		Address:    models.Address{IP: a.IP, Port: a.Port},
		Players:    players,
		MaxPlayers: maxPlayers,
		Modded:     a.Modded,
		Active:     true,
		LastSeen:   now,
		FetchedAt:  now,
	}
}
