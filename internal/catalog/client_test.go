package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/woozymasta/radar/internal/faults"
	"github.com/woozymasta/radar/internal/models"
)

func testClient(baseURL string) *Client {
	return NewClient(Options{
		BaseURL:        baseURL,
		Timeout:        2 * time.Second,
		InitialBackoff: time.Millisecond,
		PageRate:       rate.Inf,
	})
}

func writePage(w http.ResponseWriter, next string, names ...string) {
	type attrs struct {
		Name       string `json:"name"`
		IP         string `json:"ip"`
		Port       int    `json:"port"`
		Players    int    `json:"players"`
		MaxPlayers int    `json:"maxPlayers"`
		Country    string `json:"country"`
	}
	type wireRow struct {
		Attributes attrs `json:"attributes"`
	}

	var rows []wireRow
	for i, name := range names {
		rows = append(rows, wireRow{Attributes: attrs{
			Name: name, IP: "192.0.2.1", Port: 27000 + i,
			Players: i, MaxPlayers: 60, Country: "DE",
		}})
	}

	resp := map[string]any{
		"data":  rows,
		"links": map[string]string{"next": next},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestFetchCatalogQueryParams(t *testing.T) {
	var query map[string][]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		writePage(w, "", "one")
	}))
	defer srv.Close()

	modded := false
	criteria := models.FilterCriteria{
		Region: models.RegionEurope,
		Kind:   models.SourcePrivate,
		Search: "night",
		Modded: &modded,
	}

	_, err := testClient(srv.URL).FetchCatalog(context.Background(), criteria, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"DE,FR,UK,NL,SE,NO,PL,IT,ES"}, query["countries[]"])
	assert.Equal(t, []string{"true"}, query["private"])
	assert.Equal(t, []string{""}, query["mods"], "mod-free is requested with an empty value")
	assert.Equal(t, []string{"night"}, query["search"])
}

func TestFetchCatalogOfficialRequestsModFree(t *testing.T) {
	var query map[string][]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		writePage(w, "")
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchCatalog(context.Background(), models.FilterCriteria{Kind: models.SourceOfficial}, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{""}, query["mods"])
	assert.NotContains(t, query, "private")
	assert.NotContains(t, query, "countries[]")
}

func TestFetchCatalogPagination(t *testing.T) {
	var srv *httptest.Server
	var pages atomic.Int32

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch pages.Add(1) {
		case 1:
			writePage(w, srv.URL+"/servers?page=2", "a", "b")
		case 2:
			writePage(w, srv.URL+"/servers?page=3", "c", "d")
		default:
			writePage(w, "")
		}
	}))
	defer srv.Close()

	records, err := testClient(srv.URL).FetchCatalog(context.Background(), models.FilterCriteria{}, 10)
	require.NoError(t, err)

	require.Len(t, records, 4)
	assert.Equal(t, "a", records[0].Name)
	assert.Equal(t, "d", records[3].Name)
	assert.Equal(t, int32(3), pages.Load())
}

func TestFetchCatalogLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(w, srv.URL+"/servers?more", "a", "b", "c")
	}))
	defer srv.Close()

	records, err := testClient(srv.URL).FetchCatalog(context.Background(), models.FilterCriteria{}, 5)
	require.NoError(t, err)

	assert.Len(t, records, 5, "pagination must stop at the limit")
}

func TestFetchCatalogRateLimited(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchCatalog(context.Background(), models.FilterCriteria{}, 10)
	require.Error(t, err)

	assert.ErrorIs(t, err, faults.ErrRateLimited)
	assert.Equal(t, int32(1), calls.Load(), "throttling must not be retried inline")
}

func TestFetchCatalogRetriesTransportFailure(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writePage(w, "", "late")
	}))
	defer srv.Close()

	records, err := testClient(srv.URL).FetchCatalog(context.Background(), models.FilterCriteria{}, 10)
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchCatalogNetworkError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchCatalog(context.Background(), models.FilterCriteria{}, 10)
	require.Error(t, err)

	assert.ErrorIs(t, err, faults.ErrNetwork)
	assert.Equal(t, int32(3), calls.Load(), "transport failures retry up to the attempt cap")
}

func TestRecordFromRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
			"data": [{"attributes": {
				"name": "Private Hive", "ip": "198.51.100.7", "port": 2302,
				"players": 12, "maxPlayers": 60, "country": "PL",
				"private": true, "modded": true
			}}],
			"links": {"next": ""}
		}`)
	}))
	defer srv.Close()

	records, err := testClient(srv.URL).FetchCatalog(context.Background(), models.FilterCriteria{}, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, models.SourcePrivate, rec.Source)
	assert.Equal(t, models.Address{IP: "198.51.100.7", Port: 2302}, rec.Address)
	assert.True(t, rec.Modded)
	assert.True(t, rec.Active)
	assert.Nil(t, rec.Ping, "catalog rows carry no measured ping")
	assert.False(t, rec.LastSeen.IsZero())
}

func TestRecordFromRowClampsCounters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
			"data": [
				{"attributes": {"name": "over", "ip": "198.51.100.8", "port": 2302, "players": 120, "maxPlayers": 60}},
				{"attributes": {"name": "negative", "ip": "198.51.100.9", "port": 2302, "players": -3, "maxPlayers": -1}}
			],
			"links": {"next": ""}
		}`)
	}))
	defer srv.Close()

	records, err := testClient(srv.URL).FetchCatalog(context.Background(), models.FilterCriteria{}, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 60, records[0].Players, "players never exceed capacity")
	assert.Equal(t, 60, records[0].MaxPlayers)
	assert.Equal(t, 0, records[1].Players)
	assert.Equal(t, 0, records[1].MaxPlayers)
}
