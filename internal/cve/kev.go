package cve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"cyberbrief/internal/logger"
)

const (
	// DefaultKEVURL is the CISA Known Exploited Vulnerabilities catalog.
	DefaultKEVURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"

	kevTTL     = 24 * time.Hour
	kevTimeout = 30 * time.Second
)

// KEVEntry is one catalog record keyed by CVE ID.
type KEVEntry struct {
	DateAdded     *time.Time
	DueDate       *time.Time
	RansomwareUse bool
	Vendor        string
	Product       string
}

// KEVCache is a process-wide catalog cache with a 24 h TTL. The mutex is held
// across the fetch so concurrent first readers coalesce onto one upstream
// call. On fetch failure, the stale catalog is served if one exists; an empty
// map otherwise.
type KEVCache struct {
	mu        sync.Mutex
	url       string
	client    *http.Client
	entries   map[string]KEVEntry
	fetchedAt time.Time
	now       func() time.Time
}

// NewKEVCache creates a KEV cache for the given catalog URL.
func NewKEVCache(url string) *KEVCache {
	if url == "" {
		url = DefaultKEVURL
	}
	return &KEVCache{
		url:    url,
		client: &http.Client{Timeout: kevTimeout},
		now:    time.Now,
	}
}

type kevCatalog struct {
	Vulnerabilities []struct {
		CVEID                      string `json:"cveID"`
		VendorProject              string `json:"vendorProject"`
		Product                    string `json:"product"`
		DateAdded                  string `json:"dateAdded"`
		DueDate                    string `json:"dueDate"`
		KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse"`
	} `json:"vulnerabilities"`
}

// Get returns the catalog map keyed by CVE ID, fetching at most once per TTL.
func (k *KEVCache) Get(ctx context.Context) map[string]KEVEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.entries != nil && k.now().Sub(k.fetchedAt) < kevTTL {
		return k.entries
	}

	entries, err := k.fetch(ctx)
	if err != nil {
		logger.Warn("KEV catalog fetch failed", "reason", err.Error())
		if k.entries != nil {
			return k.entries
		}
		return map[string]KEVEntry{}
	}

	k.entries = entries
	k.fetchedAt = k.now()
	return k.entries
}

func (k *KEVCache) fetch(ctx context.Context) (map[string]KEVEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create KEV request: %w", err)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("KEV fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("KEV fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read KEV response: %w", err)
	}

	var catalog kevCatalog
	if err := json.Unmarshal(body, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse KEV catalog: %w", err)
	}

	entries := make(map[string]KEVEntry, len(catalog.Vulnerabilities))
	for _, v := range catalog.Vulnerabilities {
		entries[v.CVEID] = KEVEntry{
			DateAdded:     parseKEVDate(v.DateAdded),
			DueDate:       parseKEVDate(v.DueDate),
			RansomwareUse: v.KnownRansomwareCampaignUse == "Known",
			Vendor:        v.VendorProject,
			Product:       v.Product,
		}
	}
	return entries, nil
}

func parseKEVDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		utc := t.UTC()
		return &utc
	}
	return nil
}
