package cve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"cyberbrief/internal/core"
)

const (
	// DefaultNVDBaseURL is the NVD CVE API endpoint.
	DefaultNVDBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

	nvdTimeout = 15 * time.Second

	// maxDescriptionChars truncates stored CVE descriptions.
	maxDescriptionChars = 2000
)

// Enrichment holds the NVD data for one CVE.
type Enrichment struct {
	CVEID         string
	CVSSScore     *float64
	Severity      string
	Description   string
	CPEMatches    []string
	PublishedDate *time.Time
}

// NVDClient fetches CVE details from the vulnerability database through a
// sliding-window rate limiter.
type NVDClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *SlidingLimiter
}

// NewNVDClient creates an NVD client. The rate limit capacity depends on
// whether an API key is configured: 50 calls per window with one, 5 without.
func NewNVDClient(baseURL, apiKey string) *NVDClient {
	if baseURL == "" {
		baseURL = DefaultNVDBaseURL
	}
	capacity := CapacityWithoutKey
	if apiKey != "" {
		capacity = CapacityWithKey
	}
	return &NVDClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: nvdTimeout},
		limiter: NewSlidingLimiter(capacity),
	}
}

// nvdResponse mirrors the slice of the NVD 2.0 API response we consume.
type nvdResponse struct {
	Vulnerabilities []struct {
		CVE struct {
			ID           string `json:"id"`
			Published    string `json:"published"`
			Descriptions []struct {
				Lang  string `json:"lang"`
				Value string `json:"value"`
			} `json:"descriptions"`
			Metrics struct {
				CVSSMetricV31 []nvdCVSSMetric `json:"cvssMetricV31"`
				CVSSMetricV30 []nvdCVSSMetric `json:"cvssMetricV30"`
				CVSSMetricV2  []nvdCVSSMetric `json:"cvssMetricV2"`
			} `json:"metrics"`
			Configurations []struct {
				Nodes []struct {
					CPEMatch []struct {
						Criteria string `json:"criteria"`
					} `json:"cpeMatch"`
				} `json:"nodes"`
			} `json:"configurations"`
		} `json:"cve"`
	} `json:"vulnerabilities"`
}

type nvdCVSSMetric struct {
	CVSSData struct {
		BaseScore    float64 `json:"baseScore"`
		BaseSeverity string  `json:"baseSeverity"`
	} `json:"cvssData"`
}

// Fetch retrieves one CVE's enrichment. The call blocks in the rate limiter
// when the window budget is exhausted, so rate limiting never surfaces as an
// error. Returns nil (no error) when NVD has no record for the ID.
func (c *NVDClient) Fetch(ctx context.Context, cveID string) (*Enrichment, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := c.baseURL + "?cveId=" + url.QueryEscape(cveID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create NVD request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("apiKey", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("NVD fetch for %s failed: %w", cveID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("NVD fetch for %s returned status %d", cveID, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read NVD response: %w", err)
	}

	var parsed nvdResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse NVD response for %s: %w", cveID, err)
	}
	if len(parsed.Vulnerabilities) == 0 {
		return nil, nil
	}

	record := parsed.Vulnerabilities[0].CVE
	enrichment := &Enrichment{CVEID: cveID}

	// CVSS selection order: v3.1, then v3.0, then v2. Severity comes from
	// the first v3.x metric present.
	if m := record.Metrics.CVSSMetricV31; len(m) > 0 {
		score := m[0].CVSSData.BaseScore
		enrichment.CVSSScore = &score
		enrichment.Severity = m[0].CVSSData.BaseSeverity
	} else if m := record.Metrics.CVSSMetricV30; len(m) > 0 {
		score := m[0].CVSSData.BaseScore
		enrichment.CVSSScore = &score
		enrichment.Severity = m[0].CVSSData.BaseSeverity
	} else if m := record.Metrics.CVSSMetricV2; len(m) > 0 {
		score := m[0].CVSSData.BaseScore
		enrichment.CVSSScore = &score
	}

	for _, d := range record.Descriptions {
		if d.Lang == "en" {
			desc := d.Value
			if len(desc) > maxDescriptionChars {
				desc = desc[:maxDescriptionChars]
			}
			enrichment.Description = desc
			break
		}
	}

	// CPE matches are flattened across all configuration nodes.
	for _, cfg := range record.Configurations {
		for _, node := range cfg.Nodes {
			for _, match := range node.CPEMatch {
				if match.Criteria != "" {
					enrichment.CPEMatches = append(enrichment.CPEMatches, match.Criteria)
				}
			}
		}
	}

	if record.Published != "" {
		if t, err := time.Parse("2006-01-02T15:04:05.000", record.Published); err == nil {
			utc := t.UTC()
			enrichment.PublishedDate = &utc
		} else if t, err := time.Parse(time.RFC3339, record.Published); err == nil {
			utc := t.UTC()
			enrichment.PublishedDate = &utc
		}
	}

	return enrichment, nil
}

// ApplyEnrichment copies enrichment and KEV data onto an ArticleCVE row.
func ApplyEnrichment(row *core.ArticleCVE, e *Enrichment, kev *KEVEntry) {
	if e != nil {
		row.CVSSScore = e.CVSSScore
		row.Severity = e.Severity
		row.Description = e.Description
		row.CPEMatches = e.CPEMatches
		row.PublishedDate = e.PublishedDate
	}
	if kev != nil {
		row.InKEV = true
		row.KEVDateAdded = kev.DateAdded
		row.KEVDueDate = kev.DueDate
		row.KEVRansomwareUse = kev.RansomwareUse
	}
}
