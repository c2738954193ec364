package cve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cyberbrief/internal/core"
)

const nvdFixture = `{
  "vulnerabilities": [
    {
      "cve": {
        "id": "CVE-2024-21762",
        "published": "2024-02-09T09:15:08.220",
        "descriptions": [
          {"lang": "es", "value": "descripcion"},
          {"lang": "en", "value": "An out-of-bounds write in FortiOS may allow remote code execution."}
        ],
        "metrics": {
          "cvssMetricV31": [
            {"cvssData": {"baseScore": 9.8, "baseSeverity": "CRITICAL"}}
          ]
        },
        "configurations": [
          {
            "nodes": [
              {
                "cpeMatch": [
                  {"criteria": "cpe:2.3:o:fortinet:fortios:7.0.0:*:*:*:*:*:*:*"},
                  {"criteria": "cpe:2.3:o:fortinet:fortios:7.2.0:*:*:*:*:*:*:*"}
                ]
              }
            ]
          }
        ]
      }
    }
  ]
}`

func TestNVDClient_Fetch(t *testing.T) {
	var gotQuery, gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("cveId")
		gotAPIKey = r.Header.Get("apiKey")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(nvdFixture))
	}))
	defer srv.Close()

	client := NewNVDClient(srv.URL, "test-key")
	enrichment, err := client.Fetch(context.Background(), "CVE-2024-21762")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if enrichment == nil {
		t.Fatal("expected an enrichment")
	}

	if gotQuery != "CVE-2024-21762" {
		t.Errorf("cveId query = %q", gotQuery)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("apiKey header = %q", gotAPIKey)
	}
	if enrichment.CVSSScore == nil || *enrichment.CVSSScore != 9.8 {
		t.Errorf("CVSSScore = %v, want 9.8", enrichment.CVSSScore)
	}
	if enrichment.Severity != "CRITICAL" {
		t.Errorf("Severity = %q", enrichment.Severity)
	}
	if enrichment.Description != "An out-of-bounds write in FortiOS may allow remote code execution." {
		t.Errorf("Description = %q, want the English description", enrichment.Description)
	}
	if len(enrichment.CPEMatches) != 2 {
		t.Errorf("CPEMatches = %v, want 2 entries", enrichment.CPEMatches)
	}
	if enrichment.PublishedDate == nil {
		t.Fatal("expected a published date")
	}
	want := time.Date(2024, 2, 9, 9, 15, 8, 220000000, time.UTC)
	if !enrichment.PublishedDate.Equal(want) {
		t.Errorf("PublishedDate = %v, want %v", enrichment.PublishedDate, want)
	}
}

func TestNVDClient_FetchUnknownCVE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"vulnerabilities": []}`))
	}))
	defer srv.Close()

	client := NewNVDClient(srv.URL, "")
	enrichment, err := client.Fetch(context.Background(), "CVE-1999-0001")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if enrichment != nil {
		t.Errorf("enrichment = %+v, want nil for an unknown CVE", enrichment)
	}
}

func TestNVDClient_FetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewNVDClient(srv.URL, "")
	if _, err := client.Fetch(context.Background(), "CVE-2024-3400"); err == nil {
		t.Fatal("expected an error on a 503 response")
	}
}

func TestNVDClient_CVSSFallbackOrder(t *testing.T) {
	body := `{
	  "vulnerabilities": [{"cve": {
	    "id": "CVE-2020-0001",
	    "descriptions": [{"lang": "en", "value": "legacy"}],
	    "metrics": {"cvssMetricV2": [{"cvssData": {"baseScore": 7.5}}]}
	  }}]
	}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	client := NewNVDClient(srv.URL, "")
	enrichment, err := client.Fetch(context.Background(), "CVE-2020-0001")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if enrichment.CVSSScore == nil || *enrichment.CVSSScore != 7.5 {
		t.Errorf("CVSSScore = %v, want the v2 base score", enrichment.CVSSScore)
	}
	if enrichment.Severity != "" {
		t.Errorf("Severity = %q, want empty for v2-only metrics", enrichment.Severity)
	}
}

func TestNVDClient_CapacitySelection(t *testing.T) {
	withKey := NewNVDClient("", "key")
	if withKey.limiter.capacity != CapacityWithKey {
		t.Errorf("capacity with key = %d, want %d", withKey.limiter.capacity, CapacityWithKey)
	}
	withoutKey := NewNVDClient("", "")
	if withoutKey.limiter.capacity != CapacityWithoutKey {
		t.Errorf("capacity without key = %d, want %d", withoutKey.limiter.capacity, CapacityWithoutKey)
	}
}

func TestApplyEnrichment(t *testing.T) {
	score := 9.8
	published := time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC)
	added := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	due := time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)

	row := core.ArticleCVE{ArticleID: "a1", CVEID: "CVE-2024-21762"}
	ApplyEnrichment(&row, &Enrichment{
		CVEID:         "CVE-2024-21762",
		CVSSScore:     &score,
		Severity:      "CRITICAL",
		Description:   "oob write",
		CPEMatches:    []string{"cpe:2.3:o:fortinet:fortios:7.0.0:*:*:*:*:*:*:*"},
		PublishedDate: &published,
	}, &KEVEntry{DateAdded: &added, DueDate: &due, RansomwareUse: true})

	if row.CVSSScore == nil || *row.CVSSScore != 9.8 {
		t.Errorf("CVSSScore = %v", row.CVSSScore)
	}
	if !row.InKEV || !row.KEVRansomwareUse {
		t.Errorf("KEV flags = %v %v, want both set", row.InKEV, row.KEVRansomwareUse)
	}
	if row.KEVDueDate == nil || !row.KEVDueDate.Equal(due) {
		t.Errorf("KEVDueDate = %v, want %v", row.KEVDueDate, due)
	}
}

func TestApplyEnrichment_NilSources(t *testing.T) {
	row := core.ArticleCVE{ArticleID: "a1", CVEID: "CVE-2024-0001"}
	ApplyEnrichment(&row, nil, nil)
	if row.CVSSScore != nil || row.InKEV {
		t.Errorf("row mutated by nil enrichment: %+v", row)
	}
}
