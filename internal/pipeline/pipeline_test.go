package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cyberbrief/internal/briefing"
	"cyberbrief/internal/core"
	"cyberbrief/internal/cve"
	"cyberbrief/internal/entities"
	"cyberbrief/internal/exposure"
	"cyberbrief/internal/feeds"
	"cyberbrief/internal/fetch"
	"cyberbrief/internal/llm"
	"cyberbrief/internal/persistence"
	"cyberbrief/internal/reports"
)

type stubLLM struct {
	response string
}

func (s *stubLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	return s.response, nil
}

const briefingJSON = `{
	"title": "FortiOS zero-day under active exploitation",
	"synopsis": "Attackers are exploiting a FortiOS flaw.",
	"executiveSummary": "Edge devices are being compromised.",
	"impactAnalysis": "VPN users exposed.",
	"actionability": "Patch now.",
	"caseType": 1
}`

const nvdFixture = `{
  "vulnerabilities": [{"cve": {
    "id": "CVE-2024-21762",
    "published": "2024-02-09T09:15:08.220",
    "descriptions": [{"lang": "en", "value": "Out-of-bounds write in FortiOS."}],
    "metrics": {"cvssMetricV31": [{"cvssData": {"baseScore": 9.8, "baseSeverity": "CRITICAL"}}]},
    "configurations": [{"nodes": [{"cpeMatch": [
      {"criteria": "cpe:2.3:o:fortinet:fortios:7.0.0:*:*:*:*:*:*:*"}
    ]}]}]
  }}]
}`

const kevFixture = `{
  "vulnerabilities": [{
    "cveID": "CVE-2024-21762",
    "vendorProject": "Fortinet",
    "product": "FortiOS",
    "dateAdded": "2024-02-09",
    "dueDate": "2030-02-16",
    "knownRansomwareCampaignUse": "Known"
  }]
}`

// testHarness bundles the pipeline with its fake upstreams.
type testHarness struct {
	db       *persistence.MemoryDB
	pipeline *Pipeline
	nvdCalls *atomic.Int64
	nvdDown  *atomic.Bool
	servers  []*httptest.Server
}

func (h *testHarness) Close() {
	for _, s := range h.servers {
		s.Close()
	}
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	db := persistence.NewMemoryDB()

	content := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><article>
<h1>Fortinet advisory</h1>
<p>Exploitation of CVE-2024-21762 observed in the wild.</p>
</article></body></html>`)
	}))

	pubDate := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC1123Z)
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Feed</title>
<item><title>Fortinet zero-day exploited</title><link>%s/a1</link><description>fortinet news</description><pubDate>%s</pubDate></item>
<item><title>Fortinet patch guidance</title><link>%s/a2</link><description>fortinet fix</description><pubDate>%s</pubDate></item>
<item><title>Unrelated gardening tips</title><link>%s/a3</link><description>tomatoes</description><pubDate>%s</pubDate></item>
</channel></rss>`, content.URL, pubDate, content.URL, pubDate, content.URL, pubDate)
	}))

	var nvdCalls atomic.Int64
	var nvdDown atomic.Bool
	nvd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nvdCalls.Add(1)
		if nvdDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, nvdFixture)
	}))
	kev := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, kevFixture)
	}))

	db.SeedUser(core.User{ID: "u1", IndustryID: "ind1"})
	db.SeedSource(core.Source{ID: "s1", UserID: "u1", URL: feed.URL, Type: core.SourceRSS, Active: true})
	db.SeedKeyword(core.Keyword{ID: "k1", UserID: "u1", Word: "fortinet"})
	db.SeedSignal(core.IndustrySignal{ID: "sig1", IndustryID: "ind1", Slug: "zero-day", Name: "Zero Day"})
	db.SeedTechStack(core.TechStackItem{
		ID: "item-1", UserID: "u1", Vendor: "fortinet", Product: "fortios", Version: "7.0.0", Active: true,
	})

	pipe := New(
		db,
		feeds.NewScraper(time.Hour),
		fetch.NewExtractor(),
		entities.NewExtractor(&stubLLM{response: "{}"}),
		cve.NewNVDClient(nvd.URL, "test-key"),
		cve.NewKEVCache(kev.URL),
		briefing.NewGenerator(&stubLLM{response: briefingJSON}),
		reports.NewBuilder(db, &stubLLM{response: "## Executive Summary\nBusy day."}),
		exposure.NewEngine(db),
	)

	return &testHarness{
		db:       db,
		pipeline: pipe,
		nvdCalls: &nvdCalls,
		nvdDown:  &nvdDown,
		servers:  []*httptest.Server{content, feed, nvd, kev},
	}
}

func TestRun_EndToEnd(t *testing.T) {
	h := newHarness(t)
	defer h.Close()
	ctx := context.Background()

	result := h.pipeline.Run(ctx, "u1")

	if len(result.Errors) != 0 {
		t.Fatalf("Errors = %v", result.Errors)
	}
	if result.Scraped != 3 {
		t.Errorf("Scraped = %d, want 3", result.Scraped)
	}
	if result.Matched != 2 {
		t.Errorf("Matched = %d, want the 2 fortinet articles", result.Matched)
	}
	if result.Summarized == 0 {
		t.Error("expected at least one briefed group")
	}

	// Both matched articles mention the same CVE: one NVD call total.
	if got := h.nvdCalls.Load(); got != 1 {
		t.Errorf("NVD called %d times, want 1", got)
	}

	// The enriched CVE matched the declared stack exactly.
	exp, err := h.db.Exposures().Get(ctx, "u1", "CVE-2024-21762")
	if err != nil {
		t.Fatalf("exposure record missing: %v", err)
	}
	if exp.ExposureState != core.ExposureVulnerable {
		t.Errorf("state = %q, want VULNERABLE", exp.ExposureState)
	}
	if !exp.AutoClassified {
		t.Error("expected auto classification")
	}
	if exp.RemediationDeadline == nil {
		t.Error("expected the KEV due date as remediation deadline")
	}

	// All three period reports were built.
	for _, period := range []core.ReportPeriod{core.Period1d, core.Period7d, core.Period30d} {
		report, err := h.db.PeriodReports().Get(ctx, "u1", period)
		if err != nil {
			t.Errorf("%s report missing: %v", period, err)
			continue
		}
		if report.Stats.TotalStories == 0 {
			t.Errorf("%s report has no stories", period)
		}
		if report.Summary == "" {
			t.Errorf("%s report has no summary", period)
		}
	}

	// Groups carry the briefing fields.
	groups, _ := h.db.NewsGroups().ListByUser(ctx, "u1", 0)
	if len(groups) == 0 {
		t.Fatal("no groups created")
	}
	briefed := false
	for _, g := range groups {
		if g.Synopsis != "" && g.CaseType == core.CaseActivelyExploited {
			briefed = true
		}
	}
	if !briefed {
		t.Error("no group carries the generated briefing")
	}
}

func TestRun_SecondRunIdempotent(t *testing.T) {
	h := newHarness(t)
	defer h.Close()
	ctx := context.Background()

	first := h.pipeline.Run(ctx, "u1")
	if first.Matched != 2 {
		t.Fatalf("first run Matched = %d", first.Matched)
	}

	second := h.pipeline.Run(ctx, "u1")
	if len(second.Errors) != 0 {
		t.Fatalf("second run Errors = %v", second.Errors)
	}
	if second.Matched != 0 {
		t.Errorf("second run Matched = %d, want 0 for already-known URLs", second.Matched)
	}
	if second.Summarized != 0 {
		t.Errorf("second run Summarized = %d, want 0 without new groups", second.Summarized)
	}
	if got := h.nvdCalls.Load(); got != 1 {
		t.Errorf("NVD called %d times across two runs, want 1", got)
	}
}

func TestRun_NVDOutageRetriedNextRun(t *testing.T) {
	h := newHarness(t)
	defer h.Close()
	ctx := context.Background()

	h.nvdDown.Store(true)
	first := h.pipeline.Run(ctx, "u1")
	if first.Matched != 2 {
		t.Fatalf("first run Matched = %d", first.Matched)
	}
	if got := h.nvdCalls.Load(); got != 1 {
		t.Fatalf("NVD called %d times during the outage, want 1", got)
	}

	// The failed enrichment must leave no trace: no enriched row, no
	// exposure record, and the articles stay eligible for a retry.
	enriched, err := h.db.ArticleCVEs().FindEnriched(ctx, []string{"CVE-2024-21762"})
	if err != nil {
		t.Fatalf("FindEnriched failed: %v", err)
	}
	if len(enriched) != 0 {
		t.Errorf("enriched rows after failed fetch = %v", enriched)
	}
	if _, err := h.db.Exposures().Get(ctx, "u1", "CVE-2024-21762"); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("exposure Get err = %v, want ErrNotFound after a failed fetch", err)
	}

	h.nvdDown.Store(false)
	second := h.pipeline.Run(ctx, "u1")
	if len(second.Errors) != 0 {
		t.Fatalf("second run Errors = %v", second.Errors)
	}
	if got := h.nvdCalls.Load(); got != 2 {
		t.Errorf("NVD called %d times across both runs, want a retry after recovery", got)
	}

	enriched, err = h.db.ArticleCVEs().FindEnriched(ctx, []string{"CVE-2024-21762"})
	if err != nil {
		t.Fatalf("FindEnriched failed: %v", err)
	}
	if row, ok := enriched["CVE-2024-21762"]; !ok || row.CVSSScore == nil || *row.CVSSScore != 9.8 {
		t.Errorf("enriched row after recovery = %+v", enriched)
	}
	exp, err := h.db.Exposures().Get(ctx, "u1", "CVE-2024-21762")
	if err != nil {
		t.Fatalf("exposure record missing after recovery: %v", err)
	}
	if exp.ExposureState != core.ExposureVulnerable {
		t.Errorf("state = %q, want VULNERABLE", exp.ExposureState)
	}
}

func TestRun_UnknownUser(t *testing.T) {
	h := newHarness(t)
	defer h.Close()

	result := h.pipeline.Run(context.Background(), "ghost")
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "[load-user]") {
		t.Errorf("Errors = %v, want a load-user failure", result.Errors)
	}
	if result.Scraped != 0 || result.Matched != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestRun_NoSources(t *testing.T) {
	h := newHarness(t)
	defer h.Close()
	ctx := context.Background()

	h.db.SeedUser(core.User{ID: "u2"})
	result := h.pipeline.Run(ctx, "u2")

	if len(result.Errors) != 0 {
		t.Fatalf("Errors = %v", result.Errors)
	}
	if result.Scraped != 0 || result.Matched != 0 || result.Summarized != 0 {
		t.Errorf("result = %+v, want all zeros", result)
	}

	// Reports are still produced, just empty.
	report, err := h.db.PeriodReports().Get(ctx, "u2", core.Period1d)
	if err != nil {
		t.Fatalf("1d report missing: %v", err)
	}
	if report.Stats.TotalStories != 0 {
		t.Errorf("TotalStories = %d", report.Stats.TotalStories)
	}
}

func TestStageError(t *testing.T) {
	err := &StageError{Stage: "cves", Err: fmt.Errorf("boom")}
	if err.Error() != "[cves] boom" {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.Unwrap() == nil {
		t.Error("Unwrap returned nil")
	}
}
