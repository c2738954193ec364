package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cyberbrief/internal/config"
	"cyberbrief/internal/core"
	"cyberbrief/internal/exposure"
	"cyberbrief/internal/persistence"
)

func newTestServer(t *testing.T) (*Server, *persistence.MemoryDB) {
	t.Helper()
	db := persistence.NewMemoryDB()
	db.SeedUser(core.User{ID: "u1", Email: "u1@example.com"})
	engine := exposure.NewEngine(db)
	return New(db, nil, engine, config.Server{Addr: ":0"}, ""), db
}

func doRequest(t *testing.T, s *Server, method, path, userID string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 without authentication", rec.Code)
	}
}

func TestRequireUser(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/feed/brief", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/feed/brief", "ghost", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown user status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/feed/brief", "u1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("known user status = %d, want 200", rec.Code)
	}
}

func seedGroups(t *testing.T, db *persistence.MemoryDB, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		groupID := fmt.Sprintf("g%d", i)
		if err := db.NewsGroups().Create(ctx, &core.NewsGroup{
			ID:     groupID,
			UserID: "u1",
			Date:   time.Now().UTC().Add(-time.Duration(i) * time.Hour),
			Title:  "Story " + groupID,
		}); err != nil {
			t.Fatalf("seed group: %v", err)
		}
		if err := db.UserArticles().Upsert(ctx, &core.UserArticle{
			UserID:      "u1",
			ArticleID:   groupID + "-article",
			Matched:     true,
			NewsGroupID: groupID,
		}); err != nil {
			t.Fatalf("seed link: %v", err)
		}
	}
}

func TestFeedBrief(t *testing.T) {
	s, db := newTestServer(t)
	seedGroups(t, db, 3)

	var resp struct {
		Stories []struct {
			ID         string   `json:"id"`
			ArticleIDs []string `json:"article_ids"`
		} `json:"stories"`
	}

	rec := doRequest(t, s, http.MethodGet, "/api/feed/brief", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Stories) != 3 {
		t.Errorf("got %d stories, want 3", len(resp.Stories))
	}
	if len(resp.Stories) > 0 && len(resp.Stories[0].ArticleIDs) != 1 {
		t.Errorf("ArticleIDs = %v, want the linked article", resp.Stories[0].ArticleIDs)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/feed/brief?limit=2", "u1", "")
	resp.Stories = nil
	decodeJSON(t, rec, &resp)
	if len(resp.Stories) != 2 {
		t.Errorf("limit=2 returned %d stories", len(resp.Stories))
	}

	// Out-of-range limits fall back to the default.
	for _, raw := range []string{"0", "-5", "500", "nope"} {
		rec = doRequest(t, s, http.MethodGet, "/api/feed/brief?limit="+raw, "u1", "")
		resp.Stories = nil
		decodeJSON(t, rec, &resp)
		if len(resp.Stories) != 3 {
			t.Errorf("limit=%s returned %d stories, want all 3 under the default", raw, len(resp.Stories))
		}
	}
}

func TestSetExposure(t *testing.T) {
	s, db := newTestServer(t)

	rec := doRequest(t, s, http.MethodPut, "/api/exposure/CVE-2024-21762", "u1",
		`{"exposure_state": "FIXED"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var row core.UserCVEExposure
	decodeJSON(t, rec, &row)
	if row.ExposureState != core.ExposureFixed {
		t.Errorf("state = %q", row.ExposureState)
	}
	// FIXED without an explicit patch date stamps one.
	if row.PatchedAt == nil {
		t.Error("PatchedAt not defaulted for FIXED")
	}
	if row.AutoClassified {
		t.Error("manual override marked auto")
	}

	stored, err := db.Exposures().Get(context.Background(), "u1", "CVE-2024-21762")
	if err != nil {
		t.Fatalf("stored row missing: %v", err)
	}
	if stored.ExposureState != core.ExposureFixed || stored.AutoClassified {
		t.Errorf("stored = %+v", stored)
	}
}

func TestSetExposure_InvalidInput(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPut, "/api/exposure/CVE-2024-1", "u1",
		`{"exposure_state": "PWNED"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid state status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPut, "/api/exposure/CVE-2024-1", "u1", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestListExposure(t *testing.T) {
	s, db := newTestServer(t)
	ctx := context.Background()

	for _, id := range []string{"CVE-2024-1", "CVE-2024-2"} {
		if err := db.Exposures().SetManual(ctx, &core.UserCVEExposure{
			UserID: "u1", CVEID: id, ExposureState: core.ExposureVulnerable,
			FirstDetectedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("seed exposure: %v", err)
		}
	}

	var resp struct {
		Exposures []core.UserCVEExposure `json:"exposures"`
	}
	rec := doRequest(t, s, http.MethodGet, "/api/exposure/", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Exposures) != 2 {
		t.Errorf("got %d exposures, want 2", len(resp.Exposures))
	}
}

func TestExposureMetrics(t *testing.T) {
	s, db := newTestServer(t)
	ctx := context.Background()

	patched := time.Now().UTC().Add(-24 * time.Hour)
	_ = db.Exposures().SetManual(ctx, &core.UserCVEExposure{
		UserID: "u1", CVEID: "CVE-2024-1", ExposureState: core.ExposureVulnerable,
		FirstDetectedAt: time.Now().UTC(),
	})
	_ = db.Exposures().SetManual(ctx, &core.UserCVEExposure{
		UserID: "u1", CVEID: "CVE-2024-2", ExposureState: core.ExposureFixed,
		FirstDetectedAt: time.Now().UTC().AddDate(0, 0, -4), PatchedAt: &patched,
	})

	var resp struct {
		Metrics core.ExposureMetrics   `json:"metrics"`
		Delta   *exposure.MetricsDelta `json:"delta"`
	}
	rec := doRequest(t, s, http.MethodGet, "/api/exposure/metrics", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	decodeJSON(t, rec, &resp)
	if resp.Metrics.Vulnerable != 1 || resp.Metrics.Fixed != 1 {
		t.Errorf("metrics = %+v", resp.Metrics)
	}
	if resp.Metrics.PatchRate != 50 {
		t.Errorf("PatchRate = %v", resp.Metrics.PatchRate)
	}
	if resp.Delta != nil {
		t.Error("delta present without a baseline snapshot")
	}

	// A snapshot older than the period enables the delta.
	if err := db.Snapshots().Upsert(ctx, &core.PeriodSnapshot{
		UserID:   "u1",
		Period:   core.Period7d,
		SnapDate: time.Now().UTC().AddDate(0, 0, -8).Truncate(24 * time.Hour),
		Metrics:  core.ExposureMetrics{Vulnerable: 3, Fixed: 0},
	}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	resp.Delta = nil
	rec = doRequest(t, s, http.MethodGet, "/api/exposure/metrics?period=7d", "u1", "")
	decodeJSON(t, rec, &resp)
	if resp.Delta == nil {
		t.Fatal("expected a delta with a 7d baseline")
	}
	if resp.Delta.Vulnerable != -2 || resp.Delta.Fixed != 1 {
		t.Errorf("delta = %+v", resp.Delta)
	}
}

func TestCreateTechStack(t *testing.T) {
	s, db := newTestServer(t)
	ctx := context.Background()

	// Historical story mentioning a CVE that hits the new item.
	if err := db.UserArticles().Upsert(ctx, &core.UserArticle{
		UserID: "u1", ArticleID: "a1", Matched: true,
	}); err != nil {
		t.Fatalf("seed link: %v", err)
	}
	if err := db.ArticleCVEs().Upsert(ctx, &core.ArticleCVE{
		ArticleID:  "a1",
		CVEID:      "CVE-2024-21762",
		CPEMatches: []string{"cpe:2.3:o:fortinet:fortios:7.0.0:*:*:*:*:*:*:*"},
	}); err != nil {
		t.Fatalf("seed cve: %v", err)
	}

	rec := doRequest(t, s, http.MethodPost, "/api/techstack/", "u1",
		`{"vendor": "Fortinet", "product": "FortiOS", "version": "7.0.0"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var item core.TechStackItem
	decodeJSON(t, rec, &item)
	if item.Vendor != "fortinet" || item.Product != "fortios" {
		t.Errorf("item = %+v, want normalized vendor and product", item)
	}
	if item.CPEPattern == "" {
		t.Error("CPEPattern not generated")
	}

	// The new item retroactively classifies the historical CVE.
	exp, err := db.Exposures().Get(ctx, "u1", "CVE-2024-21762")
	if err != nil {
		t.Fatalf("retroactive exposure missing: %v", err)
	}
	if exp.ExposureState != core.ExposureVulnerable {
		t.Errorf("state = %q, want VULNERABLE", exp.ExposureState)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/techstack/", "u1",
		`{"vendor": "Fortinet", "product": "FortiOS", "version": "7.0.0"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}
}

func TestCreateTechStack_Validation(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/techstack/", "u1", `{"vendor": "Fortinet"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing product status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/techstack/", "u1", `{`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestDeleteTechStack(t *testing.T) {
	s, db := newTestServer(t)
	ctx := context.Background()
	db.SeedTechStack(core.TechStackItem{ID: "item-1", UserID: "u1", Vendor: "fortinet", Product: "fortios", Active: true})

	rec := doRequest(t, s, http.MethodDelete, "/api/techstack/item-1", "u1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	items, err := db.TechStack().ListActiveByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("items = %v, want the item gone", items)
	}
}
