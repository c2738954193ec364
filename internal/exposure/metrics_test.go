package exposure

import (
	"context"
	"testing"
	"time"

	"cyberbrief/internal/core"
	"cyberbrief/internal/persistence"
)

func day(d int) time.Time {
	return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
}

func dayPtr(d int) *time.Time {
	t := day(d)
	return &t
}

func TestComputeMetrics(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	critical := 9.8
	high := 7.5

	exposures := []core.UserCVEExposure{
		// Vulnerable, in KEV, overdue, critical.
		{CVEID: "CVE-1", ExposureState: core.ExposureVulnerable, RemediationDeadline: dayPtr(10)},
		// Vulnerable, not in KEV, high severity.
		{CVEID: "CVE-2", ExposureState: core.ExposureVulnerable},
		// Fixed in 3 days, met the deadline.
		{CVEID: "CVE-3", ExposureState: core.ExposureFixed,
			FirstDetectedAt: day(1), PatchedAt: dayPtr(4), RemediationDeadline: dayPtr(5)},
		// Fixed in 7 days, missed the deadline.
		{CVEID: "CVE-4", ExposureState: core.ExposureFixed,
			FirstDetectedAt: day(1), PatchedAt: dayPtr(8), RemediationDeadline: dayPtr(5)},
		{CVEID: "CVE-5", ExposureState: core.ExposureNotApplicable},
		{CVEID: "CVE-6", ExposureState: core.ExposureIndirect},
	}

	cveInfo := map[string]core.ArticleCVE{
		"CVE-1": {CVEID: "CVE-1", InKEV: true, CVSSScore: &critical},
		"CVE-2": {CVEID: "CVE-2", CVSSScore: &high},
	}

	m := ComputeMetrics(exposures, cveInfo, now)

	if m.Vulnerable != 2 || m.Fixed != 2 || m.NotApplicable != 1 || m.Indirect != 1 {
		t.Errorf("counts = %+v", m)
	}
	if m.PatchRate != 50 {
		t.Errorf("PatchRate = %v, want 50", m.PatchRate)
	}
	if m.SLACompliance != 50 {
		t.Errorf("SLACompliance = %v, want 50", m.SLACompliance)
	}
	if m.MTTRDays != 5 {
		t.Errorf("MTTRDays = %v, want 5", m.MTTRDays)
	}
	if m.MedianTTRDays != 5 {
		t.Errorf("MedianTTRDays = %v, want 5", m.MedianTTRDays)
	}
	if m.KEVExposed != 1 {
		t.Errorf("KEVExposed = %v, want 1", m.KEVExposed)
	}
	if m.KEVOverdue != 1 {
		t.Errorf("KEVOverdue = %v, want 1", m.KEVOverdue)
	}
	if m.CriticalExposed != 1 {
		t.Errorf("CriticalExposed = %v, want 1", m.CriticalExposed)
	}
	if m.AvgCVSSExposed != 8.7 {
		t.Errorf("AvgCVSSExposed = %v, want 8.7", m.AvgCVSSExposed)
	}
}

func TestComputeMetrics_EmptyLedger(t *testing.T) {
	m := ComputeMetrics(nil, nil, time.Now())
	if m.PatchRate != 0 {
		t.Errorf("PatchRate = %v, want 0 with an empty denominator", m.PatchRate)
	}
	if m.SLACompliance != 100 {
		t.Errorf("SLACompliance = %v, want 100 with no deadlines", m.SLACompliance)
	}
	if m.MTTRDays != 0 || m.MedianTTRDays != 0 {
		t.Errorf("TTR = %v/%v, want 0", m.MTTRDays, m.MedianTTRDays)
	}
}

func TestComputeMetrics_Rounding(t *testing.T) {
	exposures := []core.UserCVEExposure{
		{CVEID: "CVE-1", ExposureState: core.ExposureVulnerable},
		{CVEID: "CVE-2", ExposureState: core.ExposureVulnerable},
		{CVEID: "CVE-3", ExposureState: core.ExposureFixed,
			FirstDetectedAt: day(1), PatchedAt: dayPtr(2)},
	}
	m := ComputeMetrics(exposures, nil, time.Now())
	// 1/3 of the vulnerable+fixed population is fixed.
	if m.PatchRate != 33.3 {
		t.Errorf("PatchRate = %v, want 33.3", m.PatchRate)
	}
}

func TestSnapshotAndDelta(t *testing.T) {
	db := persistence.NewMemoryDB()
	engine := NewEngine(db)
	now := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	ctx := context.Background()

	baseline := core.ExposureMetrics{Vulnerable: 5, Fixed: 1, PatchRate: 16.7, SLACompliance: 100, KEVExposed: 2}

	// Baseline snapshot taken eight days ago.
	now = now.AddDate(0, 0, -8)
	if err := engine.Snapshot(ctx, "u1", core.Period7d, baseline); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	now = now.AddDate(0, 0, 8)

	current := core.ExposureMetrics{Vulnerable: 3, Fixed: 4, PatchRate: 57.1, SLACompliance: 75, KEVExposed: 1}
	delta, err := engine.Delta(ctx, "u1", core.Period7d, current)
	if err != nil {
		t.Fatalf("Delta failed: %v", err)
	}
	if delta == nil {
		t.Fatal("expected a delta")
	}
	if delta.Vulnerable != -2 || delta.Fixed != 3 {
		t.Errorf("delta = %+v", delta)
	}
	if delta.PatchRate != 40.4 {
		t.Errorf("PatchRate delta = %v, want 40.4", delta.PatchRate)
	}
	if delta.SLACompliance != -25 {
		t.Errorf("SLACompliance delta = %v, want -25", delta.SLACompliance)
	}
	if delta.KEVExposed != -1 {
		t.Errorf("KEVExposed delta = %v, want -1", delta.KEVExposed)
	}
}

func TestDelta_NoBaseline(t *testing.T) {
	db := persistence.NewMemoryDB()
	engine := NewEngine(db)

	delta, err := engine.Delta(context.Background(), "u1", core.Period7d, core.ExposureMetrics{})
	if err != nil {
		t.Fatalf("Delta failed: %v", err)
	}
	if delta != nil {
		t.Errorf("delta = %+v, want nil without a baseline snapshot", delta)
	}
}

func TestSnapshot_SameDayReplaces(t *testing.T) {
	db := persistence.NewMemoryDB()
	engine := NewEngine(db)
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	ctx := context.Background()

	_ = engine.Snapshot(ctx, "u1", core.Period1d, core.ExposureMetrics{Vulnerable: 1})
	now = now.Add(6 * time.Hour)
	_ = engine.Snapshot(ctx, "u1", core.Period1d, core.ExposureMetrics{Vulnerable: 2})

	snap, err := db.Snapshots().LatestBefore(ctx, "u1", core.Period1d, now)
	if err != nil {
		t.Fatalf("LatestBefore failed: %v", err)
	}
	if snap.Metrics.Vulnerable != 2 {
		t.Errorf("Vulnerable = %d, want the later snapshot to replace the earlier", snap.Metrics.Vulnerable)
	}
	wantDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if !snap.SnapDate.Equal(wantDate) {
		t.Errorf("SnapDate = %v, want UTC midnight", snap.SnapDate)
	}
}
