package exposure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"cyberbrief/internal/core"
	"cyberbrief/internal/persistence"
)

// ComputeMetrics aggregates a user's exposure ledger into remediation
// metrics. cveInfo supplies KEV and CVSS data keyed by CVE ID; exposures
// whose CVE is absent simply don't contribute to the KEV and CVSS figures.
// All float outputs are rounded to one decimal.
func ComputeMetrics(exposures []core.UserCVEExposure, cveInfo map[string]core.ArticleCVE, now time.Time) core.ExposureMetrics {
	var m core.ExposureMetrics

	var ttrDays []float64
	var slaMet, slaTotal int
	var cvssSum float64
	var cvssCount int

	for _, exp := range exposures {
		info, hasInfo := cveInfo[exp.CVEID]

		switch exp.ExposureState {
		case core.ExposureVulnerable:
			m.Vulnerable++
			if hasInfo {
				if info.InKEV {
					m.KEVExposed++
					if exp.RemediationDeadline != nil && exp.RemediationDeadline.Before(now) {
						m.KEVOverdue++
					}
				}
				if info.CVSSScore != nil {
					cvssSum += *info.CVSSScore
					cvssCount++
					if *info.CVSSScore >= 9 {
						m.CriticalExposed++
					}
				}
			}
		case core.ExposureFixed:
			m.Fixed++
			if exp.PatchedAt != nil {
				ttrDays = append(ttrDays, exp.PatchedAt.Sub(exp.FirstDetectedAt).Hours()/24)
			}
			if exp.RemediationDeadline != nil {
				slaTotal++
				if exp.PatchedAt != nil && !exp.PatchedAt.After(*exp.RemediationDeadline) {
					slaMet++
				}
			}
		case core.ExposureNotApplicable:
			m.NotApplicable++
		case core.ExposureIndirect:
			m.Indirect++
		}
	}

	if denom := m.Vulnerable + m.Fixed; denom > 0 {
		m.PatchRate = round1(float64(m.Fixed) / float64(denom) * 100)
	}
	if slaTotal > 0 {
		m.SLACompliance = round1(float64(slaMet) / float64(slaTotal) * 100)
	} else {
		m.SLACompliance = 100
	}
	if len(ttrDays) > 0 {
		m.MTTRDays = round1(mean(ttrDays))
		m.MedianTTRDays = round1(median(ttrDays))
	}
	if cvssCount > 0 {
		m.AvgCVSSExposed = round1(cvssSum / float64(cvssCount))
	}
	return m
}

// Metrics loads the user's ledger and enrichment data and computes the
// current remediation metrics.
func (e *Engine) Metrics(ctx context.Context, userID string) (core.ExposureMetrics, error) {
	exposures, err := e.db.Exposures().ListByUser(ctx, userID)
	if err != nil {
		return core.ExposureMetrics{}, fmt.Errorf("failed to load exposures for user %s: %w", userID, err)
	}

	ids := make([]string, 0, len(exposures))
	for _, exp := range exposures {
		ids = append(ids, exp.CVEID)
	}
	cveInfo, err := e.db.ArticleCVEs().FindEnriched(ctx, ids)
	if err != nil {
		return core.ExposureMetrics{}, fmt.Errorf("failed to load CVE data for user %s: %w", userID, err)
	}

	return ComputeMetrics(exposures, cveInfo, e.now().UTC()), nil
}

// Snapshot stores today's metrics at UTC midnight for the period, replacing
// any snapshot already taken today.
func (e *Engine) Snapshot(ctx context.Context, userID string, period core.ReportPeriod, metrics core.ExposureMetrics) error {
	now := e.now().UTC()
	snap := &core.PeriodSnapshot{
		UserID:   userID,
		Period:   period,
		SnapDate: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		Metrics:  metrics,
	}
	if err := e.db.Snapshots().Upsert(ctx, snap); err != nil {
		return fmt.Errorf("failed to store %s snapshot for user %s: %w", period, userID, err)
	}
	return nil
}

// MetricsDelta is the change in each metric since the comparison snapshot.
type MetricsDelta struct {
	Vulnerable      int     `json:"vulnerable"`
	Fixed           int     `json:"fixed"`
	PatchRate       float64 `json:"patch_rate"`
	SLACompliance   float64 `json:"sla_compliance"`
	MTTRDays        float64 `json:"mttr_days"`
	KEVExposed      int     `json:"kev_exposed"`
	KEVOverdue      int     `json:"kev_overdue"`
	CriticalExposed int     `json:"critical_exposed"`
}

// Delta compares current metrics against the newest snapshot at or before
// now minus the period span. Without a baseline snapshot it returns nil.
func (e *Engine) Delta(ctx context.Context, userID string, period core.ReportPeriod, current core.ExposureMetrics) (*MetricsDelta, error) {
	days := core.PeriodDays[period]
	cutoff := e.now().UTC().AddDate(0, 0, -days)

	baseline, err := e.db.Snapshots().LatestBefore(ctx, userID, period, cutoff)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load baseline snapshot for user %s: %w", userID, err)
	}

	prev := baseline.Metrics
	return &MetricsDelta{
		Vulnerable:      current.Vulnerable - prev.Vulnerable,
		Fixed:           current.Fixed - prev.Fixed,
		PatchRate:       round1(current.PatchRate - prev.PatchRate),
		SLACompliance:   round1(current.SLACompliance - prev.SLACompliance),
		MTTRDays:        round1(current.MTTRDays - prev.MTTRDays),
		KEVExposed:      current.KEVExposed - prev.KEVExposed,
		KEVOverdue:      current.KEVOverdue - prev.KEVOverdue,
		CriticalExposed: current.CriticalExposed - prev.CriticalExposed,
	}, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
