package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cyberbrief/internal/core"
)

type pgTechStackRepo struct{ db *sql.DB }

func (r *pgTechStackRepo) Create(ctx context.Context, item *core.TechStackItem) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tech_stack_items (id, user_id, vendor, product, version, category, cpe_pattern, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.UserID, item.Vendor, item.Product, item.Version,
		item.Category, item.CPEPattern, item.Active)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create tech stack item: %w", err)
	}
	return nil
}

func (r *pgTechStackRepo) ListActiveByUser(ctx context.Context, userID string) ([]core.TechStackItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, vendor, product, version, category, cpe_pattern, active
		FROM tech_stack_items WHERE user_id = $1 AND active ORDER BY vendor, product`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tech stack: %w", err)
	}
	defer rows.Close()

	var items []core.TechStackItem
	for rows.Next() {
		var item core.TechStackItem
		if err := rows.Scan(&item.ID, &item.UserID, &item.Vendor, &item.Product,
			&item.Version, &item.Category, &item.CPEPattern, &item.Active); err != nil {
			return nil, fmt.Errorf("failed to scan tech stack item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *pgTechStackRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tech_stack_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tech stack item: %w", err)
	}
	return nil
}

type pgExposureRepo struct{ db *sql.DB }

const exposureColumns = `user_id, cve_id, article_cve_id, tech_stack_item_id, exposure_state,
	auto_classified, matched_cpe, first_detected_at, patched_at, remediation_deadline, notes`

func (r *pgExposureRepo) Get(ctx context.Context, userID, cveID string) (*core.UserCVEExposure, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+exposureColumns+` FROM user_cve_exposures WHERE user_id = $1 AND cve_id = $2`,
		userID, cveID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exposure: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	e, err := scanExposure(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertAuto writes an auto classification. The conflict clause's WHERE guard
// makes manual rows immovable, and first_detected_at keeps its original value
// across updates.
func (r *pgExposureRepo) UpsertAuto(ctx context.Context, exposure *core.UserCVEExposure) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_cve_exposures (`+exposureColumns+`)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, cve_id) DO UPDATE SET
			article_cve_id = EXCLUDED.article_cve_id,
			tech_stack_item_id = EXCLUDED.tech_stack_item_id,
			exposure_state = EXCLUDED.exposure_state,
			matched_cpe = EXCLUDED.matched_cpe,
			remediation_deadline = EXCLUDED.remediation_deadline
		WHERE user_cve_exposures.auto_classified`,
		exposure.UserID, exposure.CVEID, exposure.ArticleCVEID, exposure.TechStackItemID,
		exposure.ExposureState, exposure.MatchedCPE, exposure.FirstDetectedAt,
		exposure.PatchedAt, exposure.RemediationDeadline, exposure.Notes)
	if err != nil {
		return fmt.Errorf("failed to upsert exposure: %w", err)
	}
	return nil
}

func (r *pgExposureRepo) SetManual(ctx context.Context, exposure *core.UserCVEExposure) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_cve_exposures (`+exposureColumns+`)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, cve_id) DO UPDATE SET
			exposure_state = EXCLUDED.exposure_state,
			auto_classified = FALSE,
			patched_at = EXCLUDED.patched_at,
			remediation_deadline = EXCLUDED.remediation_deadline,
			notes = EXCLUDED.notes`,
		exposure.UserID, exposure.CVEID, exposure.ArticleCVEID, exposure.TechStackItemID,
		exposure.ExposureState, exposure.MatchedCPE, exposure.FirstDetectedAt,
		exposure.PatchedAt, exposure.RemediationDeadline, exposure.Notes)
	if err != nil {
		return fmt.Errorf("failed to set manual exposure: %w", err)
	}
	return nil
}

func (r *pgExposureRepo) ListByUser(ctx context.Context, userID string) ([]core.UserCVEExposure, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+exposureColumns+` FROM user_cve_exposures WHERE user_id = $1 ORDER BY cve_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list exposures: %w", err)
	}
	defer rows.Close()

	var exposures []core.UserCVEExposure
	for rows.Next() {
		e, err := scanExposure(rows)
		if err != nil {
			return nil, err
		}
		exposures = append(exposures, e)
	}
	return exposures, rows.Err()
}

func scanExposure(rows *sql.Rows) (core.UserCVEExposure, error) {
	var e core.UserCVEExposure
	var patched, deadline sql.NullTime
	if err := rows.Scan(&e.UserID, &e.CVEID, &e.ArticleCVEID, &e.TechStackItemID,
		&e.ExposureState, &e.AutoClassified, &e.MatchedCPE, &e.FirstDetectedAt,
		&patched, &deadline, &e.Notes); err != nil {
		return e, fmt.Errorf("failed to scan exposure: %w", err)
	}
	if patched.Valid {
		t := patched.Time
		e.PatchedAt = &t
	}
	if deadline.Valid {
		t := deadline.Time
		e.RemediationDeadline = &t
	}
	return e, nil
}

type pgPeriodReportRepo struct{ db *sql.DB }

func (r *pgPeriodReportRepo) Upsert(ctx context.Context, report *core.PeriodReport) error {
	stats, err := json.Marshal(report.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode report stats: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO period_reports (user_id, period, from_date, to_date, summary, stats, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, period) DO UPDATE SET
			from_date = EXCLUDED.from_date,
			to_date = EXCLUDED.to_date,
			summary = EXCLUDED.summary,
			stats = EXCLUDED.stats,
			generated_at = EXCLUDED.generated_at`,
		report.UserID, report.Period, report.FromDate, report.ToDate,
		report.Summary, stats, report.GeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert period report: %w", err)
	}
	return nil
}

func (r *pgPeriodReportRepo) Get(ctx context.Context, userID string, period core.ReportPeriod) (*core.PeriodReport, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, period, from_date, to_date, summary, stats, generated_at
		FROM period_reports WHERE user_id = $1 AND period = $2`, userID, period)

	var report core.PeriodReport
	var stats []byte
	err := row.Scan(&report.UserID, &report.Period, &report.FromDate, &report.ToDate,
		&report.Summary, &stats, &report.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan period report: %w", err)
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &report.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode report stats: %w", err)
		}
	}
	return &report, nil
}

type pgSnapshotRepo struct{ db *sql.DB }

func (r *pgSnapshotRepo) Upsert(ctx context.Context, snap *core.PeriodSnapshot) error {
	metrics, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot metrics: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO period_snapshots (user_id, period, snap_date, metrics)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, period, snap_date) DO UPDATE SET metrics = EXCLUDED.metrics`,
		snap.UserID, snap.Period, snap.SnapDate, metrics)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

func (r *pgSnapshotRepo) LatestBefore(ctx context.Context, userID string, period core.ReportPeriod, cutoff time.Time) (*core.PeriodSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, period, snap_date, metrics
		FROM period_snapshots
		WHERE user_id = $1 AND period = $2 AND snap_date <= $3
		ORDER BY snap_date DESC LIMIT 1`, userID, period, cutoff)

	var snap core.PeriodSnapshot
	var metrics []byte
	err := row.Scan(&snap.UserID, &snap.Period, &snap.SnapDate, &metrics)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &snap.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot metrics: %w", err)
		}
	}
	return &snap, nil
}
