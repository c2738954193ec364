package exposure

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cyberbrief/internal/core"
	"cyberbrief/internal/logger"
	"cyberbrief/internal/persistence"
)

// MatchLevel ranks how specifically a CVE's CPE matched a stack item. Higher
// is more specific.
type MatchLevel int

const (
	MatchNone MatchLevel = iota
	MatchVendor
	MatchProduct
	MatchExact
)

// Match is the best pairing found for one CVE.
type Match struct {
	Level MatchLevel
	Item  *core.TechStackItem
	CPE   string
}

// matchItem ranks one CPE string against one stack item. The version matches
// when it is equal, or when the item's version string starts with the CPE
// version token.
func matchItem(cpe *CPE, item core.TechStackItem) MatchLevel {
	if cpe.Vendor != item.Vendor {
		return MatchNone
	}
	if cpe.Product != item.Product {
		return MatchVendor
	}
	if versionMatches(cpe.Version, item.Version) {
		return MatchExact
	}
	return MatchProduct
}

func versionMatches(cpeVersion, itemVersion string) bool {
	if cpeVersion == "*" || cpeVersion == "-" {
		// Wildcard CPE version against a concrete item version stays at
		// product confidence.
		return itemVersion == ""
	}
	if itemVersion == "" {
		return false
	}
	return itemVersion == cpeVersion || strings.HasPrefix(itemVersion, cpeVersion)
}

// BestMatch scans all CPE strings against all stack items and keeps the
// highest-ranked pairing. Unparseable CPE strings are skipped.
func BestMatch(cpeStrings []string, items []core.TechStackItem) Match {
	best := Match{Level: MatchNone}
	for _, raw := range cpeStrings {
		cpe, err := ParseCPE(raw)
		if err != nil {
			continue
		}
		for i := range items {
			level := matchItem(cpe, items[i])
			if level > best.Level {
				best = Match{Level: level, Item: &items[i], CPE: raw}
			}
		}
	}
	return best
}

// ClassifyState maps a match level to an exposure state.
func ClassifyState(level MatchLevel) core.ExposureState {
	switch level {
	case MatchExact, MatchProduct:
		return core.ExposureVulnerable
	case MatchVendor:
		return core.ExposureIndirect
	default:
		return core.ExposureNotApplicable
	}
}

// Engine runs exposure classification against the persistence layer.
type Engine struct {
	db  persistence.Database
	now func() time.Time
}

// NewEngine creates an exposure engine.
func NewEngine(db persistence.Database) *Engine {
	return &Engine{db: db, now: time.Now}
}

// MatchBatch classifies a batch of article CVEs for one user. Each distinct
// CVE is evaluated once against the user's active stack. CVEs without CPE
// data are skipped; CVEs with CPEs but no match get a single NOT_APPLICABLE
// record with no stack item. Manual classifications are preserved by the
// repository's auto-upsert.
func (e *Engine) MatchBatch(ctx context.Context, userID string, cves []core.ArticleCVE) error {
	items, err := e.db.TechStack().ListActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load tech stack for user %s: %w", userID, err)
	}
	if len(items) == 0 {
		return nil
	}

	byID := distinctByID(cves)
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cve := byID[id]
		if len(cve.CPEMatches) == 0 {
			continue
		}
		if err := e.classify(ctx, userID, cve, items); err != nil {
			logger.Warn("exposure classification failed",
				"userId", userID, "cveId", id, "reason", err.Error())
		}
	}
	return nil
}

func (e *Engine) classify(ctx context.Context, userID string, cve core.ArticleCVE, items []core.TechStackItem) error {
	match := BestMatch(cve.CPEMatches, items)

	exposure := &core.UserCVEExposure{
		UserID:          userID,
		CVEID:           cve.CVEID,
		ExposureState:   ClassifyState(match.Level),
		AutoClassified:  true,
		FirstDetectedAt: e.now().UTC(),
	}
	if match.Item != nil {
		exposure.TechStackItemID = match.Item.ID
		exposure.MatchedCPE = match.CPE
	}
	if exposure.ExposureState == core.ExposureVulnerable && cve.KEVDueDate != nil {
		exposure.RemediationDeadline = cve.KEVDueDate
	}
	return e.db.Exposures().UpsertAuto(ctx, exposure)
}

// RetroactiveMatch reclassifies the user's known CVEs against one newly added
// stack item. Only exact and product matches produce records here, and CVEs
// with a manual classification are skipped.
func (e *Engine) RetroactiveMatch(ctx context.Context, userID string, item core.TechStackItem) error {
	articleIDs, err := e.db.UserArticles().ListMatchedArticleIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list matched articles for user %s: %w", userID, err)
	}
	if len(articleIDs) == 0 {
		return nil
	}

	cves, err := e.db.ArticleCVEs().ListByArticles(ctx, articleIDs)
	if err != nil {
		return fmt.Errorf("failed to list CVEs for user %s: %w", userID, err)
	}

	byID := distinctByID(cves)
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := []core.TechStackItem{item}
	for _, id := range ids {
		cve := byID[id]
		if len(cve.CPEMatches) == 0 {
			continue
		}

		existing, err := e.db.Exposures().Get(ctx, userID, id)
		if err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return fmt.Errorf("failed to load exposure for %s: %w", id, err)
		}
		if existing != nil && !existing.AutoClassified {
			continue
		}

		match := BestMatch(cve.CPEMatches, items)
		if match.Level != MatchExact && match.Level != MatchProduct {
			continue
		}

		exposure := &core.UserCVEExposure{
			UserID:          userID,
			CVEID:           id,
			TechStackItemID: item.ID,
			ExposureState:   core.ExposureVulnerable,
			AutoClassified:  true,
			MatchedCPE:      match.CPE,
			FirstDetectedAt: e.now().UTC(),
		}
		if cve.KEVDueDate != nil {
			exposure.RemediationDeadline = cve.KEVDueDate
		}
		if err := e.db.Exposures().UpsertAuto(ctx, exposure); err != nil {
			logger.Warn("retroactive exposure upsert failed",
				"userId", userID, "cveId", id, "reason", err.Error())
		}
	}
	return nil
}

// distinctByID collapses article CVE rows to one per CVE ID, preferring
// enriched rows so CPE data is never lost to an unenriched duplicate.
func distinctByID(cves []core.ArticleCVE) map[string]core.ArticleCVE {
	byID := make(map[string]core.ArticleCVE)
	for _, cve := range cves {
		existing, ok := byID[cve.CVEID]
		if !ok || (!existing.Enriched() && cve.Enriched()) {
			byID[cve.CVEID] = cve
		}
	}
	return byID
}
