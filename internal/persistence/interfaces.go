// Package persistence provides database abstraction interfaces for the digest
// pipeline and the exposure engine. Uniqueness constraints are the only write
// coordination mechanism; every upsert leans on them so retries stay
// idempotent.
package persistence

import (
	"context"
	"errors"
	"time"

	"cyberbrief/internal/core"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when an insert violates a unique constraint.
// Persist loops swallow it and re-run the lookup.
var ErrDuplicate = errors.New("duplicate record")

// UserRepository handles user reads and digest bookkeeping.
type UserRepository interface {
	// Get retrieves a user by ID.
	Get(ctx context.Context, id string) (*core.User, error)

	// List retrieves all users.
	List(ctx context.Context) ([]core.User, error)

	// UpdateLastDigestAt records the completion time of a digest run.
	UpdateLastDigestAt(ctx context.Context, id string, at time.Time) error
}

// SourceRepository handles feed source reads.
type SourceRepository interface {
	// ListActiveByUser retrieves a user's active sources.
	ListActiveByUser(ctx context.Context, userID string) ([]core.Source, error)
}

// KeywordRepository handles keyword reads.
type KeywordRepository interface {
	// ListByUser retrieves a user's keywords.
	ListByUser(ctx context.Context, userID string) ([]core.Keyword, error)
}

// SignalRepository handles the industry signal taxonomy and per-article
// signal classifications.
type SignalRepository interface {
	// ListByIndustry retrieves the signal catalog for an industry.
	ListByIndustry(ctx context.Context, industryID string) ([]core.IndustrySignal, error)

	// UpsertArticleSignal inserts or updates a classification on the
	// (articleID, industrySignalID) pair, replacing confidence.
	UpsertArticleSignal(ctx context.Context, signal *core.ArticleSignal) error

	// ListArticleSignals retrieves classifications for a set of articles,
	// with the signal slug denormalized onto each row.
	ListArticleSignals(ctx context.Context, articleIDs []string) ([]core.ArticleSignal, error)
}

// ArticleRepository handles the cross-user article store. Articles are unique
// by URL.
type ArticleRepository interface {
	// Create inserts a new article. Returns ErrDuplicate when the URL
	// already exists.
	Create(ctx context.Context, article *core.Article) error

	// Get retrieves an article by ID.
	Get(ctx context.Context, id string) (*core.Article, error)

	// GetByURL retrieves an article by its URL.
	GetByURL(ctx context.Context, url string) (*core.Article, error)

	// ListByIDs retrieves a set of articles.
	ListByIDs(ctx context.Context, ids []string) ([]core.Article, error)

	// UpdateContent stores the fetched body for an article.
	UpdateContent(ctx context.Context, id, cleanText, rawHTML string, externalLinks []string) error

	// MarkEntitiesExtracted flips the cross-user entity extraction flag.
	MarkEntitiesExtracted(ctx context.Context, id string) error

	// MarkCVEsExtracted flips the cross-user CVE extraction flag.
	MarkCVEsExtracted(ctx context.Context, id string) error

	// ResetEnrichment clears both extraction flags. Administrative only.
	ResetEnrichment(ctx context.Context, id string) error
}

// UserArticleRepository handles the per-user article links, unique on
// (userID, articleID).
type UserArticleRepository interface {
	// Upsert inserts or updates a link.
	Upsert(ctx context.Context, link *core.UserArticle) error

	// KnownURLs returns the set of article URLs the user already has.
	KnownURLs(ctx context.Context, userID string) (map[string]bool, error)

	// ListUngroupedMatched retrieves matched links not yet assigned to a
	// news group.
	ListUngroupedMatched(ctx context.Context, userID string) ([]core.UserArticle, error)

	// AssignGroup sets the news group for a set of the user's articles.
	AssignGroup(ctx context.Context, userID, groupID string, articleIDs []string) error

	// ListMatchedArticleIDs returns the IDs of all articles the user has
	// matched.
	ListMatchedArticleIDs(ctx context.Context, userID string) ([]string, error)

	// ListByGroup retrieves the links assigned to a news group.
	ListByGroup(ctx context.Context, groupID string) ([]core.UserArticle, error)
}

// EntityRepository handles extracted article entities.
type EntityRepository interface {
	// CreateMany inserts entities, skipping rows that already exist.
	CreateMany(ctx context.Context, entities []core.ArticleEntity) error

	// ListByArticles retrieves entities for a set of articles.
	ListByArticles(ctx context.Context, articleIDs []string) ([]core.ArticleEntity, error)
}

// ArticleCVERepository handles enriched CVE mentions, unique on
// (articleID, cveID).
type ArticleCVERepository interface {
	// Upsert inserts or replaces an article's CVE row.
	Upsert(ctx context.Context, cve *core.ArticleCVE) error

	// ListByArticles retrieves CVE rows for a set of articles.
	ListByArticles(ctx context.Context, articleIDs []string) ([]core.ArticleCVE, error)

	// FindEnriched returns one enriched row per CVE ID from the given set,
	// for cross-article enrichment reuse.
	FindEnriched(ctx context.Context, cveIDs []string) (map[string]core.ArticleCVE, error)
}

// NewsGroupRepository handles story clusters.
type NewsGroupRepository interface {
	// Create inserts a new group.
	Create(ctx context.Context, group *core.NewsGroup) error

	// Get retrieves a group by ID.
	Get(ctx context.Context, id string) (*core.NewsGroup, error)

	// UpdateBriefing overwrites the narrative fields set by the briefing
	// generator.
	UpdateBriefing(ctx context.Context, group *core.NewsGroup) error

	// ListByUser retrieves a user's groups, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]core.NewsGroup, error)

	// ListWithArticlesSince retrieves groups that have at least one article
	// published at or after the given time.
	ListWithArticlesSince(ctx context.Context, userID string, since time.Time) ([]core.NewsGroup, error)
}

// TechStackRepository handles a user's declared technology inventory.
type TechStackRepository interface {
	// Create inserts a stack item. Returns ErrDuplicate on the
	// (userID, vendor, product, version) key.
	Create(ctx context.Context, item *core.TechStackItem) error

	// ListActiveByUser retrieves a user's active stack items.
	ListActiveByUser(ctx context.Context, userID string) ([]core.TechStackItem, error)

	// Delete removes a stack item.
	Delete(ctx context.Context, id string) error
}

// ExposureRepository handles the per-user CVE exposure ledger, unique on
// (userID, cveID).
type ExposureRepository interface {
	// Get retrieves a user's exposure for a CVE.
	Get(ctx context.Context, userID, cveID string) (*core.UserCVEExposure, error)

	// UpsertAuto inserts or updates an auto-classified exposure. Rows with
	// autoClassified=false are left untouched; FirstDetectedAt survives
	// updates.
	UpsertAuto(ctx context.Context, exposure *core.UserCVEExposure) error

	// SetManual overwrites an exposure with a manual classification and
	// clears the autoClassified flag.
	SetManual(ctx context.Context, exposure *core.UserCVEExposure) error

	// ListByUser retrieves all of a user's exposures.
	ListByUser(ctx context.Context, userID string) ([]core.UserCVEExposure, error)
}

// PeriodReportRepository handles rolled-up reports, unique on
// (userID, period).
type PeriodReportRepository interface {
	// Upsert inserts or replaces a period report.
	Upsert(ctx context.Context, report *core.PeriodReport) error

	// Get retrieves the current report for a period.
	Get(ctx context.Context, userID string, period core.ReportPeriod) (*core.PeriodReport, error)
}

// SnapshotRepository handles daily metric snapshots, unique on
// (userID, period, snapDate).
type SnapshotRepository interface {
	// Upsert inserts or replaces a snapshot.
	Upsert(ctx context.Context, snap *core.PeriodSnapshot) error

	// LatestBefore retrieves the newest snapshot at or before the cutoff.
	LatestBefore(ctx context.Context, userID string, period core.ReportPeriod, cutoff time.Time) (*core.PeriodSnapshot, error)
}

// Database aggregates all repositories behind one connection.
type Database interface {
	Users() UserRepository
	Sources() SourceRepository
	Keywords() KeywordRepository
	Signals() SignalRepository
	Articles() ArticleRepository
	UserArticles() UserArticleRepository
	Entities() EntityRepository
	ArticleCVEs() ArticleCVERepository
	NewsGroups() NewsGroupRepository
	TechStack() TechStackRepository
	Exposures() ExposureRepository
	PeriodReports() PeriodReportRepository
	Snapshots() SnapshotRepository

	// Close closes the database connection.
	Close() error

	// Ping verifies the database connection.
	Ping(ctx context.Context) error
}
