// Package pipeline orchestrates the per-user digest run: scrape, match,
// persist, enrich, cluster, brief, report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cyberbrief/internal/briefing"
	"cyberbrief/internal/clustering"
	"cyberbrief/internal/core"
	"cyberbrief/internal/cve"
	"cyberbrief/internal/entities"
	"cyberbrief/internal/exposure"
	"cyberbrief/internal/feeds"
	"cyberbrief/internal/fetch"
	"cyberbrief/internal/logger"
	"cyberbrief/internal/persistence"
	"cyberbrief/internal/relevance"
	"cyberbrief/internal/reports"
)

const (
	// contentParallelism bounds the content extraction fan-out.
	contentParallelism = 15

	// briefingParallelism bounds the briefing LLM fan-out.
	briefingParallelism = 10
)

// StageError tags a pipeline failure with the stage it came from.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("[%s] %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// DigestResult summarizes one user's digest run. Errors holds stage failures;
// a non-empty list does not mean the run produced nothing.
type DigestResult struct {
	UserID     string   `json:"user_id"`
	Scraped    int      `json:"scraped"`
	Matched    int      `json:"matched"`
	Summarized int      `json:"summarized"`
	Errors     []string `json:"errors,omitempty"`
}

// Pipeline wires the digest stages together.
type Pipeline struct {
	db        persistence.Database
	scraper   *feeds.Scraper
	extractor *fetch.Extractor
	entities  *entities.Extractor
	nvd       *cve.NVDClient
	kev       *cve.KEVCache
	briefer   *briefing.Generator
	reports   *reports.Builder
	exposure  *exposure.Engine
	now       func() time.Time
}

// New creates a pipeline from its collaborators.
func New(db persistence.Database, scraper *feeds.Scraper, extractor *fetch.Extractor,
	entityExtractor *entities.Extractor, nvd *cve.NVDClient, kevCache *cve.KEVCache,
	briefer *briefing.Generator, reportBuilder *reports.Builder, exposureEngine *exposure.Engine) *Pipeline {
	return &Pipeline{
		db:        db,
		scraper:   scraper,
		extractor: extractor,
		entities:  entityExtractor,
		nvd:       nvd,
		kev:       kevCache,
		briefer:   briefer,
		reports:   reportBuilder,
		exposure:  exposureEngine,
		now:       time.Now,
	}
}

// Run executes the full digest pipeline for one user. Stage failures are
// recorded in the result's error list and never abort later stages.
func (p *Pipeline) Run(ctx context.Context, userID string) DigestResult {
	result := DigestResult{UserID: userID}
	record := func(stage string, err error) {
		stageErr := &StageError{Stage: stage, Err: err}
		logger.Error("pipeline stage failed", stageErr, "userId", userID)
		result.Errors = append(result.Errors, stageErr.Error())
	}

	user, err := p.db.Users().Get(ctx, userID)
	if err != nil {
		record("load-user", err)
		return result
	}

	var signalCatalog []core.IndustrySignal
	if user.IndustryID != "" {
		signalCatalog, err = p.db.Signals().ListByIndustry(ctx, user.IndustryID)
		if err != nil {
			record("load-signals", err)
		}
	}

	batchIDs, err := p.scrapeAndMatch(ctx, user, &result)
	if err != nil {
		record("scrape-match", err)
		return result
	}

	if err := p.contentStage(ctx, batchIDs); err != nil {
		record("content", err)
	}
	if len(signalCatalog) > 0 {
		if err := p.entityStage(ctx, batchIDs, signalCatalog); err != nil {
			record("entities", err)
		}
	}
	if err := p.cveStage(ctx, userID); err != nil {
		record("cves", err)
	}

	groups, err := p.clusterStage(ctx, user)
	if err != nil {
		record("cluster", err)
	}
	if len(groups) > 0 {
		result.Summarized = p.briefStage(ctx, groups)
	}

	p.reportStage(ctx, userID, record)
	return result
}

// scrapeAndMatch runs the scrape and keyword match and persists matched
// articles, returning the IDs of this run's batch.
func (p *Pipeline) scrapeAndMatch(ctx context.Context, user *core.User, result *DigestResult) ([]string, error) {
	sources, err := p.db.Sources().ListActiveByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	scraped := p.scraper.ScrapeAll(ctx, sources)
	result.Scraped = len(scraped)

	known, err := p.db.UserArticles().KnownURLs(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load known URLs: %w", err)
	}
	fresh := feeds.FilterNew(scraped, known)

	keywords, err := p.db.Keywords().ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load keywords: %w", err)
	}

	var batchIDs []string
	for _, match := range relevance.MatchArticles(fresh, keywords) {
		if !match.Matched {
			continue
		}
		article, err := p.findOrCreateArticle(ctx, match.Article)
		if err != nil {
			logger.Warn("article persist failed", "url", match.Article.URL, "reason", err.Error())
			continue
		}
		link := &core.UserArticle{
			UserID:          user.ID,
			ArticleID:       article.ID,
			Matched:         true,
			MatchedKeywords: match.MatchedKeywords,
		}
		if err := p.db.UserArticles().Upsert(ctx, link); err != nil {
			logger.Warn("user article persist failed", "url", article.URL, "reason", err.Error())
			continue
		}
		result.Matched++
		batchIDs = append(batchIDs, article.ID)
	}
	return batchIDs, nil
}

// findOrCreateArticle inserts the article, falling back to a lookup when a
// concurrent run won the URL race.
func (p *Pipeline) findOrCreateArticle(ctx context.Context, article core.Article) (*core.Article, error) {
	if existing, err := p.db.Articles().GetByURL(ctx, article.URL); err == nil {
		return existing, nil
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}

	article.ID = uuid.New().String()
	err := p.db.Articles().Create(ctx, &article)
	if errors.Is(err, persistence.ErrDuplicate) {
		return p.db.Articles().GetByURL(ctx, article.URL)
	}
	if err != nil {
		return nil, err
	}
	return &article, nil
}

// contentStage fetches clean text for batch articles that lack it, with
// bounded fan-out. Per-article failures are logged and skipped so a dead link
// never stalls the batch.
func (p *Pipeline) contentStage(ctx context.Context, batchIDs []string) error {
	articles, err := p.db.Articles().ListByIDs(ctx, batchIDs)
	if err != nil {
		return fmt.Errorf("failed to load batch articles: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(contentParallelism)
	for _, article := range articles {
		if article.CleanText != "" {
			continue
		}
		article := article
		g.Go(func() error {
			extracted, err := p.extractor.Extract(gctx, article.URL)
			if err != nil {
				logger.Warn("content fetch failed", "url", article.URL, "reason", err.Error())
				return nil
			}
			if err := p.db.Articles().UpdateContent(gctx, article.ID,
				extracted.CleanText, extracted.RawHTML, extracted.ExternalLinks); err != nil {
				logger.Warn("content persist failed", "url", article.URL, "reason", err.Error())
			}
			return nil
		})
	}
	return g.Wait()
}

// entityStage extracts entities and signals in serial LLM batches. Batch
// failures skip the batch so its articles retry on the next run.
func (p *Pipeline) entityStage(ctx context.Context, batchIDs []string, catalog []core.IndustrySignal) error {
	articles, err := p.db.Articles().ListByIDs(ctx, batchIDs)
	if err != nil {
		return fmt.Errorf("failed to load batch articles: %w", err)
	}

	var pending []core.Article
	for _, a := range articles {
		if !a.EntitiesExtracted {
			pending = append(pending, a)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	slugs := make([]string, len(catalog))
	signalIDBySlug := make(map[string]string, len(catalog))
	for i, s := range catalog {
		slugs[i] = s.Slug
		signalIDBySlug[s.Slug] = s.ID
	}

	for start := 0; start < len(pending); start += entities.MaxBatchSize {
		end := start + entities.MaxBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		extractions, err := p.entities.ExtractBatch(ctx, batch, slugs)
		if err != nil {
			logger.Warn("entity batch failed", "articles", len(batch), "reason", err.Error())
			continue
		}

		for _, article := range batch {
			extraction, ok := extractions[article.ID]
			if !ok {
				continue
			}
			if rows := extraction.Entities(article.ID); len(rows) > 0 {
				if err := p.db.Entities().CreateMany(ctx, rows); err != nil {
					logger.Warn("entity persist failed", "articleId", article.ID, "reason", err.Error())
					continue
				}
			}
			for _, signal := range extraction.Signals {
				signalID, ok := signalIDBySlug[signal.Slug]
				if !ok {
					continue
				}
				row := &core.ArticleSignal{
					ArticleID:        article.ID,
					IndustrySignalID: signalID,
					Slug:             signal.Slug,
					Confidence:       signal.Confidence,
				}
				if err := p.db.Signals().UpsertArticleSignal(ctx, row); err != nil {
					logger.Warn("signal persist failed", "articleId", article.ID, "reason", err.Error())
				}
			}
			if err := p.db.Articles().MarkEntitiesExtracted(ctx, article.ID); err != nil {
				logger.Warn("extraction flag update failed", "articleId", article.ID, "reason", err.Error())
			}
		}
	}
	return nil
}

// cveStage extracts CVE IDs, enriches each distinct ID once per run via NVD
// and the KEV catalog, persists per-article rows, and feeds the batch into
// the exposure engine. It works over all of the user's matched articles that
// still lack the extraction flag, so articles whose enrichment failed on an
// earlier run are retried.
func (p *Pipeline) cveStage(ctx context.Context, userID string) error {
	matchedIDs, err := p.db.UserArticles().ListMatchedArticleIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list matched articles: %w", err)
	}
	articles, err := p.db.Articles().ListByIDs(ctx, matchedIDs)
	if err != nil {
		return fmt.Errorf("failed to load batch articles: %w", err)
	}

	idsByArticle := make(map[string][]string)
	distinct := make(map[string]bool)
	for _, a := range articles {
		if a.CVEsExtracted {
			continue
		}
		text := a.Title + "\n" + a.CleanText
		if a.CleanText == "" {
			text = a.Title + "\n" + a.Content
		}
		ids := cve.ExtractIDs(text)
		idsByArticle[a.ID] = ids
		for _, id := range ids {
			distinct[id] = true
		}
	}
	if len(idsByArticle) == 0 {
		return nil
	}

	allIDs := make([]string, 0, len(distinct))
	for id := range distinct {
		allIDs = append(allIDs, id)
	}

	// Enrichment already stored for another article is reused instead of
	// spending NVD budget again.
	enriched, err := p.db.ArticleCVEs().FindEnriched(ctx, allIDs)
	if err != nil {
		return fmt.Errorf("failed to look up enriched CVEs: %w", err)
	}

	kevEntries := p.kev.Get(ctx)

	enrichments := make(map[string]*cve.Enrichment, len(allIDs))
	failed := make(map[string]bool)
	for _, id := range allIDs {
		if row, ok := enriched[id]; ok {
			enrichments[id] = &cve.Enrichment{
				CVEID:         id,
				CVSSScore:     row.CVSSScore,
				Severity:      row.Severity,
				Description:   row.Description,
				CPEMatches:    row.CPEMatches,
				PublishedDate: row.PublishedDate,
			}
			continue
		}
		enrichment, err := p.nvd.Fetch(ctx, id)
		if err != nil {
			logger.Warn("NVD enrichment failed", "cveId", id, "reason", err.Error())
			failed[id] = true
			continue
		}
		enrichments[id] = enrichment
	}

	var batchCVEs []core.ArticleCVE
	for articleID, ids := range idsByArticle {
		// An article touched by a failed fetch keeps its rows and flag
		// untouched; the next run retries it.
		if anyFailed(ids, failed) {
			continue
		}
		for _, id := range ids {
			row := core.ArticleCVE{ArticleID: articleID, CVEID: id}
			var kevEntry *cve.KEVEntry
			if entry, ok := kevEntries[id]; ok {
				kevEntry = &entry
			}
			cve.ApplyEnrichment(&row, enrichments[id], kevEntry)
			if err := p.db.ArticleCVEs().Upsert(ctx, &row); err != nil {
				logger.Warn("CVE persist failed", "articleId", articleID, "cveId", id, "reason", err.Error())
				continue
			}
			batchCVEs = append(batchCVEs, row)
		}
		if err := p.db.Articles().MarkCVEsExtracted(ctx, articleID); err != nil {
			logger.Warn("CVE flag update failed", "articleId", articleID, "reason", err.Error())
		}
	}

	if len(batchCVEs) > 0 {
		if err := p.exposure.MatchBatch(ctx, userID, batchCVEs); err != nil {
			logger.Warn("exposure matching failed", "userId", userID, "reason", err.Error())
		}
	}
	return nil
}

func anyFailed(ids []string, failed map[string]bool) bool {
	for _, id := range ids {
		if failed[id] {
			return true
		}
	}
	return false
}

// clusterStage groups ungrouped matched articles into stories and persists
// the assignments.
func (p *Pipeline) clusterStage(ctx context.Context, user *core.User) ([]core.NewsGroup, error) {
	links, err := p.db.UserArticles().ListUngroupedMatched(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ungrouped articles: %w", err)
	}
	if len(links) == 0 {
		return nil, nil
	}

	ids := make([]string, len(links))
	keywordsByArticle := make(map[string][]string, len(links))
	for i, link := range links {
		ids[i] = link.ArticleID
		keywordsByArticle[link.ArticleID] = link.MatchedKeywords
	}

	articles, err := p.db.Articles().ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster articles: %w", err)
	}
	entityRows, err := p.db.Entities().ListByArticles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster entities: %w", err)
	}
	signalRows, err := p.db.Signals().ListArticleSignals(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster signals: %w", err)
	}

	entitiesByArticle := make(map[string][]string)
	for _, row := range entityRows {
		entitiesByArticle[row.ArticleID] = append(entitiesByArticle[row.ArticleID], row.Name)
	}
	signalsByArticle := make(map[string][]string)
	for _, row := range signalRows {
		signalsByArticle[row.ArticleID] = append(signalsByArticle[row.ArticleID], row.Slug)
	}

	views := make([]clustering.ArticleView, len(articles))
	for i, a := range articles {
		views[i] = clustering.ArticleView{
			ArticleID:   a.ID,
			Title:       a.Title,
			Entities:    entitiesByArticle[a.ID],
			Signals:     signalsByArticle[a.ID],
			Keywords:    keywordsByArticle[a.ID],
			PublishedAt: a.PublishedAt,
		}
	}

	var created []core.NewsGroup
	for _, cluster := range clustering.Cluster(views) {
		group := core.NewsGroup{
			ID:         uuid.New().String(),
			UserID:     user.ID,
			Title:      cluster.Title,
			Confidence: cluster.Confidence,
			Date:       p.now().UTC(),
		}
		if err := p.db.NewsGroups().Create(ctx, &group); err != nil {
			logger.Warn("group persist failed", "title", group.Title, "reason", err.Error())
			continue
		}
		if err := p.db.UserArticles().AssignGroup(ctx, user.ID, group.ID, cluster.ArticleIDs); err != nil {
			logger.Warn("group assignment failed", "groupId", group.ID, "reason", err.Error())
			continue
		}
		created = append(created, group)
	}
	return created, nil
}

// briefStage generates briefings for new groups with bounded fan-out,
// returning the number of groups successfully summarized.
func (p *Pipeline) briefStage(ctx context.Context, groups []core.NewsGroup) int {
	var mu sync.Mutex
	summarized := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(briefingParallelism)
	for i := range groups {
		group := groups[i]
		g.Go(func() error {
			links, err := p.db.UserArticles().ListByGroup(gctx, group.ID)
			if err != nil {
				logger.Warn("briefing article load failed", "groupId", group.ID, "reason", err.Error())
				return nil
			}
			ids := make([]string, len(links))
			for j, link := range links {
				ids[j] = link.ArticleID
			}
			articles, err := p.db.Articles().ListByIDs(gctx, ids)
			if err != nil {
				logger.Warn("briefing article load failed", "groupId", group.ID, "reason", err.Error())
				return nil
			}

			if err := p.briefer.Generate(gctx, &group, articles); err != nil {
				logger.Warn("briefing generation failed", "groupId", group.ID, "reason", err.Error())
				return nil
			}
			if err := p.db.NewsGroups().UpdateBriefing(gctx, &group); err != nil {
				logger.Warn("briefing persist failed", "groupId", group.ID, "reason", err.Error())
				return nil
			}
			mu.Lock()
			summarized++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return summarized
}

// reportStage builds the three period reports in parallel, isolating
// failures per period, and snapshots exposure metrics after each successful
// report.
func (p *Pipeline) reportStage(ctx context.Context, userID string, record func(string, error)) {
	periods := []core.ReportPeriod{core.Period1d, core.Period7d, core.Period30d}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, period := range periods {
		period := period
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.reports.Build(ctx, userID, period); err != nil {
				mu.Lock()
				record("report-"+string(period), err)
				mu.Unlock()
				return
			}
			metrics, err := p.exposure.Metrics(ctx, userID)
			if err != nil {
				logger.Warn("exposure metrics failed", "userId", userID, "reason", err.Error())
				return
			}
			if err := p.exposure.Snapshot(ctx, userID, period, metrics); err != nil {
				logger.Warn("exposure snapshot failed", "userId", userID, "reason", err.Error())
			}
		}()
	}
	wg.Wait()
}
