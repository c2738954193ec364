package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"cyberbrief/internal/core"
)

// MemoryDB is an in-memory Database used by tests and local development. All
// repositories share one mutex; the implementation favors obviousness over
// throughput.
type MemoryDB struct {
	mu sync.Mutex

	users         map[string]core.User
	sources       map[string]core.Source
	keywords      map[string]core.Keyword
	signalCatalog map[string]core.IndustrySignal             // id -> signal
	artSignals    map[string]map[string]core.ArticleSignal   // articleID -> signalID -> row
	articles      map[string]core.Article                    // id -> article
	articlesByURL map[string]string                          // url -> id
	userArticles  map[string]map[string]core.UserArticle     // userID -> articleID -> link
	entities      map[string]map[entityKey]core.ArticleEntity // articleID -> key -> row
	articleCVEs   map[string]map[string]core.ArticleCVE      // articleID -> cveID -> row
	newsGroups    map[string]core.NewsGroup
	techStack     map[string]core.TechStackItem
	exposures     map[string]map[string]core.UserCVEExposure // userID -> cveID -> row
	reports       map[string]core.PeriodReport               // userID|period -> report
	snapshots     []core.PeriodSnapshot
}

type entityKey struct {
	Type core.EntityType
	Name string
}

// NewMemoryDB creates an empty in-memory database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		users:         make(map[string]core.User),
		sources:       make(map[string]core.Source),
		keywords:      make(map[string]core.Keyword),
		signalCatalog: make(map[string]core.IndustrySignal),
		artSignals:    make(map[string]map[string]core.ArticleSignal),
		articles:      make(map[string]core.Article),
		articlesByURL: make(map[string]string),
		userArticles:  make(map[string]map[string]core.UserArticle),
		entities:      make(map[string]map[entityKey]core.ArticleEntity),
		articleCVEs:   make(map[string]map[string]core.ArticleCVE),
		newsGroups:    make(map[string]core.NewsGroup),
		techStack:     make(map[string]core.TechStackItem),
		exposures:     make(map[string]map[string]core.UserCVEExposure),
		reports:       make(map[string]core.PeriodReport),
	}
}

func (m *MemoryDB) Users() UserRepository                 { return (*memUserRepo)(m) }
func (m *MemoryDB) Sources() SourceRepository             { return (*memSourceRepo)(m) }
func (m *MemoryDB) Keywords() KeywordRepository           { return (*memKeywordRepo)(m) }
func (m *MemoryDB) Signals() SignalRepository             { return (*memSignalRepo)(m) }
func (m *MemoryDB) Articles() ArticleRepository           { return (*memArticleRepo)(m) }
func (m *MemoryDB) UserArticles() UserArticleRepository   { return (*memUserArticleRepo)(m) }
func (m *MemoryDB) Entities() EntityRepository            { return (*memEntityRepo)(m) }
func (m *MemoryDB) ArticleCVEs() ArticleCVERepository     { return (*memArticleCVERepo)(m) }
func (m *MemoryDB) NewsGroups() NewsGroupRepository       { return (*memNewsGroupRepo)(m) }
func (m *MemoryDB) TechStack() TechStackRepository        { return (*memTechStackRepo)(m) }
func (m *MemoryDB) Exposures() ExposureRepository         { return (*memExposureRepo)(m) }
func (m *MemoryDB) PeriodReports() PeriodReportRepository { return (*memPeriodReportRepo)(m) }
func (m *MemoryDB) Snapshots() SnapshotRepository         { return (*memSnapshotRepo)(m) }

func (m *MemoryDB) Close() error                   { return nil }
func (m *MemoryDB) Ping(ctx context.Context) error { return nil }

// SeedUser inserts a user directly. Test helper.
func (m *MemoryDB) SeedUser(u core.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// SeedSource inserts a source directly. Test helper.
func (m *MemoryDB) SeedSource(s core.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[s.ID] = s
}

// SeedKeyword inserts a keyword directly. Test helper.
func (m *MemoryDB) SeedKeyword(k core.Keyword) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keywords[k.ID] = k
}

// SeedSignal inserts an industry signal directly. Test helper.
func (m *MemoryDB) SeedSignal(s core.IndustrySignal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signalCatalog[s.ID] = s
}

// SeedTechStack inserts a stack item directly. Test helper.
func (m *MemoryDB) SeedTechStack(item core.TechStackItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.techStack[item.ID] = item
}

type memUserRepo MemoryDB

func (r *memUserRepo) Get(ctx context.Context, id string) (*core.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *memUserRepo) List(ctx context.Context) ([]core.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]core.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	sort.Slice(users, func(a, b int) bool { return users[a].ID < users[b].ID })
	return users, nil
}

func (r *memUserRepo) UpdateLastDigestAt(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastDigestAt = &at
	r.users[id] = u
	return nil
}

type memSourceRepo MemoryDB

func (r *memSourceRepo) ListActiveByUser(ctx context.Context, userID string) ([]core.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sources []core.Source
	for _, s := range r.sources {
		if s.UserID == userID && s.Active {
			sources = append(sources, s)
		}
	}
	sort.Slice(sources, func(a, b int) bool { return sources[a].ID < sources[b].ID })
	return sources, nil
}

type memKeywordRepo MemoryDB

func (r *memKeywordRepo) ListByUser(ctx context.Context, userID string) ([]core.Keyword, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keywords []core.Keyword
	for _, k := range r.keywords {
		if k.UserID == userID {
			keywords = append(keywords, k)
		}
	}
	sort.Slice(keywords, func(a, b int) bool { return keywords[a].Word < keywords[b].Word })
	return keywords, nil
}

type memSignalRepo MemoryDB

func (r *memSignalRepo) ListByIndustry(ctx context.Context, industryID string) ([]core.IndustrySignal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var signals []core.IndustrySignal
	for _, s := range r.signalCatalog {
		if s.IndustryID == industryID {
			signals = append(signals, s)
		}
	}
	sort.Slice(signals, func(a, b int) bool { return signals[a].Slug < signals[b].Slug })
	return signals, nil
}

func (r *memSignalRepo) UpsertArticleSignal(ctx context.Context, signal *core.ArticleSignal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.artSignals[signal.ArticleID] == nil {
		r.artSignals[signal.ArticleID] = make(map[string]core.ArticleSignal)
	}
	row := *signal
	if cat, ok := r.signalCatalog[signal.IndustrySignalID]; ok && row.Slug == "" {
		row.Slug = cat.Slug
	}
	r.artSignals[signal.ArticleID][signal.IndustrySignalID] = row
	return nil
}

func (r *memSignalRepo) ListArticleSignals(ctx context.Context, articleIDs []string) ([]core.ArticleSignal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var signals []core.ArticleSignal
	for _, id := range articleIDs {
		for _, s := range r.artSignals[id] {
			if cat, ok := r.signalCatalog[s.IndustrySignalID]; ok {
				if s.Slug == "" {
					s.Slug = cat.Slug
				}
				if s.Name == "" {
					s.Name = cat.Name
				}
			}
			signals = append(signals, s)
		}
	}
	sort.Slice(signals, func(a, b int) bool {
		if signals[a].ArticleID != signals[b].ArticleID {
			return signals[a].ArticleID < signals[b].ArticleID
		}
		return signals[a].IndustrySignalID < signals[b].IndustrySignalID
	})
	return signals, nil
}

type memArticleRepo MemoryDB

func (r *memArticleRepo) Create(ctx context.Context, article *core.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.articlesByURL[article.URL]; exists {
		return ErrDuplicate
	}
	r.articles[article.ID] = *article
	r.articlesByURL[article.URL] = article.ID
	return nil
}

func (r *memArticleRepo) Get(ctx context.Context, id string) (*core.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.articles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *memArticleRepo) GetByURL(ctx context.Context, url string) (*core.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.articlesByURL[url]
	if !ok {
		return nil, ErrNotFound
	}
	a := r.articles[id]
	return &a, nil
}

func (r *memArticleRepo) ListByIDs(ctx context.Context, ids []string) ([]core.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var articles []core.Article
	for _, id := range ids {
		if a, ok := r.articles[id]; ok {
			articles = append(articles, a)
		}
	}
	return articles, nil
}

func (r *memArticleRepo) UpdateContent(ctx context.Context, id, cleanText, rawHTML string, externalLinks []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.articles[id]
	if !ok {
		return ErrNotFound
	}
	a.CleanText = cleanText
	a.RawHTML = rawHTML
	a.ExternalLinks = externalLinks
	r.articles[id] = a
	return nil
}

func (r *memArticleRepo) MarkEntitiesExtracted(ctx context.Context, id string) error {
	return r.setFlags(id, func(a *core.Article) { a.EntitiesExtracted = true })
}

func (r *memArticleRepo) MarkCVEsExtracted(ctx context.Context, id string) error {
	return r.setFlags(id, func(a *core.Article) { a.CVEsExtracted = true })
}

func (r *memArticleRepo) ResetEnrichment(ctx context.Context, id string) error {
	return r.setFlags(id, func(a *core.Article) {
		a.EntitiesExtracted = false
		a.CVEsExtracted = false
	})
}

func (r *memArticleRepo) setFlags(id string, apply func(*core.Article)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.articles[id]
	if !ok {
		return ErrNotFound
	}
	apply(&a)
	r.articles[id] = a
	return nil
}

type memUserArticleRepo MemoryDB

func (r *memUserArticleRepo) Upsert(ctx context.Context, link *core.UserArticle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.userArticles[link.UserID] == nil {
		r.userArticles[link.UserID] = make(map[string]core.UserArticle)
	}
	if existing, ok := r.userArticles[link.UserID][link.ArticleID]; ok {
		existing.Matched = link.Matched
		existing.MatchedKeywords = link.MatchedKeywords
		r.userArticles[link.UserID][link.ArticleID] = existing
		return nil
	}
	r.userArticles[link.UserID][link.ArticleID] = *link
	return nil
}

func (r *memUserArticleRepo) KnownURLs(ctx context.Context, userID string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	urls := make(map[string]bool)
	for articleID := range r.userArticles[userID] {
		if a, ok := r.articles[articleID]; ok {
			urls[a.URL] = true
		}
	}
	return urls, nil
}

func (r *memUserArticleRepo) ListUngroupedMatched(ctx context.Context, userID string) ([]core.UserArticle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var links []core.UserArticle
	for _, link := range r.userArticles[userID] {
		if link.Matched && link.NewsGroupID == "" {
			links = append(links, link)
		}
	}
	sort.Slice(links, func(a, b int) bool { return links[a].ArticleID < links[b].ArticleID })
	return links, nil
}

func (r *memUserArticleRepo) AssignGroup(ctx context.Context, userID, groupID string, articleIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range articleIDs {
		if link, ok := r.userArticles[userID][id]; ok {
			link.NewsGroupID = groupID
			r.userArticles[userID][id] = link
		}
	}
	return nil
}

func (r *memUserArticleRepo) ListMatchedArticleIDs(ctx context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, link := range r.userArticles[userID] {
		if link.Matched {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memUserArticleRepo) ListByGroup(ctx context.Context, groupID string) ([]core.UserArticle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var links []core.UserArticle
	for _, byArticle := range r.userArticles {
		for _, link := range byArticle {
			if link.NewsGroupID == groupID {
				links = append(links, link)
			}
		}
	}
	sort.Slice(links, func(a, b int) bool { return links[a].ArticleID < links[b].ArticleID })
	return links, nil
}

type memEntityRepo MemoryDB

func (r *memEntityRepo) CreateMany(ctx context.Context, entities []core.ArticleEntity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entities {
		if r.entities[e.ArticleID] == nil {
			r.entities[e.ArticleID] = make(map[entityKey]core.ArticleEntity)
		}
		key := entityKey{Type: e.Type, Name: e.Name}
		if _, exists := r.entities[e.ArticleID][key]; !exists {
			r.entities[e.ArticleID][key] = e
		}
	}
	return nil
}

func (r *memEntityRepo) ListByArticles(ctx context.Context, articleIDs []string) ([]core.ArticleEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var entities []core.ArticleEntity
	for _, id := range articleIDs {
		for _, e := range r.entities[id] {
			entities = append(entities, e)
		}
	}
	sort.Slice(entities, func(a, b int) bool {
		if entities[a].ArticleID != entities[b].ArticleID {
			return entities[a].ArticleID < entities[b].ArticleID
		}
		return entities[a].Name < entities[b].Name
	})
	return entities, nil
}

type memArticleCVERepo MemoryDB

func (r *memArticleCVERepo) Upsert(ctx context.Context, cve *core.ArticleCVE) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.articleCVEs[cve.ArticleID] == nil {
		r.articleCVEs[cve.ArticleID] = make(map[string]core.ArticleCVE)
	}
	r.articleCVEs[cve.ArticleID][cve.CVEID] = *cve
	return nil
}

func (r *memArticleCVERepo) ListByArticles(ctx context.Context, articleIDs []string) ([]core.ArticleCVE, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cves []core.ArticleCVE
	for _, id := range articleIDs {
		for _, c := range r.articleCVEs[id] {
			cves = append(cves, c)
		}
	}
	sort.Slice(cves, func(a, b int) bool {
		if cves[a].ArticleID != cves[b].ArticleID {
			return cves[a].ArticleID < cves[b].ArticleID
		}
		return cves[a].CVEID < cves[b].CVEID
	})
	return cves, nil
}

func (r *memArticleCVERepo) FindEnriched(ctx context.Context, cveIDs []string) (map[string]core.ArticleCVE, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[string]bool, len(cveIDs))
	for _, id := range cveIDs {
		wanted[id] = true
	}
	result := make(map[string]core.ArticleCVE)
	for _, byCVE := range r.articleCVEs {
		for id, c := range byCVE {
			if wanted[id] && c.Enriched() {
				if _, ok := result[id]; !ok {
					result[id] = c
				}
			}
		}
	}
	return result, nil
}

type memNewsGroupRepo MemoryDB

func (r *memNewsGroupRepo) Create(ctx context.Context, group *core.NewsGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newsGroups[group.ID] = *group
	return nil
}

func (r *memNewsGroupRepo) Get(ctx context.Context, id string) (*core.NewsGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.newsGroups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (r *memNewsGroupRepo) UpdateBriefing(ctx context.Context, group *core.NewsGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.newsGroups[group.ID]
	if !ok {
		return ErrNotFound
	}
	g.Title = group.Title
	g.Synopsis = group.Synopsis
	g.ExecutiveSummary = group.ExecutiveSummary
	g.ImpactAnalysis = group.ImpactAnalysis
	g.Actionability = group.Actionability
	g.CaseType = group.CaseType
	r.newsGroups[group.ID] = g
	return nil
}

func (r *memNewsGroupRepo) ListByUser(ctx context.Context, userID string, limit int) ([]core.NewsGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var groups []core.NewsGroup
	for _, g := range r.newsGroups {
		if g.UserID == userID {
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].Date.After(groups[b].Date) })
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

func (r *memNewsGroupRepo) ListWithArticlesSince(ctx context.Context, userID string, since time.Time) ([]core.NewsGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var groups []core.NewsGroup
	for _, g := range r.newsGroups {
		if g.UserID != userID {
			continue
		}
		if r.groupHasArticleSince(g, since) {
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].Date.After(groups[b].Date) })
	return groups, nil
}

func (r *memNewsGroupRepo) groupHasArticleSince(g core.NewsGroup, since time.Time) bool {
	for _, byArticle := range r.userArticles {
		for articleID, link := range byArticle {
			if link.NewsGroupID != g.ID {
				continue
			}
			a, ok := r.articles[articleID]
			if !ok {
				continue
			}
			published := g.Date
			if a.PublishedAt != nil {
				published = *a.PublishedAt
			}
			if !published.Before(since) {
				return true
			}
		}
	}
	return false
}

type memTechStackRepo MemoryDB

func (r *memTechStackRepo) Create(ctx context.Context, item *core.TechStackItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.techStack {
		if existing.UserID == item.UserID && existing.Vendor == item.Vendor &&
			existing.Product == item.Product && existing.Version == item.Version {
			return ErrDuplicate
		}
	}
	r.techStack[item.ID] = *item
	return nil
}

func (r *memTechStackRepo) ListActiveByUser(ctx context.Context, userID string) ([]core.TechStackItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []core.TechStackItem
	for _, item := range r.techStack {
		if item.UserID == userID && item.Active {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(a, b int) bool { return items[a].ID < items[b].ID })
	return items, nil
}

func (r *memTechStackRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.techStack, id)
	return nil
}

type memExposureRepo MemoryDB

func (r *memExposureRepo) Get(ctx context.Context, userID, cveID string) (*core.UserCVEExposure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.exposures[userID][cveID]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (r *memExposureRepo) UpsertAuto(ctx context.Context, exposure *core.UserCVEExposure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exposures[exposure.UserID] == nil {
		r.exposures[exposure.UserID] = make(map[string]core.UserCVEExposure)
	}
	if existing, ok := r.exposures[exposure.UserID][exposure.CVEID]; ok {
		if !existing.AutoClassified {
			return nil
		}
		existing.ArticleCVEID = exposure.ArticleCVEID
		existing.TechStackItemID = exposure.TechStackItemID
		existing.ExposureState = exposure.ExposureState
		existing.MatchedCPE = exposure.MatchedCPE
		existing.RemediationDeadline = exposure.RemediationDeadline
		r.exposures[exposure.UserID][exposure.CVEID] = existing
		return nil
	}
	row := *exposure
	row.AutoClassified = true
	r.exposures[exposure.UserID][exposure.CVEID] = row
	return nil
}

func (r *memExposureRepo) SetManual(ctx context.Context, exposure *core.UserCVEExposure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exposures[exposure.UserID] == nil {
		r.exposures[exposure.UserID] = make(map[string]core.UserCVEExposure)
	}
	if existing, ok := r.exposures[exposure.UserID][exposure.CVEID]; ok {
		existing.ExposureState = exposure.ExposureState
		existing.AutoClassified = false
		existing.PatchedAt = exposure.PatchedAt
		existing.RemediationDeadline = exposure.RemediationDeadline
		existing.Notes = exposure.Notes
		r.exposures[exposure.UserID][exposure.CVEID] = existing
		return nil
	}
	row := *exposure
	row.AutoClassified = false
	r.exposures[exposure.UserID][exposure.CVEID] = row
	return nil
}

func (r *memExposureRepo) ListByUser(ctx context.Context, userID string) ([]core.UserCVEExposure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var exposures []core.UserCVEExposure
	for _, e := range r.exposures[userID] {
		exposures = append(exposures, e)
	}
	sort.Slice(exposures, func(a, b int) bool { return exposures[a].CVEID < exposures[b].CVEID })
	return exposures, nil
}

type memPeriodReportRepo MemoryDB

func (r *memPeriodReportRepo) Upsert(ctx context.Context, report *core.PeriodReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[report.UserID+"|"+string(report.Period)] = *report
	return nil
}

func (r *memPeriodReportRepo) Get(ctx context.Context, userID string, period core.ReportPeriod) (*core.PeriodReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[userID+"|"+string(period)]
	if !ok {
		return nil, ErrNotFound
	}
	return &report, nil
}

type memSnapshotRepo MemoryDB

func (r *memSnapshotRepo) Upsert(ctx context.Context, snap *core.PeriodSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.snapshots {
		if existing.UserID == snap.UserID && existing.Period == snap.Period &&
			existing.SnapDate.Equal(snap.SnapDate) {
			r.snapshots[i] = *snap
			return nil
		}
	}
	r.snapshots = append(r.snapshots, *snap)
	return nil
}

func (r *memSnapshotRepo) LatestBefore(ctx context.Context, userID string, period core.ReportPeriod, cutoff time.Time) (*core.PeriodSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *core.PeriodSnapshot
	for i := range r.snapshots {
		s := r.snapshots[i]
		if s.UserID != userID || s.Period != period || s.SnapDate.After(cutoff) {
			continue
		}
		if best == nil || s.SnapDate.After(best.SnapDate) {
			snap := s
			best = &snap
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}
