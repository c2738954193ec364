package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"cyberbrief/internal/core"
)

// isUniqueViolation reports whether the error is a Postgres unique constraint
// violation (class 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

type pgUserRepo struct{ db *sql.DB }

func (r *pgUserRepo) Get(ctx context.Context, id string) (*core.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, industry_id, digest_frequency, digest_time, last_digest_at, email_enabled, onboarded
		FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *pgUserRepo) List(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, industry_id, digest_frequency, digest_time, last_digest_at, email_enabled, onboarded
		FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		var u core.User
		var lastDigest sql.NullTime
		if err := rows.Scan(&u.ID, &u.Email, &u.IndustryID, &u.DigestFrequency, &u.DigestTime,
			&lastDigest, &u.EmailEnabled, &u.Onboarded); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if lastDigest.Valid {
			t := lastDigest.Time
			u.LastDigestAt = &t
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *pgUserRepo) UpdateLastDigestAt(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_digest_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update last digest time: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (*core.User, error) {
	var u core.User
	var lastDigest sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.IndustryID, &u.DigestFrequency, &u.DigestTime,
		&lastDigest, &u.EmailEnabled, &u.Onboarded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if lastDigest.Valid {
		t := lastDigest.Time
		u.LastDigestAt = &t
	}
	return &u, nil
}

type pgSourceRepo struct{ db *sql.DB }

func (r *pgSourceRepo) ListActiveByUser(ctx context.Context, userID string) ([]core.Source, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, url, name, type, active
		FROM sources WHERE user_id = $1 AND active ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []core.Source
	for rows.Next() {
		var s core.Source
		if err := rows.Scan(&s.ID, &s.UserID, &s.URL, &s.Name, &s.Type, &s.Active); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

type pgKeywordRepo struct{ db *sql.DB }

func (r *pgKeywordRepo) ListByUser(ctx context.Context, userID string) ([]core.Keyword, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, word FROM keywords WHERE user_id = $1 ORDER BY word`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	defer rows.Close()

	var keywords []core.Keyword
	for rows.Next() {
		var k core.Keyword
		if err := rows.Scan(&k.ID, &k.UserID, &k.Word); err != nil {
			return nil, fmt.Errorf("failed to scan keyword: %w", err)
		}
		keywords = append(keywords, k)
	}
	return keywords, rows.Err()
}

type pgSignalRepo struct{ db *sql.DB }

func (r *pgSignalRepo) ListByIndustry(ctx context.Context, industryID string) ([]core.IndustrySignal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, industry_id, slug, name FROM industry_signals
		WHERE industry_id = $1 ORDER BY slug`, industryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list industry signals: %w", err)
	}
	defer rows.Close()

	var signals []core.IndustrySignal
	for rows.Next() {
		var s core.IndustrySignal
		if err := rows.Scan(&s.ID, &s.IndustryID, &s.Slug, &s.Name); err != nil {
			return nil, fmt.Errorf("failed to scan industry signal: %w", err)
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

func (r *pgSignalRepo) UpsertArticleSignal(ctx context.Context, signal *core.ArticleSignal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO article_signals (article_id, industry_signal_id, confidence)
		VALUES ($1, $2, $3)
		ON CONFLICT (article_id, industry_signal_id) DO UPDATE SET confidence = EXCLUDED.confidence`,
		signal.ArticleID, signal.IndustrySignalID, signal.Confidence)
	if err != nil {
		return fmt.Errorf("failed to upsert article signal: %w", err)
	}
	return nil
}

func (r *pgSignalRepo) ListArticleSignals(ctx context.Context, articleIDs []string) ([]core.ArticleSignal, error) {
	if len(articleIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.article_id, a.industry_signal_id, s.slug, s.name, a.confidence
		FROM article_signals a
		JOIN industry_signals s ON s.id = a.industry_signal_id
		WHERE a.article_id = ANY($1)`, pq.Array(articleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list article signals: %w", err)
	}
	defer rows.Close()

	var signals []core.ArticleSignal
	for rows.Next() {
		var s core.ArticleSignal
		if err := rows.Scan(&s.ArticleID, &s.IndustrySignalID, &s.Slug, &s.Name, &s.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan article signal: %w", err)
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

type pgArticleRepo struct{ db *sql.DB }

const articleColumns = `id, source_id, url, title, content, clean_text, raw_html,
	external_links, author, guid, published_at, entities_extracted, cves_extracted`

func (r *pgArticleRepo) Create(ctx context.Context, article *core.Article) error {
	links, _ := json.Marshal(article.ExternalLinks)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO articles (`+articleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		article.ID, article.SourceID, article.URL, article.Title, article.Content,
		article.CleanText, article.RawHTML, links, article.Author, article.GUID,
		article.PublishedAt, article.EntitiesExtracted, article.CVEsExtracted)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create article: %w", err)
	}
	return nil
}

func (r *pgArticleRepo) Get(ctx context.Context, id string) (*core.Article, error) {
	return r.one(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = $1`, id)
}

func (r *pgArticleRepo) GetByURL(ctx context.Context, url string) (*core.Article, error) {
	return r.one(ctx, `SELECT `+articleColumns+` FROM articles WHERE url = $1`, url)
}

func (r *pgArticleRepo) one(ctx context.Context, query string, arg any) (*core.Article, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query article: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	a, err := scanArticle(rows)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *pgArticleRepo) ListByIDs(ctx context.Context, ids []string) ([]core.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	defer rows.Close()

	var articles []core.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func scanArticle(rows *sql.Rows) (core.Article, error) {
	var a core.Article
	var links []byte
	var published sql.NullTime
	if err := rows.Scan(&a.ID, &a.SourceID, &a.URL, &a.Title, &a.Content, &a.CleanText,
		&a.RawHTML, &links, &a.Author, &a.GUID, &published,
		&a.EntitiesExtracted, &a.CVEsExtracted); err != nil {
		return a, fmt.Errorf("failed to scan article: %w", err)
	}
	if published.Valid {
		t := published.Time
		a.PublishedAt = &t
	}
	if len(links) > 0 {
		_ = json.Unmarshal(links, &a.ExternalLinks)
	}
	return a, nil
}

func (r *pgArticleRepo) UpdateContent(ctx context.Context, id, cleanText, rawHTML string, externalLinks []string) error {
	links, _ := json.Marshal(externalLinks)
	_, err := r.db.ExecContext(ctx, `
		UPDATE articles SET clean_text = $2, raw_html = $3, external_links = $4 WHERE id = $1`,
		id, cleanText, rawHTML, links)
	if err != nil {
		return fmt.Errorf("failed to update article content: %w", err)
	}
	return nil
}

func (r *pgArticleRepo) MarkEntitiesExtracted(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE articles SET entities_extracted = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark entities extracted: %w", err)
	}
	return nil
}

func (r *pgArticleRepo) MarkCVEsExtracted(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE articles SET cves_extracted = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark CVEs extracted: %w", err)
	}
	return nil
}

func (r *pgArticleRepo) ResetEnrichment(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE articles SET entities_extracted = FALSE, cves_extracted = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to reset enrichment flags: %w", err)
	}
	return nil
}

type pgUserArticleRepo struct{ db *sql.DB }

func (r *pgUserArticleRepo) Upsert(ctx context.Context, link *core.UserArticle) error {
	keywords, _ := json.Marshal(link.MatchedKeywords)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_articles (user_id, article_id, matched, matched_keywords, news_group_id, read, sent, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, article_id) DO UPDATE SET
			matched = EXCLUDED.matched,
			matched_keywords = EXCLUDED.matched_keywords`,
		link.UserID, link.ArticleID, link.Matched, keywords, link.NewsGroupID,
		link.Read, link.Sent, link.SentAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user article: %w", err)
	}
	return nil
}

func (r *pgUserArticleRepo) KnownURLs(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.url FROM user_articles ua JOIN articles a ON a.id = ua.article_id
		WHERE ua.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list known URLs: %w", err)
	}
	defer rows.Close()

	urls := make(map[string]bool)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("failed to scan URL: %w", err)
		}
		urls[url] = true
	}
	return urls, rows.Err()
}

func (r *pgUserArticleRepo) ListUngroupedMatched(ctx context.Context, userID string) ([]core.UserArticle, error) {
	return r.list(ctx, `
		SELECT user_id, article_id, matched, matched_keywords, news_group_id, read, sent, sent_at
		FROM user_articles WHERE user_id = $1 AND matched AND news_group_id = ''`, userID)
}

func (r *pgUserArticleRepo) ListByGroup(ctx context.Context, groupID string) ([]core.UserArticle, error) {
	return r.list(ctx, `
		SELECT user_id, article_id, matched, matched_keywords, news_group_id, read, sent, sent_at
		FROM user_articles WHERE news_group_id = $1`, groupID)
}

func (r *pgUserArticleRepo) list(ctx context.Context, query string, arg any) ([]core.UserArticle, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list user articles: %w", err)
	}
	defer rows.Close()

	var links []core.UserArticle
	for rows.Next() {
		var ua core.UserArticle
		var keywords []byte
		var sentAt sql.NullTime
		if err := rows.Scan(&ua.UserID, &ua.ArticleID, &ua.Matched, &keywords,
			&ua.NewsGroupID, &ua.Read, &ua.Sent, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan user article: %w", err)
		}
		if sentAt.Valid {
			t := sentAt.Time
			ua.SentAt = &t
		}
		if len(keywords) > 0 {
			_ = json.Unmarshal(keywords, &ua.MatchedKeywords)
		}
		links = append(links, ua)
	}
	return links, rows.Err()
}

func (r *pgUserArticleRepo) AssignGroup(ctx context.Context, userID, groupID string, articleIDs []string) error {
	if len(articleIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE user_articles SET news_group_id = $2
		WHERE user_id = $1 AND article_id = ANY($3)`, userID, groupID, pq.Array(articleIDs))
	if err != nil {
		return fmt.Errorf("failed to assign group: %w", err)
	}
	return nil
}

func (r *pgUserArticleRepo) ListMatchedArticleIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT article_id FROM user_articles WHERE user_id = $1 AND matched`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matched article IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan article ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type pgEntityRepo struct{ db *sql.DB }

func (r *pgEntityRepo) CreateMany(ctx context.Context, entities []core.ArticleEntity) error {
	for _, e := range entities {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO article_entities (article_id, type, name, confidence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (article_id, type, name) DO NOTHING`,
			e.ArticleID, e.Type, e.Name, e.Confidence)
		if err != nil {
			return fmt.Errorf("failed to create entity: %w", err)
		}
	}
	return nil
}

func (r *pgEntityRepo) ListByArticles(ctx context.Context, articleIDs []string) ([]core.ArticleEntity, error) {
	if len(articleIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT article_id, type, name, confidence FROM article_entities
		WHERE article_id = ANY($1)`, pq.Array(articleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []core.ArticleEntity
	for rows.Next() {
		var e core.ArticleEntity
		if err := rows.Scan(&e.ArticleID, &e.Type, &e.Name, &e.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

type pgArticleCVERepo struct{ db *sql.DB }

func (r *pgArticleCVERepo) Upsert(ctx context.Context, cve *core.ArticleCVE) error {
	cpes, _ := json.Marshal(cve.CPEMatches)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO article_cves (article_id, cve_id, cvss_score, severity, description,
			cpe_matches, published_date, in_kev, kev_date_added, kev_due_date, kev_ransomware_use)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (article_id, cve_id) DO UPDATE SET
			cvss_score = EXCLUDED.cvss_score,
			severity = EXCLUDED.severity,
			description = EXCLUDED.description,
			cpe_matches = EXCLUDED.cpe_matches,
			published_date = EXCLUDED.published_date,
			in_kev = EXCLUDED.in_kev,
			kev_date_added = EXCLUDED.kev_date_added,
			kev_due_date = EXCLUDED.kev_due_date,
			kev_ransomware_use = EXCLUDED.kev_ransomware_use`,
		cve.ArticleID, cve.CVEID, cve.CVSSScore, cve.Severity, cve.Description,
		cpes, cve.PublishedDate, cve.InKEV, cve.KEVDateAdded, cve.KEVDueDate, cve.KEVRansomwareUse)
	if err != nil {
		return fmt.Errorf("failed to upsert article CVE: %w", err)
	}
	return nil
}

const articleCVEColumns = `article_id, cve_id, cvss_score, severity, description,
	cpe_matches, published_date, in_kev, kev_date_added, kev_due_date, kev_ransomware_use`

func (r *pgArticleCVERepo) ListByArticles(ctx context.Context, articleIDs []string) ([]core.ArticleCVE, error) {
	if len(articleIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+articleCVEColumns+` FROM article_cves WHERE article_id = ANY($1)`,
		pq.Array(articleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list article CVEs: %w", err)
	}
	defer rows.Close()
	return collectCVEs(rows)
}

func (r *pgArticleCVERepo) FindEnriched(ctx context.Context, cveIDs []string) (map[string]core.ArticleCVE, error) {
	if len(cveIDs) == 0 {
		return map[string]core.ArticleCVE{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+articleCVEColumns+` FROM article_cves
		WHERE cve_id = ANY($1)
		AND (cvss_score IS NOT NULL OR description <> '' OR cpe_matches <> '[]')`,
		pq.Array(cveIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to find enriched CVEs: %w", err)
	}
	defer rows.Close()

	cves, err := collectCVEs(rows)
	if err != nil {
		return nil, err
	}
	result := make(map[string]core.ArticleCVE, len(cves))
	for _, cve := range cves {
		if _, ok := result[cve.CVEID]; !ok {
			result[cve.CVEID] = cve
		}
	}
	return result, nil
}

func collectCVEs(rows *sql.Rows) ([]core.ArticleCVE, error) {
	var cves []core.ArticleCVE
	for rows.Next() {
		var c core.ArticleCVE
		var cpes []byte
		var published, kevAdded, kevDue sql.NullTime
		var score sql.NullFloat64
		if err := rows.Scan(&c.ArticleID, &c.CVEID, &score, &c.Severity, &c.Description,
			&cpes, &published, &c.InKEV, &kevAdded, &kevDue, &c.KEVRansomwareUse); err != nil {
			return nil, fmt.Errorf("failed to scan article CVE: %w", err)
		}
		if score.Valid {
			v := score.Float64
			c.CVSSScore = &v
		}
		if published.Valid {
			t := published.Time
			c.PublishedDate = &t
		}
		if kevAdded.Valid {
			t := kevAdded.Time
			c.KEVDateAdded = &t
		}
		if kevDue.Valid {
			t := kevDue.Time
			c.KEVDueDate = &t
		}
		if len(cpes) > 0 {
			_ = json.Unmarshal(cpes, &c.CPEMatches)
		}
		cves = append(cves, c)
	}
	return cves, rows.Err()
}

type pgNewsGroupRepo struct{ db *sql.DB }

const newsGroupColumns = `id, user_id, title, synopsis, executive_summary,
	impact_analysis, actionability, case_type, confidence, date`

func (r *pgNewsGroupRepo) Create(ctx context.Context, group *core.NewsGroup) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO news_groups (`+newsGroupColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		group.ID, group.UserID, group.Title, group.Synopsis, group.ExecutiveSummary,
		group.ImpactAnalysis, group.Actionability, group.CaseType, group.Confidence, group.Date)
	if err != nil {
		return fmt.Errorf("failed to create news group: %w", err)
	}
	return nil
}

func (r *pgNewsGroupRepo) Get(ctx context.Context, id string) (*core.NewsGroup, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+newsGroupColumns+` FROM news_groups WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query news group: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	g, err := scanNewsGroup(rows)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *pgNewsGroupRepo) UpdateBriefing(ctx context.Context, group *core.NewsGroup) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE news_groups SET title = $2, synopsis = $3, executive_summary = $4,
			impact_analysis = $5, actionability = $6, case_type = $7
		WHERE id = $1`,
		group.ID, group.Title, group.Synopsis, group.ExecutiveSummary,
		group.ImpactAnalysis, group.Actionability, group.CaseType)
	if err != nil {
		return fmt.Errorf("failed to update briefing: %w", err)
	}
	return nil
}

func (r *pgNewsGroupRepo) ListByUser(ctx context.Context, userID string, limit int) ([]core.NewsGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+newsGroupColumns+` FROM news_groups
		WHERE user_id = $1 ORDER BY date DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list news groups: %w", err)
	}
	defer rows.Close()
	return collectNewsGroups(rows)
}

func (r *pgNewsGroupRepo) ListWithArticlesSince(ctx context.Context, userID string, since time.Time) ([]core.NewsGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT g.id, g.user_id, g.title, g.synopsis, g.executive_summary,
			g.impact_analysis, g.actionability, g.case_type, g.confidence, g.date
		FROM news_groups g
		JOIN user_articles ua ON ua.news_group_id = g.id
		JOIN articles a ON a.id = ua.article_id
		WHERE g.user_id = $1 AND COALESCE(a.published_at, g.date) >= $2
		ORDER BY g.date DESC`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list news groups since: %w", err)
	}
	defer rows.Close()
	return collectNewsGroups(rows)
}

func collectNewsGroups(rows *sql.Rows) ([]core.NewsGroup, error) {
	var groups []core.NewsGroup
	for rows.Next() {
		g, err := scanNewsGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func scanNewsGroup(rows *sql.Rows) (core.NewsGroup, error) {
	var g core.NewsGroup
	if err := rows.Scan(&g.ID, &g.UserID, &g.Title, &g.Synopsis, &g.ExecutiveSummary,
		&g.ImpactAnalysis, &g.Actionability, &g.CaseType, &g.Confidence, &g.Date); err != nil {
		return g, fmt.Errorf("failed to scan news group: %w", err)
	}
	return g, nil
}
