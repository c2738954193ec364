package persistence

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresDB is the Postgres-backed Database implementation.
type PostgresDB struct {
	db *sql.DB

	users         *pgUserRepo
	sources       *pgSourceRepo
	keywords      *pgKeywordRepo
	signals       *pgSignalRepo
	articles      *pgArticleRepo
	userArticles  *pgUserArticleRepo
	entities      *pgEntityRepo
	articleCVEs   *pgArticleCVERepo
	newsGroups    *pgNewsGroupRepo
	techStack     *pgTechStackRepo
	exposures     *pgExposureRepo
	periodReports *pgPeriodReportRepo
	snapshots     *pgSnapshotRepo
}

// NewPostgresDB opens a connection pool against the given DSN.
func NewPostgresDB(dsn string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)

	p := &PostgresDB{db: db}
	p.users = &pgUserRepo{db: db}
	p.sources = &pgSourceRepo{db: db}
	p.keywords = &pgKeywordRepo{db: db}
	p.signals = &pgSignalRepo{db: db}
	p.articles = &pgArticleRepo{db: db}
	p.userArticles = &pgUserArticleRepo{db: db}
	p.entities = &pgEntityRepo{db: db}
	p.articleCVEs = &pgArticleCVERepo{db: db}
	p.newsGroups = &pgNewsGroupRepo{db: db}
	p.techStack = &pgTechStackRepo{db: db}
	p.exposures = &pgExposureRepo{db: db}
	p.periodReports = &pgPeriodReportRepo{db: db}
	p.snapshots = &pgSnapshotRepo{db: db}
	return p, nil
}

func (p *PostgresDB) Users() UserRepository                 { return p.users }
func (p *PostgresDB) Sources() SourceRepository             { return p.sources }
func (p *PostgresDB) Keywords() KeywordRepository           { return p.keywords }
func (p *PostgresDB) Signals() SignalRepository             { return p.signals }
func (p *PostgresDB) Articles() ArticleRepository           { return p.articles }
func (p *PostgresDB) UserArticles() UserArticleRepository   { return p.userArticles }
func (p *PostgresDB) Entities() EntityRepository            { return p.entities }
func (p *PostgresDB) ArticleCVEs() ArticleCVERepository     { return p.articleCVEs }
func (p *PostgresDB) NewsGroups() NewsGroupRepository       { return p.newsGroups }
func (p *PostgresDB) TechStack() TechStackRepository        { return p.techStack }
func (p *PostgresDB) Exposures() ExposureRepository         { return p.exposures }
func (p *PostgresDB) PeriodReports() PeriodReportRepository { return p.periodReports }
func (p *PostgresDB) Snapshots() SnapshotRepository         { return p.snapshots }

func (p *PostgresDB) Close() error { return p.db.Close() }

func (p *PostgresDB) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate creates the schema. Every statement is idempotent so repeated runs
// are safe.
func (p *PostgresDB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			industry_id TEXT NOT NULL DEFAULT '',
			digest_frequency TEXT NOT NULL DEFAULT '1d',
			digest_time TEXT NOT NULL DEFAULT '08:00',
			last_digest_at TIMESTAMPTZ,
			email_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			onboarded BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			url TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'RSS',
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS keywords (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			word TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS industry_signals (
			id TEXT PRIMARY KEY,
			industry_id TEXT NOT NULL,
			slug TEXT NOT NULL,
			name TEXT NOT NULL,
			UNIQUE (industry_id, slug)
		)`,
		`CREATE TABLE IF NOT EXISTS articles (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			clean_text TEXT NOT NULL DEFAULT '',
			raw_html TEXT NOT NULL DEFAULT '',
			external_links JSONB NOT NULL DEFAULT '[]',
			author TEXT NOT NULL DEFAULT '',
			guid TEXT NOT NULL DEFAULT '',
			published_at TIMESTAMPTZ,
			entities_extracted BOOLEAN NOT NULL DEFAULT FALSE,
			cves_extracted BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS user_articles (
			user_id TEXT NOT NULL REFERENCES users(id),
			article_id TEXT NOT NULL REFERENCES articles(id),
			matched BOOLEAN NOT NULL DEFAULT FALSE,
			matched_keywords JSONB NOT NULL DEFAULT '[]',
			news_group_id TEXT NOT NULL DEFAULT '',
			read BOOLEAN NOT NULL DEFAULT FALSE,
			sent BOOLEAN NOT NULL DEFAULT FALSE,
			sent_at TIMESTAMPTZ,
			PRIMARY KEY (user_id, article_id)
		)`,
		`CREATE TABLE IF NOT EXISTS article_entities (
			article_id TEXT NOT NULL REFERENCES articles(id),
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (article_id, type, name)
		)`,
		`CREATE TABLE IF NOT EXISTS article_signals (
			article_id TEXT NOT NULL REFERENCES articles(id),
			industry_signal_id TEXT NOT NULL REFERENCES industry_signals(id),
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (article_id, industry_signal_id)
		)`,
		`CREATE TABLE IF NOT EXISTS article_cves (
			article_id TEXT NOT NULL REFERENCES articles(id),
			cve_id TEXT NOT NULL,
			cvss_score DOUBLE PRECISION,
			severity TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			cpe_matches JSONB NOT NULL DEFAULT '[]',
			published_date TIMESTAMPTZ,
			in_kev BOOLEAN NOT NULL DEFAULT FALSE,
			kev_date_added TIMESTAMPTZ,
			kev_due_date TIMESTAMPTZ,
			kev_ransomware_use BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (article_id, cve_id)
		)`,
		`CREATE TABLE IF NOT EXISTS news_groups (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			title TEXT NOT NULL DEFAULT '',
			synopsis TEXT NOT NULL DEFAULT '',
			executive_summary TEXT NOT NULL DEFAULT '',
			impact_analysis TEXT NOT NULL DEFAULT '',
			actionability TEXT NOT NULL DEFAULT '',
			case_type INTEGER NOT NULL DEFAULT 0,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			date TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tech_stack_items (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			vendor TEXT NOT NULL,
			product TEXT NOT NULL,
			version TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			cpe_pattern TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			UNIQUE (user_id, vendor, product, version)
		)`,
		`CREATE TABLE IF NOT EXISTS user_cve_exposures (
			user_id TEXT NOT NULL REFERENCES users(id),
			cve_id TEXT NOT NULL,
			article_cve_id TEXT NOT NULL DEFAULT '',
			tech_stack_item_id TEXT NOT NULL DEFAULT '',
			exposure_state TEXT NOT NULL,
			auto_classified BOOLEAN NOT NULL DEFAULT TRUE,
			matched_cpe TEXT NOT NULL DEFAULT '',
			first_detected_at TIMESTAMPTZ NOT NULL,
			patched_at TIMESTAMPTZ,
			remediation_deadline TIMESTAMPTZ,
			notes TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (user_id, cve_id)
		)`,
		`CREATE TABLE IF NOT EXISTS period_reports (
			user_id TEXT NOT NULL REFERENCES users(id),
			period TEXT NOT NULL,
			from_date TIMESTAMPTZ NOT NULL,
			to_date TIMESTAMPTZ NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			stats JSONB NOT NULL DEFAULT '{}',
			generated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, period)
		)`,
		`CREATE TABLE IF NOT EXISTS period_snapshots (
			user_id TEXT NOT NULL REFERENCES users(id),
			period TEXT NOT NULL,
			snap_date TIMESTAMPTZ NOT NULL,
			metrics JSONB NOT NULL DEFAULT '{}',
			PRIMARY KEY (user_id, period, snap_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_articles_group ON user_articles (news_group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_news_groups_user_date ON news_groups (user_id, date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_article_cves_cve ON article_cves (cve_id)`,
	}

	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
