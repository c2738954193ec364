package handlers

import (
	"errors"
	"fmt"

	"cyberbrief/internal/briefing"
	"cyberbrief/internal/config"
	"cyberbrief/internal/cve"
	"cyberbrief/internal/email"
	"cyberbrief/internal/entities"
	"cyberbrief/internal/exposure"
	"cyberbrief/internal/feeds"
	"cyberbrief/internal/fetch"
	"cyberbrief/internal/llm"
	"cyberbrief/internal/logger"
	"cyberbrief/internal/persistence"
	"cyberbrief/internal/pipeline"
	"cyberbrief/internal/reports"
	"cyberbrief/internal/scheduler"
)

// app bundles the wired collaborators shared by the commands.
type app struct {
	cfg      *config.Config
	db       *persistence.PostgresDB
	scraper  *feeds.Scraper
	pipeline *pipeline.Pipeline
	exposure *exposure.Engine
	mailer   *email.Mailer
}

// buildApp loads config and wires the full collaborator graph. A missing
// OpenAI key degrades the LLM stages to logged skips instead of failing
// startup.
func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("no database configured, set DATABASE_URL")
	}

	db, err := persistence.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var completions llm.CompletionService
	client, err := llm.NewClient(cfg.AI.OpenAI)
	switch {
	case err == nil:
		completions = client
	case errors.Is(err, llm.ErrNotConfigured):
		logger.Warn("no OpenAI API key configured, AI stages will be skipped")
		completions = llm.Disabled{}
	default:
		db.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	scraper := feeds.NewScraper(cfg.Scraper.CacheTTL)
	extractor := fetch.NewExtractor()
	entityExtractor := entities.NewExtractor(completions)
	nvd := cve.NewNVDClient(cfg.NVD.BaseURL, cfg.NVD.APIKey)
	kev := cve.NewKEVCache(cfg.KEV.URL)
	briefer := briefing.NewGenerator(completions)
	reportBuilder := reports.NewBuilder(db, completions)
	exposureEngine := exposure.NewEngine(db)

	pipe := pipeline.New(db, scraper, extractor, entityExtractor, nvd, kev,
		briefer, reportBuilder, exposureEngine)

	mailer := email.NewMailer(db, cfg.Email.ResendAPIKey, cfg.Email.From)

	return &app{
		cfg:      cfg,
		db:       db,
		scraper:  scraper,
		pipeline: pipe,
		exposure: exposureEngine,
		mailer:   mailer,
	}, nil
}

// digestMailer adapts the mailer to the scheduler contract, or nil when email
// is unconfigured.
func (a *app) digestMailer() scheduler.DigestMailer {
	if a.cfg.Email.ResendAPIKey == "" {
		return nil
	}
	return a.mailer
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		logger.Warn("database close failed", "reason", err.Error())
	}
}
