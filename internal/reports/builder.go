package reports

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cyberbrief/internal/core"
	"cyberbrief/internal/llm"
	"cyberbrief/internal/logger"
	"cyberbrief/internal/persistence"
)

const (
	// maxContextChars caps the story context block inside report prompts.
	maxContextChars = 30000

	truncationMarker = "\n[... truncated for length]"
)

// maxTokensByPeriod scales the summary budget with the window size.
var maxTokensByPeriod = map[core.ReportPeriod]int{
	core.Period1d:  2500,
	core.Period7d:  3500,
	core.Period30d: 4000,
}

var promptByPeriod = map[core.ReportPeriod]string{
	core.Period1d: `You are a senior cyber-threat intelligence analyst writing a daily intelligence report.

Using the statistics and the stories below, write a concise report in markdown with these sections:
## Executive Summary
## Key Threats
## Recommended Actions

Focus on what changed in the last 24 hours. Be specific: name the products, actors, and CVEs involved.`,
	core.Period7d: `You are a senior cyber-threat intelligence analyst writing a weekly intelligence report.

Using the statistics and the stories below, write a report in markdown with these sections:
## Executive Summary
## Threat Landscape
## Notable Vulnerabilities
## Recommended Actions

Identify the week's dominant themes and call out anything that escalated. Be specific: name the products, actors, and CVEs involved.`,
	core.Period30d: `You are a senior cyber-threat intelligence analyst writing a monthly intelligence report.

Using the statistics and the stories below, write a report in markdown with these sections:
## Executive Summary
## Threat Landscape
## Trend Analysis
## Notable Vulnerabilities
## Strategic Recommendations

Emphasize trends over individual incidents and compare the month's activity against what the stats show. Be specific: name the products, actors, and CVEs involved.`,
}

// Builder assembles period reports from the stored stories.
type Builder struct {
	db  persistence.Database
	llm llm.CompletionService
	now func() time.Time
}

// NewBuilder creates a report builder.
func NewBuilder(db persistence.Database, service llm.CompletionService) *Builder {
	return &Builder{db: db, llm: service, now: time.Now}
}

// Build computes stats over the period's stories, generates the AI summary,
// and upserts the report on (userID, period). A summary generation failure is
// not fatal: the report is still stored with its stats and an empty summary.
func (b *Builder) Build(ctx context.Context, userID string, period core.ReportPeriod) (*core.PeriodReport, error) {
	days, ok := core.PeriodDays[period]
	if !ok {
		return nil, fmt.Errorf("unknown report period %q", period)
	}

	to := b.now().UTC()
	from := to.AddDate(0, 0, -days)

	stories, err := b.loadStories(ctx, userID, from)
	if err != nil {
		return nil, err
	}

	report := &core.PeriodReport{
		UserID:      userID,
		Period:      period,
		FromDate:    from,
		ToDate:      to,
		Stats:       ComputeStats(stories, from, to),
		GeneratedAt: to,
	}

	if len(stories) > 0 {
		summary, err := b.generateSummary(ctx, period, report.Stats, stories)
		if err != nil {
			logger.Warn("report summary generation failed",
				"userId", userID, "period", string(period), "reason", err.Error())
		} else {
			report.Summary = summary
		}
	}

	if err := b.db.PeriodReports().Upsert(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to store %s report for user %s: %w", period, userID, err)
	}
	return report, nil
}

// loadStories hydrates every group with articles in the window along with its
// enrichment rows.
func (b *Builder) loadStories(ctx context.Context, userID string, since time.Time) ([]StoryContext, error) {
	groups, err := b.db.NewsGroups().ListWithArticlesSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list report groups: %w", err)
	}

	stories := make([]StoryContext, 0, len(groups))
	for _, group := range groups {
		links, err := b.db.UserArticles().ListByGroup(ctx, group.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list group %s articles: %w", group.ID, err)
		}
		ids := make([]string, 0, len(links))
		for _, link := range links {
			ids = append(ids, link.ArticleID)
		}

		articles, err := b.db.Articles().ListByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load group %s articles: %w", group.ID, err)
		}
		entities, err := b.db.Entities().ListByArticles(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load group %s entities: %w", group.ID, err)
		}
		signals, err := b.db.Signals().ListArticleSignals(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load group %s signals: %w", group.ID, err)
		}
		cves, err := b.db.ArticleCVEs().ListByArticles(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load group %s CVEs: %w", group.ID, err)
		}

		stories = append(stories, StoryContext{
			Group:    group,
			Articles: articles,
			Entities: entities,
			Signals:  signals,
			CVEs:     cves,
		})
	}
	return stories, nil
}

func (b *Builder) generateSummary(ctx context.Context, period core.ReportPeriod, stats core.ReportStats, stories []StoryContext) (string, error) {
	raw, err := b.llm.Complete(ctx, llm.Request{
		SystemPrompt: promptByPeriod[period],
		UserPrompt:   buildReportContext(stats, stories),
		MaxTokens:    maxTokensByPeriod[period],
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(raw)
	if summary == "" {
		return "", fmt.Errorf("empty summary response")
	}
	return summary, nil
}

// buildReportContext renders stats plus per-story briefings, most severe case
// types first, hard-capped at maxContextChars.
func buildReportContext(stats core.ReportStats, stories []StoryContext) string {
	ordered := make([]StoryContext, len(stories))
	copy(ordered, stories)
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].Group.CaseType < ordered[b].Group.CaseType
	})

	var b strings.Builder
	b.WriteString("## Statistics\n")
	b.WriteString(renderStats(stats))
	b.WriteString("\n## Stories\n")

	for i, story := range ordered {
		g := story.Group
		fmt.Fprintf(&b, "\n### Story %d: %s (case type %d)\n", i+1, g.Title, g.CaseType)
		if g.Synopsis != "" {
			b.WriteString(g.Synopsis + "\n")
		}
		if g.ImpactAnalysis != "" {
			b.WriteString("Impact: " + g.ImpactAnalysis + "\n")
		}
		for _, cve := range story.CVEs {
			fmt.Fprintf(&b, "Mentions %s", cve.CVEID)
			if cve.CVSSScore != nil {
				fmt.Fprintf(&b, " (CVSS %.1f)", *cve.CVSSScore)
			}
			if cve.InKEV {
				b.WriteString(" [KEV]")
			}
			b.WriteString("\n")
		}
		if b.Len() > maxContextChars {
			break
		}
	}

	out := b.String()
	if len(out) > maxContextChars {
		out = out[:maxContextChars] + truncationMarker
	}
	return out
}
