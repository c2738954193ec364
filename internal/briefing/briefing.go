// Package briefing turns a story cluster into a multi-section AI briefing.
package briefing

import (
	"context"
	"fmt"
	"strings"

	"cyberbrief/internal/core"
	"cyberbrief/internal/llm"
	"cyberbrief/internal/llmjson"
)

const (
	// maxJoinedChars caps the combined article text inside the prompt. When
	// the join would exceed it, each article is truncated to an equal share.
	maxJoinedChars = 20000

	maxResponseTokens = 1500
)

const systemPrompt = `You are a senior cyber-threat intelligence analyst writing a briefing about one security story, derived from the articles provided.

Respond with a JSON object with exactly these fields:
{
  "title": "concise story headline",
  "synopsis": "2-3 sentence summary of what happened",
  "executiveSummary": "one paragraph for leadership: what, who, scale",
  "impactAnalysis": "who is affected and how severely",
  "actionability": "concrete defensive steps readers should take",
  "caseType": 1
}

caseType is an integer severity class:
1 = vulnerability or incident under active exploitation
2 = vulnerability disclosed, no known exploitation
3 = issue already fixed or remediated
4 = informational / general security news`

// response mirrors the required briefing JSON shape.
type response struct {
	Title            string `json:"title"`
	Synopsis         string `json:"synopsis"`
	ExecutiveSummary string `json:"executiveSummary"`
	ImpactAnalysis   string `json:"impactAnalysis"`
	Actionability    string `json:"actionability"`
	CaseType         int    `json:"caseType"`
}

// Generator produces one briefing per news group.
type Generator struct {
	llm llm.CompletionService
}

// NewGenerator creates a briefing generator.
func NewGenerator(service llm.CompletionService) *Generator {
	return &Generator{llm: service}
}

// Generate runs one LLM call for the group and writes the narrative fields
// onto the group record. An empty title or synopsis in the response is a
// failure: the group is left untouched so the cluster-derived title survives.
// A missing or out-of-range caseType defaults to informational.
func (g *Generator) Generate(ctx context.Context, group *core.NewsGroup, articles []core.Article) error {
	if len(articles) == 0 {
		return fmt.Errorf("group %s has no articles to brief", group.ID)
	}

	raw, err := g.llm.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildUserPrompt(articles),
		JSONMode:     true,
		MaxTokens:    maxResponseTokens,
	})
	if err != nil {
		return fmt.Errorf("briefing call for group %s failed: %w", group.ID, err)
	}

	var parsed response
	if err := llmjson.Extract(raw, &parsed); err != nil {
		return fmt.Errorf("briefing response for group %s unparseable: %w", group.ID, err)
	}
	if strings.TrimSpace(parsed.Title) == "" || strings.TrimSpace(parsed.Synopsis) == "" {
		return fmt.Errorf("briefing response for group %s missing title or synopsis", group.ID)
	}

	caseType := core.CaseType(parsed.CaseType)
	if caseType < core.CaseActivelyExploited || caseType > core.CaseInformational {
		caseType = core.CaseInformational
	}

	group.Title = parsed.Title
	group.Synopsis = parsed.Synopsis
	group.ExecutiveSummary = parsed.ExecutiveSummary
	group.ImpactAnalysis = parsed.ImpactAnalysis
	group.Actionability = parsed.Actionability
	group.CaseType = caseType
	return nil
}

// buildUserPrompt joins the group's article texts under the character budget.
// When the naive join is over budget every article gets an equal share.
func buildUserPrompt(articles []core.Article) string {
	texts := make([]string, len(articles))
	total := 0
	for i, a := range articles {
		text := a.CleanText
		if text == "" {
			text = a.Content
		}
		texts[i] = text
		total += len(text)
	}

	if total > maxJoinedChars {
		share := maxJoinedChars / len(articles)
		for i, text := range texts {
			if len(text) > share {
				texts[i] = text[:share]
			}
		}
	}

	var b strings.Builder
	b.WriteString("Articles in this story:\n")
	for i, a := range articles {
		fmt.Fprintf(&b, "\n--- Article %d: %s ---\n%s\n", i+1, a.Title, texts[i])
	}
	return b.String()
}
