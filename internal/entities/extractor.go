// Package entities extracts typed entities and industry-signal
// classifications from article text through batched LLM calls.
package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cyberbrief/internal/core"
	"cyberbrief/internal/llm"
	"cyberbrief/internal/llmjson"
)

const (
	// MaxBatchSize caps articles per LLM call.
	MaxBatchSize = 5

	// maxArticleChars truncates each article's text inside the prompt.
	maxArticleChars = 4000

	// minEntityConfidence drops low-confidence entities.
	minEntityConfidence = 0.3

	// minSignalConfidence drops low-confidence signal classifications.
	minSignalConfidence = 0.5

	maxResponseTokens = 2000
)

// ScoredName is an extracted entity name with model confidence.
type ScoredName struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ScoredSlug is a signal classification with model confidence.
type ScoredSlug struct {
	Slug       string  `json:"slug"`
	Confidence float64 `json:"confidence"`
}

// Extraction holds one article's filtered extraction result.
type Extraction struct {
	Companies   []ScoredName `json:"companies"`
	People      []ScoredName `json:"people"`
	Products    []ScoredName `json:"products"`
	Geographies []ScoredName `json:"geographies"`
	Sectors     []ScoredName `json:"sectors"`
	Signals     []ScoredSlug `json:"signals"`
}

// Entities flattens the extraction into typed ArticleEntity rows.
func (e Extraction) Entities(articleID string) []core.ArticleEntity {
	var rows []core.ArticleEntity
	add := func(typ core.EntityType, names []ScoredName) {
		for _, n := range names {
			rows = append(rows, core.ArticleEntity{
				ArticleID:  articleID,
				Type:       typ,
				Name:       n.Name,
				Confidence: n.Confidence,
			})
		}
	}
	add(core.EntityCompany, e.Companies)
	add(core.EntityPerson, e.People)
	add(core.EntityProduct, e.Products)
	add(core.EntityGeography, e.Geographies)
	add(core.EntitySector, e.Sectors)
	return rows
}

// Extractor performs batched entity/signal extraction.
type Extractor struct {
	llm llm.CompletionService
}

// NewExtractor creates an extractor backed by the given completion service.
func NewExtractor(service llm.CompletionService) *Extractor {
	return &Extractor{llm: service}
}

const systemPrompt = `You are a cyber-security intelligence analyst. Extract structured data from news articles.

For each article, identify:
- companies: organizations mentioned (vendors, victims, threat groups operating as companies)
- people: named individuals
- products: software or hardware products
- geographies: countries, regions, cities
- sectors: industry sectors affected
- signals: which of the allowed signal slugs apply to the article

Each entry carries a confidence between 0 and 1. Only use signal slugs from the allowed list.

Respond with a JSON object keyed by article id:
{"<article-id>": {"companies": [{"name": "...", "confidence": 0.9}], "people": [], "products": [], "geographies": [], "sectors": [], "signals": [{"slug": "...", "confidence": 0.8}]}}`

// ExtractBatch classifies up to MaxBatchSize articles in one LLM call and
// returns filtered extractions keyed by article ID. Entities below 0.3
// confidence, signals below 0.5, and signal slugs outside the allowed
// vocabulary are dropped before the result is returned.
func (x *Extractor) ExtractBatch(ctx context.Context, articles []core.Article, allowedSlugs []string) (map[string]Extraction, error) {
	if len(articles) == 0 {
		return map[string]Extraction{}, nil
	}
	if len(articles) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds limit of %d", len(articles), MaxBatchSize)
	}

	raw, err := x.llm.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildUserPrompt(articles, allowedSlugs),
		JSONMode:     true,
		MaxTokens:    maxResponseTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("entity extraction call failed: %w", err)
	}

	var parsed map[string]Extraction
	if err := llmjson.Extract(raw, &parsed); err != nil {
		return nil, fmt.Errorf("entity extraction response unparseable: %w", err)
	}

	allowed := make(map[string]bool, len(allowedSlugs))
	for _, slug := range allowedSlugs {
		allowed[slug] = true
	}

	results := make(map[string]Extraction, len(articles))
	for _, article := range articles {
		extraction, ok := parsed[article.ID]
		if !ok {
			continue
		}
		results[article.ID] = filterExtraction(extraction, allowed)
	}
	return results, nil
}

func buildUserPrompt(articles []core.Article, allowedSlugs []string) string {
	var b strings.Builder
	b.WriteString("Allowed signal slugs: ")
	slugsJSON, _ := json.Marshal(allowedSlugs)
	b.Write(slugsJSON)
	b.WriteString("\n\nArticles:\n")
	for _, article := range articles {
		text := article.CleanText
		if text == "" {
			text = article.Content
		}
		if len(text) > maxArticleChars {
			text = text[:maxArticleChars]
		}
		fmt.Fprintf(&b, "---\nid: %s\ntitle: %s\ntext: %s\n", article.ID, article.Title, text)
	}
	return b.String()
}

// filterExtraction applies the confidence thresholds and the closed signal
// vocabulary. The vocabulary check keeps LLM-invented slugs out of the
// taxonomy.
func filterExtraction(extraction Extraction, allowed map[string]bool) Extraction {
	filterNames := func(names []ScoredName) []ScoredName {
		var kept []ScoredName
		for _, n := range names {
			if n.Name != "" && n.Confidence >= minEntityConfidence {
				kept = append(kept, n)
			}
		}
		return kept
	}

	var signals []ScoredSlug
	for _, s := range extraction.Signals {
		if s.Confidence >= minSignalConfidence && allowed[s.Slug] {
			signals = append(signals, s)
		}
	}

	return Extraction{
		Companies:   filterNames(extraction.Companies),
		People:      filterNames(extraction.People),
		Products:    filterNames(extraction.Products),
		Geographies: filterNames(extraction.Geographies),
		Sectors:     filterNames(extraction.Sectors),
		Signals:     signals,
	}
}
