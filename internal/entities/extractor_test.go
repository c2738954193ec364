package entities

import (
	"context"
	"strings"
	"testing"

	"cyberbrief/internal/core"
	"cyberbrief/internal/llm"
)

type stubLLM struct {
	response string
	err      error
	lastReq  llm.Request
}

func (s *stubLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	s.lastReq = req
	return s.response, s.err
}

func TestExtractBatch(t *testing.T) {
	stub := &stubLLM{response: `{
		"a1": {
			"companies": [
				{"name": "Fortinet", "confidence": 0.95},
				{"name": "MaybeCorp", "confidence": 0.1}
			],
			"people": [{"name": "Jane Doe", "confidence": 0.8}],
			"products": [{"name": "FortiOS", "confidence": 0.9}],
			"geographies": [],
			"sectors": [{"name": "Government", "confidence": 0.7}],
			"signals": [
				{"slug": "zero-day", "confidence": 0.9},
				{"slug": "zero-day", "confidence": 0.4},
				{"slug": "invented-slug", "confidence": 0.99}
			]
		}
	}`}

	x := NewExtractor(stub)
	articles := []core.Article{{ID: "a1", Title: "Fortinet advisory", CleanText: "body"}}
	results, err := x.ExtractBatch(context.Background(), articles, []string{"zero-day", "ransomware"})
	if err != nil {
		t.Fatalf("ExtractBatch failed: %v", err)
	}

	extraction, ok := results["a1"]
	if !ok {
		t.Fatal("missing extraction for a1")
	}

	if len(extraction.Companies) != 1 || extraction.Companies[0].Name != "Fortinet" {
		t.Errorf("Companies = %v, want the low-confidence entry dropped", extraction.Companies)
	}
	if len(extraction.Signals) != 1 {
		t.Fatalf("Signals = %v, want 1 surviving signal", extraction.Signals)
	}
	if extraction.Signals[0].Slug != "zero-day" || extraction.Signals[0].Confidence != 0.9 {
		t.Errorf("Signals[0] = %+v", extraction.Signals[0])
	}

	if !stub.lastReq.JSONMode {
		t.Error("expected JSON mode")
	}
	if !strings.Contains(stub.lastReq.UserPrompt, `"zero-day"`) {
		t.Error("prompt missing the allowed slug vocabulary")
	}
}

func TestExtractBatch_Limits(t *testing.T) {
	x := NewExtractor(&stubLLM{})

	results, err := x.ExtractBatch(context.Background(), nil, nil)
	if err != nil || len(results) != 0 {
		t.Errorf("empty batch: results=%v err=%v", results, err)
	}

	over := make([]core.Article, MaxBatchSize+1)
	for i := range over {
		over[i] = core.Article{ID: "x"}
	}
	if _, err := x.ExtractBatch(context.Background(), over, nil); err == nil {
		t.Error("expected an error for an oversized batch")
	}
}

func TestExtractBatch_MissingArticleOmitted(t *testing.T) {
	stub := &stubLLM{response: `{"a1": {"companies": [{"name": "X", "confidence": 0.9}]}}`}
	x := NewExtractor(stub)
	articles := []core.Article{{ID: "a1"}, {ID: "a2"}}

	results, err := x.ExtractBatch(context.Background(), articles, nil)
	if err != nil {
		t.Fatalf("ExtractBatch failed: %v", err)
	}
	if _, ok := results["a2"]; ok {
		t.Error("a2 must be absent when the model returned nothing for it")
	}
	if _, ok := results["a1"]; !ok {
		t.Error("a1 missing")
	}
}

func TestExtractionEntities(t *testing.T) {
	extraction := Extraction{
		Companies: []ScoredName{{Name: "Fortinet", Confidence: 0.9}},
		People:    []ScoredName{{Name: "Jane Doe", Confidence: 0.8}},
		Products:  []ScoredName{{Name: "FortiOS", Confidence: 0.7}},
		Sectors:   []ScoredName{{Name: "Healthcare", Confidence: 0.6}},
	}

	rows := extraction.Entities("a1")
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}
	byType := make(map[core.EntityType]core.ArticleEntity)
	for _, r := range rows {
		if r.ArticleID != "a1" {
			t.Errorf("ArticleID = %q", r.ArticleID)
		}
		byType[r.Type] = r
	}
	if byType[core.EntityCompany].Name != "Fortinet" {
		t.Errorf("company row = %+v", byType[core.EntityCompany])
	}
	if byType[core.EntityPerson].Name != "Jane Doe" {
		t.Errorf("person row = %+v", byType[core.EntityPerson])
	}
}
