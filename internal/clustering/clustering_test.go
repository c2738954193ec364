package clustering

import (
	"fmt"
	"testing"
	"time"
)

func ts(hoursAgo int) *time.Time {
	t := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC).Add(-time.Duration(hoursAgo) * time.Hour)
	return &t
}

func TestCluster_Empty(t *testing.T) {
	if got := Cluster(nil); got != nil {
		t.Errorf("Cluster(nil) = %v, want nil", got)
	}
}

func TestCluster_Singleton(t *testing.T) {
	groups := Cluster([]ArticleView{{
		ArticleID: "a1",
		Title:     "Lone advisory",
		Entities:  []string{"Fortinet"},
		Signals:   []string{"vulnerability-disclosure"},
	}})

	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	g := groups[0]
	if len(g.ArticleIDs) != 1 || g.ArticleIDs[0] != "a1" {
		t.Errorf("ArticleIDs = %v", g.ArticleIDs)
	}
	if g.Confidence != singletonConfidence {
		t.Errorf("Confidence = %v, want %v", g.Confidence, singletonConfidence)
	}
	if g.Title == "" {
		t.Error("expected a synthesized title")
	}
}

func TestCluster_RelatedArticlesGroupTogether(t *testing.T) {
	articles := []ArticleView{
		{
			ArticleID:   "f1",
			Title:       "Fortinet zero-day exploited",
			Entities:    []string{"Fortinet", "FortiOS"},
			Signals:     []string{"zero-day", "exploitation"},
			Keywords:    []string{"fortinet"},
			PublishedAt: ts(1),
		},
		{
			ArticleID:   "f2",
			Title:       "FortiOS patch released",
			Entities:    []string{"fortinet", "FortiOS"},
			Signals:     []string{"zero-day", "patch-release"},
			Keywords:    []string{"fortinet"},
			PublishedAt: ts(5),
		},
		{
			ArticleID:   "f3",
			Title:       "CISA warns on Fortinet exploitation",
			Entities:    []string{"Fortinet", "CISA"},
			Signals:     []string{"exploitation", "zero-day"},
			Keywords:    []string{"fortinet"},
			PublishedAt: ts(10),
		},
		{
			ArticleID:   "m1",
			Title:       "Hospital ransomware incident",
			Entities:    []string{"LockBit", "MedCorp"},
			Signals:     []string{"ransomware"},
			Keywords:    []string{"ransomware"},
			PublishedAt: ts(2),
		},
	}

	groups := Cluster(articles)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}

	// Groups are ordered largest first.
	big := groups[0]
	if len(big.ArticleIDs) != 3 {
		t.Fatalf("largest group has %d articles, want 3: %v", len(big.ArticleIDs), big.ArticleIDs)
	}
	inBig := make(map[string]bool)
	for _, id := range big.ArticleIDs {
		inBig[id] = true
	}
	for _, id := range []string{"f1", "f2", "f3"} {
		if !inBig[id] {
			t.Errorf("article %s missing from the Fortinet group", id)
		}
	}
	if inBig["m1"] {
		t.Error("the ransomware article leaked into the Fortinet group")
	}

	if big.Confidence < similarityThreshold {
		t.Errorf("Confidence = %v, want at least the merge threshold", big.Confidence)
	}
	if len(big.DominantEntities) == 0 || len(big.DominantSignals) == 0 {
		t.Errorf("dominant terms empty: %v / %v", big.DominantEntities, big.DominantSignals)
	}
}

func TestCluster_CommonTermsSuppressedByIDF(t *testing.T) {
	// Every article shares the "security" keyword. IDF weighs a universal
	// term at zero, so that alone cannot merge unrelated articles.
	var articles []ArticleView
	for i := 0; i < 4; i++ {
		articles = append(articles, ArticleView{
			ArticleID:   fmt.Sprintf("a%d", i),
			Title:       fmt.Sprintf("Story %d", i),
			Entities:    []string{fmt.Sprintf("Vendor%d", i)},
			Signals:     []string{fmt.Sprintf("signal-%d", i)},
			Keywords:    []string{"security"},
			PublishedAt: ts(i),
		})
	}

	groups := Cluster(articles)
	if len(groups) != 4 {
		t.Fatalf("got %d groups, want 4 singletons", len(groups))
	}
}

func TestCluster_GroupSizeCapped(t *testing.T) {
	var articles []ArticleView
	for i := 0; i < MaxGroupSize+5; i++ {
		articles = append(articles, ArticleView{
			ArticleID:   fmt.Sprintf("a%d", i),
			Title:       "Same story",
			Entities:    []string{"AcmeCorp", "BreachData"},
			Signals:     []string{"data-breach"},
			Keywords:    []string{"acme"},
			PublishedAt: ts(0),
		})
	}
	// Unrelated decoys keep the shared terms from becoming corpus-wide,
	// which would zero their IDF weight.
	for i := 0; i < 5; i++ {
		articles = append(articles, ArticleView{
			ArticleID:   fmt.Sprintf("d%d", i),
			Title:       fmt.Sprintf("Decoy %d", i),
			Entities:    []string{fmt.Sprintf("Other%d", i)},
			Signals:     []string{fmt.Sprintf("noise-%d", i)},
			Keywords:    []string{fmt.Sprintf("kw%d", i)},
			PublishedAt: ts(200),
		})
	}

	groups := Cluster(articles)
	capped := false
	for _, g := range groups {
		if len(g.ArticleIDs) > MaxGroupSize {
			t.Errorf("group size %d exceeds cap %d", len(g.ArticleIDs), MaxGroupSize)
		}
		if len(g.ArticleIDs) == MaxGroupSize {
			capped = true
		}
	}
	if !capped {
		t.Error("expected at least one group at the size cap")
	}
}

func TestCluster_Deterministic(t *testing.T) {
	articles := []ArticleView{
		{ArticleID: "a", Entities: []string{"X", "Y"}, Signals: []string{"s1"}, PublishedAt: ts(0)},
		{ArticleID: "b", Entities: []string{"X", "Y"}, Signals: []string{"s1"}, PublishedAt: ts(1)},
		{ArticleID: "c", Entities: []string{"X", "Z"}, Signals: []string{"s1"}, PublishedAt: ts(2)},
	}

	first := Cluster(articles)
	for i := 0; i < 10; i++ {
		again := Cluster(articles)
		if len(again) != len(first) {
			t.Fatalf("run %d produced %d groups, first run %d", i, len(again), len(first))
		}
		for gi := range again {
			if fmt.Sprint(again[gi].ArticleIDs) != fmt.Sprint(first[gi].ArticleIDs) {
				t.Fatalf("run %d group %d = %v, first run %v", i, gi, again[gi].ArticleIDs, first[gi].ArticleIDs)
			}
		}
	}
}

func TestTemporalSimilarity(t *testing.T) {
	if got := temporalSimilarity(ts(0), ts(0)); got != 1 {
		t.Errorf("same time similarity = %v, want 1", got)
	}
	if got := temporalSimilarity(ts(0), ts(36)); got != 0.5 {
		t.Errorf("36h apart similarity = %v, want 0.5", got)
	}
	if got := temporalSimilarity(ts(0), ts(100)); got != 0 {
		t.Errorf("beyond-window similarity = %v, want 0", got)
	}
	if got := temporalSimilarity(nil, ts(0)); got != 0 {
		t.Errorf("nil timestamp similarity = %v, want 0", got)
	}
}

func TestTitleCase(t *testing.T) {
	if got := titleCase("data-breach"); got != "Data Breach" {
		t.Errorf("titleCase = %q", got)
	}
	if got := titleCase("zero_day exploit"); got != "Zero Day Exploit" {
		t.Errorf("titleCase = %q", got)
	}
	// Multibyte leading runes are uppercased whole, never sliced mid-byte.
	if got := titleCase("école-breach"); got != "École Breach" {
		t.Errorf("titleCase = %q", got)
	}
}
