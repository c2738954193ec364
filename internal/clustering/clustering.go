// Package clustering groups related articles into stories using IDF-weighted
// Jaccard similarity over entities, signals, and keywords, with temporal
// decay.
package clustering

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxGroupSize caps the number of articles per group.
	MaxGroupSize = 10

	// similarityThreshold is the minimum pairwise similarity that can seed
	// or grow a group.
	similarityThreshold = 0.30

	// temporalDecayHours is the window over which temporal similarity
	// decays linearly to zero.
	temporalDecayHours = 72.0

	weightEntities = 0.35
	weightSignals  = 0.30
	weightKeywords = 0.15
	weightTemporal = 0.20

	// singletonConfidence is assigned to one-article groups.
	singletonConfidence = 0.5
)

// ArticleView is the enriched projection of one article that clustering
// operates on.
type ArticleView struct {
	ArticleID   string
	Title       string
	Entities    []string // Original-case entity names
	Signals     []string // Signal slugs
	Keywords    []string // Matched keywords
	PublishedAt *time.Time
}

// Group is one produced story cluster.
type Group struct {
	Title            string
	ArticleIDs       []string
	Confidence       float64
	DominantSignals  []string
	DominantEntities []string
}

// Cluster groups the articles. The result is ordered by article count
// descending. The algorithm is deterministic: candidate pairs are processed
// in similarity-descending order with ties broken by input index order.
func Cluster(articles []ArticleView) []Group {
	n := len(articles)
	if n == 0 {
		return nil
	}

	entityIDF := corpusIDF(articles, func(a ArticleView) []string { return lowered(a.Entities) })
	signalIDF := corpusIDF(articles, func(a ArticleView) []string { return a.Signals })
	keywordIDF := corpusIDF(articles, func(a ArticleView) []string { return lowered(a.Keywords) })

	type pair struct {
		i, j int
		sim  float64
	}
	var pairs []pair
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim := similarity(articles[i], articles[j], entityIDF, signalIDF, keywordIDF)
			if sim >= similarityThreshold {
				pairs = append(pairs, pair{i: i, j: j, sim: sim})
			}
		}
	}

	// Similarity descending; equal similarities fall back to input order so
	// ambiguous merges resolve the same way on every run.
	sort.SliceStable(pairs, func(a, b int) bool {
		if pairs[a].sim != pairs[b].sim {
			return pairs[a].sim > pairs[b].sim
		}
		if pairs[a].i != pairs[b].i {
			return pairs[a].i < pairs[b].i
		}
		return pairs[a].j < pairs[b].j
	})

	groupOf := make([]int, n)
	for i := range groupOf {
		groupOf[i] = -1
	}
	var members [][]int

	for _, p := range pairs {
		gi, gj := groupOf[p.i], groupOf[p.j]
		switch {
		case gi == -1 && gj == -1:
			groupOf[p.i] = len(members)
			groupOf[p.j] = len(members)
			members = append(members, []int{p.i, p.j})
		case gi == -1 && gj != -1:
			if len(members[gj]) < MaxGroupSize {
				groupOf[p.i] = gj
				members[gj] = append(members[gj], p.i)
			}
		case gi != -1 && gj == -1:
			if len(members[gi]) < MaxGroupSize {
				groupOf[p.j] = gi
				members[gi] = append(members[gi], p.j)
			}
		case gi != gj:
			if len(members[gi])+len(members[gj]) <= MaxGroupSize {
				for _, idx := range members[gj] {
					groupOf[idx] = gi
				}
				members[gi] = append(members[gi], members[gj]...)
				members[gj] = nil
			}
		}
	}

	// Leftover articles become singleton groups.
	for i := 0; i < n; i++ {
		if groupOf[i] == -1 {
			groupOf[i] = len(members)
			members = append(members, []int{i})
		}
	}

	var groups []Group
	for _, idxs := range members {
		if len(idxs) == 0 {
			continue
		}
		groups = append(groups, buildGroup(articles, idxs, entityIDF, signalIDF, keywordIDF))
	}

	sort.SliceStable(groups, func(a, b int) bool {
		return len(groups[a].ArticleIDs) > len(groups[b].ArticleIDs)
	})
	return groups
}

// corpusIDF computes normalized inverse document frequency for one term
// space: idf(t) = log(N/df(t)) / log(N). A term in every document weighs 0; a
// term in exactly one weighs 1. With a single document every term weighs 1.
func corpusIDF(articles []ArticleView, terms func(ArticleView) []string) map[string]float64 {
	n := len(articles)
	df := make(map[string]int)
	for _, a := range articles {
		seen := make(map[string]bool)
		for _, t := range terms(a) {
			if t != "" && !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}

	idf := make(map[string]float64, len(df))
	if n <= 1 {
		for t := range df {
			idf[t] = 1
		}
		return idf
	}
	logN := math.Log(float64(n))
	for t, count := range df {
		idf[t] = math.Log(float64(n)/float64(count)) / logN
	}
	return idf
}

// weightedJaccard computes sum(idf over intersection) / sum(idf over union),
// or 0 when the union is empty.
func weightedJaccard(a, b []string, idf map[string]float64) float64 {
	setA := toSet(a)
	setB := toSet(b)

	var intersection, union float64
	for t := range setA {
		w := idf[t]
		union += w
		if setB[t] {
			intersection += w
		}
	}
	for t := range setB {
		if !setA[t] {
			union += idf[t]
		}
	}
	if union == 0 {
		return 0
	}
	return intersection / union
}

// temporalSimilarity decays linearly from 1 to 0 over temporalDecayHours.
// Unknown publication times contribute nothing.
func temporalSimilarity(a, b *time.Time) float64 {
	if a == nil || b == nil {
		return 0
	}
	deltaHours := math.Abs(a.Sub(*b).Hours())
	return math.Max(0, 1-deltaHours/temporalDecayHours)
}

func similarity(a, b ArticleView, entityIDF, signalIDF, keywordIDF map[string]float64) float64 {
	return weightEntities*weightedJaccard(lowered(a.Entities), lowered(b.Entities), entityIDF) +
		weightSignals*weightedJaccard(a.Signals, b.Signals, signalIDF) +
		weightKeywords*weightedJaccard(lowered(a.Keywords), lowered(b.Keywords), keywordIDF) +
		weightTemporal*temporalSimilarity(a.PublishedAt, b.PublishedAt)
}

func buildGroup(articles []ArticleView, idxs []int, entityIDF, signalIDF, keywordIDF map[string]float64) Group {
	group := Group{}
	for _, idx := range idxs {
		group.ArticleIDs = append(group.ArticleIDs, articles[idx].ArticleID)
	}

	// Confidence is the mean pairwise similarity inside the group.
	if len(idxs) == 1 {
		group.Confidence = singletonConfidence
	} else {
		var total float64
		var count int
		for i := 0; i < len(idxs); i++ {
			for j := i + 1; j < len(idxs); j++ {
				total += similarity(articles[idxs[i]], articles[idxs[j]], entityIDF, signalIDF, keywordIDF)
				count++
			}
		}
		group.Confidence = total / float64(count)
	}

	group.DominantEntities = topTerms(articles, idxs, func(a ArticleView) []string { return a.Entities }, 3)
	group.DominantSignals = topTerms(articles, idxs, func(a ArticleView) []string { return a.Signals }, 3)
	group.Title = synthesizeTitle(group, articles[idxs[0]])
	return group
}

// topTerms returns the most frequent terms across the group's articles,
// preserving the spelling of first occurrence. Frequency ties resolve by
// first appearance.
func topTerms(articles []ArticleView, idxs []int, terms func(ArticleView) []string, limit int) []string {
	counts := make(map[string]int)
	display := make(map[string]string)
	var order []string

	for _, idx := range idxs {
		seen := make(map[string]bool)
		for _, term := range terms(articles[idx]) {
			key := strings.ToLower(term)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			if counts[key] == 0 {
				display[key] = term
				order = append(order, key)
			}
			counts[key]++
		}
	}

	sort.SliceStable(order, func(a, b int) bool {
		return counts[order[a]] > counts[order[b]]
	})
	if len(order) > limit {
		order = order[:limit]
	}

	result := make([]string, len(order))
	for i, key := range order {
		result[i] = display[key]
	}
	return result
}

// synthesizeTitle derives a provisional title from dominant terms. The
// briefing generator usually overwrites it.
func synthesizeTitle(group Group, seed ArticleView) string {
	hasEntity := len(group.DominantEntities) > 0
	hasSignal := len(group.DominantSignals) > 0
	switch {
	case hasEntity && hasSignal:
		return group.DominantEntities[0] + ": " + titleCase(group.DominantSignals[0])
	case hasEntity:
		return group.DominantEntities[0] + " Incident"
	case hasSignal:
		return titleCase(group.DominantSignals[0]) + " Activity"
	default:
		return seed.Title
	}
}

// titleCase turns a slug like "data-breach" into "Data Breach".
func titleCase(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func lowered(terms []string) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = strings.ToLower(t)
	}
	return out
}

func toSet(terms []string) map[string]bool {
	set := make(map[string]bool, len(terms))
	for _, t := range terms {
		if t != "" {
			set[t] = true
		}
	}
	return set
}
