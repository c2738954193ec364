// Package relevance implements keyword matching of articles against a user's
// watch terms.
package relevance

import (
	"regexp"
	"strings"

	"cyberbrief/internal/core"
)

// MatchResult pairs an article with its keyword match outcome.
type MatchResult struct {
	Article         core.Article
	Matched         bool
	MatchedKeywords []string
}

// MatchArticles scans each article's title and content against the user's
// keywords using case-insensitive word-boundary patterns. It is a pure
// function: output order follows input order and no state is shared between
// calls. An empty keyword list matches nothing.
func MatchArticles(articles []core.Article, keywords []core.Keyword) []MatchResult {
	patterns := compileKeywords(keywords)

	results := make([]MatchResult, len(articles))
	for i, article := range articles {
		text := article.Title + " " + article.Content
		var matched []string
		for _, p := range patterns {
			if p.re.MatchString(text) {
				matched = append(matched, p.word)
			}
		}
		results[i] = MatchResult{
			Article:         article,
			Matched:         len(matched) > 0,
			MatchedKeywords: matched,
		}
	}
	return results
}

type keywordPattern struct {
	word string
	re   *regexp.Regexp
}

// compileKeywords builds one \b-bounded pattern per keyword. Regex
// metacharacters in the keyword are escaped first, so "C++" or "node.js"
// match literally.
func compileKeywords(keywords []core.Keyword) []keywordPattern {
	patterns := make([]keywordPattern, 0, len(keywords))
	for _, kw := range keywords {
		word := strings.TrimSpace(kw.Word)
		if word == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
		if err != nil {
			continue
		}
		patterns = append(patterns, keywordPattern{word: word, re: re})
	}
	return patterns
}
