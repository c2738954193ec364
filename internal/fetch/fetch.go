// Package fetch retrieves article pages and extracts readable text and
// outbound links from the raw HTML.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// fetchTimeout bounds a single article fetch.
	fetchTimeout = 20 * time.Second

	// maxBodyBytes caps how much raw HTML is read.
	maxBodyBytes = 500 * 1024

	// maxCleanTextChars caps the extracted body text.
	maxCleanTextChars = 15000

	// maxExternalLinks caps the harvested outbound links.
	maxExternalLinks = 50
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Extractor fetches article pages and isolates their main content.
type Extractor struct {
	client *http.Client
}

// NewExtractor creates a content extractor.
func NewExtractor() *Extractor {
	return &Extractor{
		client: &http.Client{Timeout: fetchTimeout},
	}
}

// Result holds the extracted content of one article page.
type Result struct {
	CleanText     string
	RawHTML       string
	ExternalLinks []string
}

// Extract fetches the article URL and returns the readable body text plus
// outbound links. The body read is capped at maxBodyBytes.
func (e *Extractor) Extract(ctx context.Context, articleURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "CyberBrief Content Reader/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", articleURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: status %d", articleURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body from %s: %w", articleURL, err)
	}

	rawHTML := string(body)
	cleanText, err := ExtractReadableText(rawHTML)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text from %s: %w", articleURL, err)
	}

	return &Result{
		CleanText:     cleanText,
		RawHTML:       rawHTML,
		ExternalLinks: CollectExternalLinks(rawHTML, articleURL),
	}, nil
}

// ExtractReadableText isolates the main body of an HTML document, strips
// markup, and collapses whitespace. The result is capped at
// maxCleanTextChars.
func ExtractReadableText(rawHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	// Remove common non-content elements before text extraction
	doc.Find("script, style, nav, footer, header, aside, form, iframe, noscript, .sidebar, #sidebar, .ad, .advertisement, .cookie-banner").Remove()

	var textBuilder strings.Builder
	mainContentSelectors := []string{
		"article", "main", ".main-content", ".entry-content", ".post-content", ".post-body", ".article-body",
		"[role='main']",
		".content", "#content",
	}

	appendText := func(s *goquery.Selection) {
		s.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre").Each(func(_ int, item *goquery.Selection) {
			text := strings.TrimSpace(item.Text())
			if text != "" {
				textBuilder.WriteString(text)
				textBuilder.WriteString("\n")
			}
		})
	}

	for _, selector := range mainContentSelectors {
		doc.Find(selector).First().Each(func(_ int, s *goquery.Selection) {
			appendText(s)
		})
		if textBuilder.Len() > 0 {
			break
		}
	}

	// Fall back to the whole body when no main content container is found
	if textBuilder.Len() == 0 {
		appendText(doc.Find("body"))
	}

	clean := whitespaceRegex.ReplaceAllString(textBuilder.String(), " ")
	clean = strings.TrimSpace(clean)
	if len(clean) > maxCleanTextChars {
		clean = clean[:maxCleanTextChars]
	}
	return clean, nil
}

// CollectExternalLinks harvests href targets from the raw HTML, resolves them
// against the article URL, and keeps only http(s) links pointing off the
// article's host. The deduplicated list is capped at maxExternalLinks.
func CollectExternalLinks(rawHTML, articleURL string) []string {
	base, err := url.Parse(articleURL)
	if err != nil {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return true
		}

		resolved, err := base.Parse(href)
		if err != nil {
			return true
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return true
		}
		if resolved.Host == "" || resolved.Host == base.Host {
			return true
		}

		link := resolved.String()
		if seen[link] {
			return true
		}
		seen[link] = true
		links = append(links, link)
		return len(links) < maxExternalLinks
	})

	return links
}
