// Package feeds provides RSS/Atom feed scraping with a cross-user parse cache.
package feeds

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cyberbrief/internal/core"
	"cyberbrief/internal/logger"
)

const (
	// userAgent is sent on every upstream fetch.
	userAgent = "CyberBrief Feed Reader/1.0"

	// fetchTimeout bounds a single upstream fetch.
	fetchTimeout = 15 * time.Second

	// maxItemAge drops feed items older than a week.
	maxItemAge = 7 * 24 * time.Hour
)

// RSS represents an RSS feed structure.
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Channel Channel  `xml:"channel"`
}

// Channel represents an RSS channel.
type Channel struct {
	Title       string    `xml:"title"`
	Description string    `xml:"description"`
	Link        string    `xml:"link"`
	Items       []RSSItem `xml:"item"`
}

// RSSItem represents an RSS item.
type RSSItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description"`
	PubDate     string   `xml:"pubDate"`
	Author      string   `xml:"author"`
	Creator     string   `xml:"creator"` // dc:creator
	Categories  []string `xml:"category"`
	GUID        string   `xml:"guid"`
}

// Atom represents an Atom feed structure.
type Atom struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []AtomEntry `xml:"entry"`
}

// AtomLink represents an Atom link element.
type AtomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

// AtomEntry represents an Atom entry.
type AtomEntry struct {
	Title     string     `xml:"title"`
	Link      []AtomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	Author    struct {
		Name string `xml:"name"`
	} `xml:"author"`
	ID string `xml:"id"`
}

// Scraper fetches and parses feed sources, serving repeated URLs from a
// shared cache so peer users never trigger a second upstream fetch within the
// TTL.
type Scraper struct {
	client *http.Client
	cache  *Cache
	now    func() time.Time
}

// NewScraper creates a scraper with the given cache TTL.
func NewScraper(cacheTTL time.Duration) *Scraper {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Scraper{
		client: &http.Client{Timeout: fetchTimeout},
		cache:  NewCache(cacheTTL),
		now:    time.Now,
	}
}

// Scrape fetches one source and returns its articles tagged with the source's
// ID. Cache hits are re-tagged for the caller, so the cached parse never
// leaks another user's source identity.
func (s *Scraper) Scrape(ctx context.Context, source core.Source) ([]core.Article, error) {
	if cached, ok := s.cache.Get(source.URL); ok {
		return tagArticles(cached, source.ID), nil
	}

	articles, err := s.fetchAndParse(ctx, source)
	if err != nil {
		return nil, err
	}

	s.cache.Put(source.URL, articles)
	return tagArticles(articles, source.ID), nil
}

// ScrapeAll scrapes a user's sources, collecting per-source failures as log
// lines rather than aborting the batch.
func (s *Scraper) ScrapeAll(ctx context.Context, sources []core.Source) []core.Article {
	var all []core.Article
	for _, src := range sources {
		articles, err := s.Scrape(ctx, src)
		if err != nil {
			logger.Warn("feed scrape failed", "url", src.URL, "source_id", src.ID)
			continue
		}
		all = append(all, articles...)
	}
	return all
}

// Warm fetches a URL into the cache without tagging a source. Used by the
// scheduler pre-warm so per-user scrapes hit the cache.
func (s *Scraper) Warm(ctx context.Context, url string) error {
	if _, ok := s.cache.Get(url); ok {
		return nil
	}
	articles, err := s.fetchAndParse(ctx, core.Source{URL: url, Type: core.SourceRSS})
	if err != nil {
		return err
	}
	s.cache.Put(url, articles)
	return nil
}

func (s *Scraper) fetchAndParse(ctx context.Context, source core.Source) ([]core.Article, error) {
	body, err := s.fetch(ctx, source.URL)
	if err != nil {
		return nil, err
	}

	if source.Type == core.SourceWebsite {
		return s.parseWebsite(source, body), nil
	}
	return s.parseFeed(source, body)
}

func (s *Scraper) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}
	return body, nil
}

// parseFeed attempts RSS first, then Atom. Items older than maxItemAge are
// dropped.
func (s *Scraper) parseFeed(source core.Source, body []byte) ([]core.Article, error) {
	cutoff := s.now().Add(-maxItemAge)

	var rss RSS
	if err := xml.Unmarshal(body, &rss); err == nil && rss.Channel.Title != "" {
		var articles []core.Article
		for _, item := range rss.Channel.Items {
			if item.Link == "" {
				continue
			}
			published := parseFeedDate(item.PubDate)
			if published != nil && published.Before(cutoff) {
				continue
			}
			author := item.Author
			if author == "" {
				author = item.Creator
			}
			articles = append(articles, core.Article{
				URL:         item.Link,
				Title:       strings.TrimSpace(item.Title),
				Content:     strings.TrimSpace(item.Description),
				Author:      strings.TrimSpace(author),
				GUID:        item.GUID,
				PublishedAt: published,
			})
		}
		return articles, nil
	}

	var atom Atom
	if err := xml.Unmarshal(body, &atom); err == nil && atom.Title != "" {
		var articles []core.Article
		for _, entry := range atom.Entries {
			link := atomEntryLink(entry)
			if link == "" {
				continue
			}
			published := parseFeedDate(entry.Published)
			if published == nil {
				published = parseFeedDate(entry.Updated)
			}
			if published != nil && published.Before(cutoff) {
				continue
			}
			content := entry.Summary
			if content == "" {
				content = entry.Content
			}
			articles = append(articles, core.Article{
				URL:         link,
				Title:       strings.TrimSpace(entry.Title),
				Content:     strings.TrimSpace(content),
				Author:      strings.TrimSpace(entry.Author.Name),
				GUID:        entry.ID,
				PublishedAt: published,
			})
		}
		return articles, nil
	}

	return nil, fmt.Errorf("unable to parse %s as RSS or Atom feed", source.URL)
}

// parseWebsite turns a whole page into a single pseudo-article.
func (s *Scraper) parseWebsite(source core.Source, body []byte) []core.Article {
	name := source.Name
	if name == "" {
		name = source.URL
	}
	now := s.now().UTC()
	return []core.Article{{
		URL:         source.URL,
		Title:       name,
		Content:     string(body),
		PublishedAt: &now,
	}}
}

func atomEntryLink(entry AtomEntry) string {
	for _, l := range entry.Link {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	if len(entry.Link) > 0 {
		return entry.Link[0].Href
	}
	return ""
}

func tagArticles(articles []core.Article, sourceID string) []core.Article {
	tagged := make([]core.Article, len(articles))
	for i, a := range articles {
		a.SourceID = sourceID
		tagged[i] = a
	}
	return tagged
}

// FilterNew subtracts URLs the user already has, yielding only unseen
// articles.
func FilterNew(articles []core.Article, knownURLs map[string]bool) []core.Article {
	var fresh []core.Article
	for _, a := range articles {
		if !knownURLs[a.URL] {
			fresh = append(fresh, a)
		}
	}
	return fresh
}

// parseFeedDate parses the date formats seen in the wild across RSS and Atom
// feeds. Returns nil when nothing matches.
func parseFeedDate(dateStr string) *time.Time {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		return nil
	}

	formats := []string{
		time.RFC1123,
		time.RFC1123Z,
		time.RFC3339,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
