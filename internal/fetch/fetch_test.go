package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const articlePage = `<html>
<head><title>Advisory</title><style>body { color: red; }</style></head>
<body>
<nav><a href="https://tracker.example.net/nav">nav link</a></nav>
<article>
  <h1>Critical FortiOS vulnerability</h1>
  <p>Attackers are exploiting CVE-2024-21762 in the wild.</p>
  <p>Apply the vendor patch immediately.</p>
  <a href="https://nvd.nist.gov/vuln/detail/CVE-2024-21762">NVD entry</a>
  <a href="/local/page">internal</a>
  <a href="mailto:psirt@vendor.example">contact</a>
</article>
<script>console.log("tracking")</script>
<footer>copyright</footer>
</body>
</html>`

func TestExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articlePage)
	}))
	defer srv.Close()

	e := NewExtractor()
	result, err := e.Extract(context.Background(), srv.URL+"/post")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if !strings.Contains(result.CleanText, "Critical FortiOS vulnerability") {
		t.Errorf("CleanText missing headline: %q", result.CleanText)
	}
	if !strings.Contains(result.CleanText, "CVE-2024-21762") {
		t.Errorf("CleanText missing body text: %q", result.CleanText)
	}
	if strings.Contains(result.CleanText, "console.log") {
		t.Error("script content leaked into the clean text")
	}
	if strings.Contains(result.CleanText, "copyright") {
		t.Error("footer content leaked into the clean text")
	}

	wantLink := "https://nvd.nist.gov/vuln/detail/CVE-2024-21762"
	found := false
	for _, l := range result.ExternalLinks {
		if l == wantLink {
			found = true
		}
		if strings.HasPrefix(l, "mailto:") {
			t.Errorf("non-http link harvested: %q", l)
		}
		if strings.Contains(l, srv.Listener.Addr().String()) {
			t.Errorf("same-host link harvested: %q", l)
		}
	}
	if !found {
		t.Errorf("ExternalLinks = %v, want %q included", result.ExternalLinks, wantLink)
	}
}

func TestExtract_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewExtractor()
	if _, err := e.Extract(context.Background(), srv.URL); err == nil {
		t.Fatal("expected an error on 404")
	}
}

func TestExtractReadableText_FallsBackToBody(t *testing.T) {
	html := `<html><body><p>No article container here.</p></body></html>`
	text, err := ExtractReadableText(html)
	if err != nil {
		t.Fatalf("ExtractReadableText failed: %v", err)
	}
	if text != "No article container here." {
		t.Errorf("text = %q", text)
	}
}

func TestExtractReadableText_CollapsesWhitespace(t *testing.T) {
	html := "<html><body><article><p>line   one\n\n\tline two</p></article></body></html>"
	text, err := ExtractReadableText(html)
	if err != nil {
		t.Fatalf("ExtractReadableText failed: %v", err)
	}
	if text != "line one line two" {
		t.Errorf("text = %q", text)
	}
}

func TestExtractReadableText_Caps(t *testing.T) {
	long := strings.Repeat("word ", 10000)
	html := "<html><body><article><p>" + long + "</p></article></body></html>"
	text, err := ExtractReadableText(html)
	if err != nil {
		t.Fatalf("ExtractReadableText failed: %v", err)
	}
	if len(text) > maxCleanTextChars {
		t.Errorf("len = %d, want at most %d", len(text), maxCleanTextChars)
	}
}

func TestCollectExternalLinks_DedupAndCap(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, `<a href="https://other.example.com/p/%d">x</a>`, i)
	}
	b.WriteString(`<a href="https://other.example.com/p/0">dup</a>`)
	b.WriteString("</body></html>")

	links := CollectExternalLinks(b.String(), "https://article.example.com/post")
	if len(links) != maxExternalLinks {
		t.Errorf("got %d links, want capped at %d", len(links), maxExternalLinks)
	}
	seen := make(map[string]bool)
	for _, l := range links {
		if seen[l] {
			t.Errorf("duplicate link %q", l)
		}
		seen[l] = true
	}
}

func TestCollectExternalLinks_ResolvesRelative(t *testing.T) {
	html := `<a href="//cdn.example.net/asset">x</a>`
	links := CollectExternalLinks(html, "https://article.example.com/post")
	if len(links) != 1 || links[0] != "https://cdn.example.net/asset" {
		t.Errorf("links = %v", links)
	}
}
