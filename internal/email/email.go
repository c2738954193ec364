// Package email renders the digest as responsive HTML and delivers it through
// the Resend API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gomarkdown/markdown"

	"cyberbrief/internal/core"
	"cyberbrief/internal/logger"
	"cyberbrief/internal/persistence"
)

const (
	resendEndpoint = "https://api.resend.com/emails"
	sendTimeout    = 15 * time.Second

	// maxDigestStories caps the story cards in one email.
	maxDigestStories = 20
)

// Template holds the visual configuration for the digest email.
type Template struct {
	Subject         string
	HeaderColor     string
	BackgroundColor string
	TextColor       string
	LinkColor       string
	BorderColor     string
	MaxWidth        string
	FontFamily      string
}

// DefaultTemplate returns the standard digest styling.
func DefaultTemplate() *Template {
	return &Template{
		Subject:         "Your CyberBrief Digest - {{.Date}}",
		HeaderColor:     "#0f172a", // Slate-900
		BackgroundColor: "#f8fafc", // Slate-50
		TextColor:       "#1e293b", // Slate-800
		LinkColor:       "#2563eb", // Blue-600
		BorderColor:     "#e2e8f0", // Slate-200
		MaxWidth:        "600px",
		FontFamily:      "system-ui, -apple-system, 'Segoe UI', Roboto, sans-serif",
	}
}

// StoryCard is one rendered story in the digest.
type StoryCard struct {
	Title         string
	CaseLabel     string
	CaseColor     string
	Synopsis      string
	Actionability string
	CVEs          []string
	ArticleCount  int
}

// digestData feeds the HTML template.
type digestData struct {
	Date          string
	Stories       []StoryCard
	ReportSummary template.HTML
	Template      *Template
}

var caseLabels = map[core.CaseType]struct {
	label string
	color string
}{
	core.CaseActivelyExploited: {"Actively Exploited", "#dc2626"},
	core.CaseVulnerable:        {"Vulnerability", "#ea580c"},
	core.CaseFixed:             {"Fixed", "#16a34a"},
	core.CaseInformational:     {"Informational", "#2563eb"},
}

const digestTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<style type="text/css">
  body {
    margin: 0;
    padding: 0;
    background-color: {{.Template.BackgroundColor}};
    font-family: {{.Template.FontFamily}};
    color: {{.Template.TextColor}};
    line-height: 1.6;
  }
  .container {
    max-width: {{.Template.MaxWidth}};
    margin: 0 auto;
    background-color: #ffffff;
    border: 1px solid {{.Template.BorderColor}};
    border-radius: 8px;
    overflow: hidden;
  }
  .header {
    background-color: {{.Template.HeaderColor}};
    color: #ffffff;
    padding: 24px;
    text-align: center;
  }
  .header h1 { margin: 0; font-size: 24px; font-weight: 600; }
  .header .date { margin: 8px 0 0 0; font-size: 14px; opacity: 0.9; }
  .content { padding: 24px; }
  .story-card {
    background-color: #f8fafc;
    border: 1px solid {{.Template.BorderColor}};
    border-radius: 6px;
    padding: 20px;
    margin: 16px 0;
  }
  .story-title { font-size: 18px; font-weight: 600; margin: 0 0 8px 0; }
  .case-badge {
    display: inline-block;
    color: #ffffff;
    font-size: 12px;
    font-weight: 600;
    border-radius: 4px;
    padding: 2px 8px;
    margin-bottom: 8px;
  }
  .cve-list { font-size: 13px; color: #64748b; margin-top: 8px; }
  .actionability {
    border-left: 3px solid {{.Template.LinkColor}};
    padding-left: 12px;
    font-size: 14px;
    margin-top: 12px;
  }
  .report { margin-top: 24px; border-top: 2px solid {{.Template.BorderColor}}; padding-top: 16px; }
  .footer { padding: 16px 24px; font-size: 12px; color: #94a3b8; text-align: center; }
  a { color: {{.Template.LinkColor}}; text-decoration: none; }
</style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>CyberBrief</h1>
      <p class="date">{{.Date}}</p>
    </div>
    <div class="content">
      {{range .Stories}}
      <div class="story-card">
        <span class="case-badge" style="background-color: {{.CaseColor}}">{{.CaseLabel}}</span>
        <p class="story-title">{{.Title}}</p>
        <p>{{.Synopsis}}</p>
        {{if .Actionability}}<div class="actionability">{{.Actionability}}</div>{{end}}
        {{if .CVEs}}<p class="cve-list">CVEs: {{range $i, $c := .CVEs}}{{if $i}}, {{end}}{{$c}}{{end}}</p>{{end}}
      </div>
      {{end}}
      {{if .ReportSummary}}
      <div class="report">{{.ReportSummary}}</div>
      {{end}}
    </div>
    <div class="footer">You are receiving this because digest emails are enabled for your account.</div>
  </div>
</body>
</html>`

// Mailer assembles and delivers digest emails. A missing API key downgrades
// delivery to a logged no-op so the pipeline never depends on email config.
type Mailer struct {
	db       persistence.Database
	apiKey   string
	from     string
	client   *http.Client
	template *Template
	now      func() time.Time
}

// NewMailer creates a mailer. from is the sender address.
func NewMailer(db persistence.Database, apiKey, from string) *Mailer {
	return &Mailer{
		db:       db,
		apiKey:   apiKey,
		from:     from,
		client:   &http.Client{Timeout: sendTimeout},
		template: DefaultTemplate(),
		now:      time.Now,
	}
}

// SendDigest renders and sends the user's current digest: recent story
// briefings plus the daily report summary.
func (m *Mailer) SendDigest(ctx context.Context, user core.User) error {
	if user.Email == "" {
		return errors.New("user has no email address")
	}

	groups, err := m.db.NewsGroups().ListByUser(ctx, user.ID, maxDigestStories)
	if err != nil {
		return fmt.Errorf("failed to load digest stories: %w", err)
	}
	if user.LastDigestAt != nil {
		var recent []core.NewsGroup
		for _, g := range groups {
			if !g.Date.Before(*user.LastDigestAt) {
				recent = append(recent, g)
			}
		}
		groups = recent
	}
	if len(groups) == 0 {
		logger.Info("digest email skipped, no new stories", "userId", user.ID)
		return nil
	}

	html, err := m.render(ctx, groups)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Your CyberBrief Digest - %s", m.now().UTC().Format("Jan 2, 2006"))
	return m.Send(ctx, user.Email, subject, html)
}

func (m *Mailer) render(ctx context.Context, groups []core.NewsGroup) (string, error) {
	cards := make([]StoryCard, 0, len(groups))
	for _, g := range groups {
		card := StoryCard{
			Title:         g.Title,
			Synopsis:      g.Synopsis,
			Actionability: g.Actionability,
		}
		if info, ok := caseLabels[g.CaseType]; ok {
			card.CaseLabel = info.label
			card.CaseColor = info.color
		} else {
			card.CaseLabel = caseLabels[core.CaseInformational].label
			card.CaseColor = caseLabels[core.CaseInformational].color
		}

		links, err := m.db.UserArticles().ListByGroup(ctx, g.ID)
		if err == nil {
			card.ArticleCount = len(links)
			ids := make([]string, len(links))
			for i, link := range links {
				ids[i] = link.ArticleID
			}
			if cves, err := m.db.ArticleCVEs().ListByArticles(ctx, ids); err == nil {
				seen := make(map[string]bool)
				for _, cve := range cves {
					if !seen[cve.CVEID] {
						seen[cve.CVEID] = true
						card.CVEs = append(card.CVEs, cve.CVEID)
					}
				}
			}
		}
		cards = append(cards, card)
	}

	data := digestData{
		Date:     m.now().UTC().Format("Monday, January 2, 2006"),
		Stories:  cards,
		Template: m.template,
	}

	// The daily report summary rides along when one exists.
	if len(groups) > 0 {
		if report, err := m.db.PeriodReports().Get(ctx, groups[0].UserID, core.Period1d); err == nil && report.Summary != "" {
			rendered := markdown.ToHTML([]byte(report.Summary), nil, nil)
			data.ReportSummary = template.HTML(rendered)
		}
	}

	tmpl, err := template.New("digest").Parse(digestTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse digest template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render digest: %w", err)
	}
	return buf.String(), nil
}

// Send delivers one email through Resend. Without an API key the send is
// logged and dropped.
func (m *Mailer) Send(ctx context.Context, to, subject, html string) error {
	if m.apiKey == "" {
		logger.Info("email delivery skipped, no API key configured", "to", to, "subject", subject)
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"from":    m.from,
		"to":      []string{to},
		"subject": subject,
		"html":    html,
	})
	if err != nil {
		return fmt.Errorf("failed to encode email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resendEndpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("email delivery failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("email delivery returned status %d", resp.StatusCode)
	}
	logger.Info("digest email sent", "to", to)
	return nil
}
