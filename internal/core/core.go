// Package core defines the shared data model for the digest pipeline and the
// exposure engine.
package core

import "time"

// DigestFrequency is the closed set of per-user digest intervals.
type DigestFrequency string

const (
	Freq1h  DigestFrequency = "1h"
	Freq3h  DigestFrequency = "3h"
	Freq6h  DigestFrequency = "6h"
	Freq12h DigestFrequency = "12h"
	Freq1d  DigestFrequency = "1d"
	Freq3d  DigestFrequency = "3d"
	Freq7d  DigestFrequency = "7d"
)

// FrequencyIntervals maps each digest frequency to its interval. Frequencies
// outside this map are never due.
var FrequencyIntervals = map[DigestFrequency]time.Duration{
	Freq1h:  time.Hour,
	Freq3h:  3 * time.Hour,
	Freq6h:  6 * time.Hour,
	Freq12h: 12 * time.Hour,
	Freq1d:  24 * time.Hour,
	Freq3d:  3 * 24 * time.Hour,
	Freq7d:  7 * 24 * time.Hour,
}

// User represents a digest subscriber.
type User struct {
	ID              string          `json:"id"`
	Email           string          `json:"email"`
	IndustryID      string          `json:"industry_id,omitempty"` // Optional industry for signal taxonomy
	DigestFrequency DigestFrequency `json:"digest_frequency"`      // How often digests run
	DigestTime      string          `json:"digest_time"`           // "HH:MM" UTC, gates daily+ frequencies
	LastDigestAt    *time.Time      `json:"last_digest_at"`        // Nil until the first run completes
	EmailEnabled    bool            `json:"email_enabled"`
	Onboarded       bool            `json:"onboarded"`
}

// SourceType is the closed set of feed source kinds.
type SourceType string

const (
	SourceRSS     SourceType = "RSS"
	SourceWebsite SourceType = "WEBSITE"
)

// Source is a per-user feed subscription.
type Source struct {
	ID     string     `json:"id"`
	UserID string     `json:"user_id"`
	URL    string     `json:"url"`
	Name   string     `json:"name"`
	Type   SourceType `json:"type"`
	Active bool       `json:"active"`
}

// Keyword is a per-user match term, stored lowercase.
type Keyword struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Word   string `json:"word"`
}

// Article is a cross-user record, unique by URL. CleanText and the extraction
// flags are shared caches: once an article's entities or CVEs are extracted
// for any user, no other user pays for the extraction again.
type Article struct {
	ID                string     `json:"id"`
	SourceID          string     `json:"source_id"`
	URL               string     `json:"url"`
	Title             string     `json:"title"`
	Content           string     `json:"content"` // RSS snippet or page excerpt
	CleanText         string     `json:"clean_text,omitempty"`
	RawHTML           string     `json:"raw_html,omitempty"`
	ExternalLinks     []string   `json:"external_links,omitempty"`
	Author            string     `json:"author,omitempty"`
	GUID              string     `json:"guid,omitempty"`
	PublishedAt       *time.Time `json:"published_at,omitempty"`
	EntitiesExtracted bool       `json:"entities_extracted"`
	CVEsExtracted     bool       `json:"cves_extracted"`
}

// UserArticle links a user to an article, unique on (UserID, ArticleID).
type UserArticle struct {
	UserID          string     `json:"user_id"`
	ArticleID       string     `json:"article_id"`
	Matched         bool       `json:"matched"`
	MatchedKeywords []string   `json:"matched_keywords"`
	NewsGroupID     string     `json:"news_group_id,omitempty"`
	Read            bool       `json:"read"`
	Sent            bool       `json:"sent"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
}

// EntityType is the closed set of extracted entity kinds.
type EntityType string

const (
	EntityCompany   EntityType = "COMPANY"
	EntityPerson    EntityType = "PERSON"
	EntityProduct   EntityType = "PRODUCT"
	EntityGeography EntityType = "GEOGRAPHY"
	EntitySector    EntityType = "SECTOR"
)

// ArticleEntity is a typed entity extracted from an article.
type ArticleEntity struct {
	ArticleID  string     `json:"article_id"`
	Type       EntityType `json:"type"`
	Name       string     `json:"name"`
	Confidence float64    `json:"confidence"` // [0,1]
}

// IndustrySignal is one slug of an industry's closed signal vocabulary.
type IndustrySignal struct {
	ID         string `json:"id"`
	IndustryID string `json:"industry_id"`
	Slug       string `json:"slug"`
	Name       string `json:"name"`
}

// ArticleSignal classifies an article against an industry signal, unique on
// (ArticleID, IndustrySignalID).
type ArticleSignal struct {
	ArticleID        string  `json:"article_id"`
	IndustrySignalID string  `json:"industry_signal_id"`
	Slug             string  `json:"slug,omitempty"` // Denormalized for clustering reads
	Name             string  `json:"name,omitempty"` // Denormalized for report stats
	Confidence       float64 `json:"confidence"`
}

// ArticleCVE is an enriched CVE mention, unique on (ArticleID, CVEID).
// Enrichment fields are shared across articles mentioning the same CVE.
type ArticleCVE struct {
	ArticleID        string     `json:"article_id"`
	CVEID            string     `json:"cve_id"`
	CVSSScore        *float64   `json:"cvss_score,omitempty"`
	Severity         string     `json:"severity,omitempty"`
	Description      string     `json:"description,omitempty"`
	CPEMatches       []string   `json:"cpe_matches,omitempty"`
	PublishedDate    *time.Time `json:"published_date,omitempty"`
	InKEV            bool       `json:"in_kev"`
	KEVDateAdded     *time.Time `json:"kev_date_added,omitempty"`
	KEVDueDate       *time.Time `json:"kev_due_date,omitempty"`
	KEVRansomwareUse bool       `json:"kev_ransomware_use"`
}

// Enriched reports whether this row already carries NVD data, which lets a
// later run skip the API call.
func (c ArticleCVE) Enriched() bool {
	return c.CVSSScore != nil || c.Description != "" || len(c.CPEMatches) > 0
}

// TechStackItem is one product in a user's declared inventory, unique on
// (UserID, Vendor, Product, Version). Vendor and product are normalized
// lowercase with spaces replaced by underscores.
type TechStackItem struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Vendor     string `json:"vendor"`
	Product    string `json:"product"`
	Version    string `json:"version,omitempty"`
	Category   string `json:"category"`
	CPEPattern string `json:"cpe_pattern"`
	Active     bool   `json:"active"`
}

// ExposureState describes a user's relationship to a CVE.
type ExposureState string

const (
	ExposureVulnerable    ExposureState = "VULNERABLE"
	ExposureFixed         ExposureState = "FIXED"
	ExposureNotApplicable ExposureState = "NOT_APPLICABLE"
	ExposureIndirect      ExposureState = "INDIRECT"
)

// UserCVEExposure is a user's running exposure record for one CVE, unique on
// (UserID, CVEID). Rows with AutoClassified=false were set by hand and are
// never overwritten by the auto-classifier.
type UserCVEExposure struct {
	UserID              string        `json:"user_id"`
	CVEID               string        `json:"cve_id"`
	ArticleCVEID        string        `json:"article_cve_id,omitempty"`
	TechStackItemID     string        `json:"tech_stack_item_id,omitempty"`
	ExposureState       ExposureState `json:"exposure_state"`
	AutoClassified      bool          `json:"auto_classified"`
	MatchedCPE          string        `json:"matched_cpe,omitempty"`
	FirstDetectedAt     time.Time     `json:"first_detected_at"`
	PatchedAt           *time.Time    `json:"patched_at,omitempty"`
	RemediationDeadline *time.Time    `json:"remediation_deadline,omitempty"`
	Notes               string        `json:"notes,omitempty"`
}

// CaseType is the briefing severity bucket: 1 actively exploited, 2 vulnerable
// with no known exploit, 3 fixed, 4 informational.
type CaseType int

const (
	CaseActivelyExploited CaseType = 1
	CaseVulnerable        CaseType = 2
	CaseFixed             CaseType = 3
	CaseInformational     CaseType = 4
)

// NewsGroup is a cluster of related articles ("story") owned by one user.
// Narrative fields are filled by the briefing generator.
type NewsGroup struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Title            string    `json:"title"`
	Synopsis         string    `json:"synopsis,omitempty"`
	ExecutiveSummary string    `json:"executive_summary,omitempty"`
	ImpactAnalysis   string    `json:"impact_analysis,omitempty"`
	Actionability    string    `json:"actionability,omitempty"`
	CaseType         CaseType  `json:"case_type,omitempty"`
	Confidence       float64   `json:"confidence"`
	Date             time.Time `json:"date"`
}

// ReportPeriod is the closed set of rollup windows.
type ReportPeriod string

const (
	Period1d  ReportPeriod = "1d"
	Period7d  ReportPeriod = "7d"
	Period30d ReportPeriod = "30d"
)

// PeriodDays maps a report period to its day span.
var PeriodDays = map[ReportPeriod]int{
	Period1d:  1,
	Period7d:  7,
	Period30d: 30,
}

// PeriodReport is a rolled-up intelligence report, unique on (UserID, Period).
// Stats stays a JSON object on the wire; downstream readers depend on it.
type PeriodReport struct {
	UserID      string       `json:"user_id"`
	Period      ReportPeriod `json:"period"`
	FromDate    time.Time    `json:"from_date"`
	ToDate      time.Time    `json:"to_date"`
	Summary     string       `json:"summary,omitempty"`
	Stats       ReportStats  `json:"stats"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// ReportStats is the precomputed aggregate baked into period report prompts.
type ReportStats struct {
	TotalStories    int            `json:"total_stories"`
	StoriesByCase   map[string]int `json:"stories_by_case"` // caseType (as string) -> count
	SignalCounts    []NameCount    `json:"signal_counts"`   // Sorted desc by count
	TopEntities     []NameCount    `json:"top_entities"`    // Top 10 overall
	TopProducts     []NameCount    `json:"top_affected_products"`
	TopSectors      []NameCount    `json:"top_affected_sectors"`
	TopThreatActors []NameCount    `json:"top_threat_actors"` // PERSON + COMPANY
	StoriesPerDay   []DayCount     `json:"stories_per_day"`   // Inclusive of empty days
	CVEs            ReportCVEStats `json:"cves"`
}

// NameCount is a name with an occurrence count.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DayCount is a story count for one UTC day.
type DayCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int    `json:"count"`
}

// ReportCVEStats summarizes CVE activity inside a report window.
type ReportCVEStats struct {
	UniqueCount int         `json:"unique_count"`
	Critical    int         `json:"critical"` // CVSS >= 9
	High        int         `json:"high"`     // [7,9)
	Medium      int         `json:"medium"`   // [4,7)
	Low         int         `json:"low"`      // < 4
	KEVCount    int         `json:"kev_count"`
	AvgCVSS     float64     `json:"avg_cvss"`
	MaxCVSS     float64     `json:"max_cvss"`
	TopCVEs     []ReportCVE `json:"top_cves"` // Top 10 by CVSS desc
	KEVDue      []ReportCVE `json:"kev_due"`  // KEV CVEs with due dates
}

// ReportCVE is a CVE line item inside report stats.
type ReportCVE struct {
	CVEID    string     `json:"cve_id"`
	CVSS     *float64   `json:"cvss,omitempty"`
	Severity string     `json:"severity,omitempty"`
	InKEV    bool       `json:"in_kev"`
	DueDate  *time.Time `json:"due_date,omitempty"`
}

// PeriodSnapshot is a daily metrics snapshot, unique on
// (UserID, Period, SnapDate). SnapDate is truncated to UTC midnight.
type PeriodSnapshot struct {
	UserID   string          `json:"user_id"`
	Period   ReportPeriod    `json:"period"`
	SnapDate time.Time       `json:"snap_date"`
	Metrics  ExposureMetrics `json:"metrics"`
}

// ExposureMetrics is the remediation metrics blob computed by the exposure
// engine. All numeric fields are rounded to one decimal.
type ExposureMetrics struct {
	Vulnerable      int     `json:"vulnerable"`
	Fixed           int     `json:"fixed"`
	NotApplicable   int     `json:"not_applicable"`
	Indirect        int     `json:"indirect"`
	PatchRate       float64 `json:"patch_rate"`     // Percent
	SLACompliance   float64 `json:"sla_compliance"` // Percent
	MTTRDays        float64 `json:"mttr_days"`      // Mean
	MedianTTRDays   float64 `json:"median_ttr_days"`
	KEVExposed      int     `json:"kev_exposed"`
	KEVOverdue      int     `json:"kev_overdue"`
	CriticalExposed int     `json:"critical_exposed"` // VULNERABLE with CVSS >= 9
	AvgCVSSExposed  float64 `json:"avg_cvss_exposed"`
}
