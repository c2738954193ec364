// Package reports rolls stories up into periodic intelligence reports.
package reports

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"cyberbrief/internal/core"
)

// topN caps the entity and CVE leaderboards inside report stats.
const topN = 10

// StoryContext is one news group with the data the stats computation and the
// prompt need.
type StoryContext struct {
	Group    core.NewsGroup
	Articles []core.Article
	Entities []core.ArticleEntity
	Signals  []core.ArticleSignal
	CVEs     []core.ArticleCVE
}

// ComputeStats aggregates the window's stories into the stats object baked
// into report prompts. It is a pure computation over the loaded data.
func ComputeStats(stories []StoryContext, from, to time.Time) core.ReportStats {
	stats := core.ReportStats{
		TotalStories:  len(stories),
		StoriesByCase: make(map[string]int),
	}

	signalCounts := make(map[string]int)
	entityCounts := make(map[core.EntityType]map[string]int)
	allEntityCounts := make(map[string]int)
	dayCounts := make(map[string]int)
	cvesByID := make(map[string]core.ArticleCVE)

	for _, story := range stories {
		caseKey := fmt.Sprintf("%d", story.Group.CaseType)
		stats.StoriesByCase[caseKey]++

		day := story.Group.Date.UTC().Format("2006-01-02")
		dayCounts[day]++

		for _, sig := range story.Signals {
			// Distribution is keyed by display name; the slug stands in
			// for rows read before the name was denormalized.
			name := sig.Name
			if name == "" {
				name = sig.Slug
			}
			if name != "" {
				signalCounts[name]++
			}
		}
		for _, ent := range story.Entities {
			if entityCounts[ent.Type] == nil {
				entityCounts[ent.Type] = make(map[string]int)
			}
			entityCounts[ent.Type][ent.Name]++
			allEntityCounts[ent.Name]++
		}
		for _, cve := range story.CVEs {
			// Dedup across stories; any row per CVE ID carries the same
			// enrichment.
			if _, ok := cvesByID[cve.CVEID]; !ok {
				cvesByID[cve.CVEID] = cve
			}
		}
	}

	stats.SignalCounts = sortedCounts(signalCounts, 0)
	stats.TopEntities = sortedCounts(allEntityCounts, topN)
	stats.TopProducts = sortedCounts(entityCounts[core.EntityProduct], topN)
	stats.TopSectors = sortedCounts(entityCounts[core.EntitySector], topN)
	stats.TopThreatActors = sortedCounts(merged(entityCounts[core.EntityPerson], entityCounts[core.EntityCompany]), topN)
	stats.StoriesPerDay = dayHistogram(dayCounts, from, to)
	stats.CVEs = computeCVEStats(cvesByID)
	return stats
}

// sortedCounts converts a count map to a slice sorted by count descending,
// then name ascending for stable output. A limit of 0 keeps everything.
func sortedCounts(counts map[string]int, limit int) []core.NameCount {
	result := make([]core.NameCount, 0, len(counts))
	for name, count := range counts {
		result = append(result, core.NameCount{Name: name, Count: count})
	}
	sort.Slice(result, func(a, b int) bool {
		if result[a].Count != result[b].Count {
			return result[a].Count > result[b].Count
		}
		return result[a].Name < result[b].Name
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func merged(maps ...map[string]int) map[string]int {
	out := make(map[string]int)
	for _, m := range maps {
		for name, count := range m {
			out[name] += count
		}
	}
	return out
}

// dayHistogram fills every UTC day in [from, to], including empty ones.
func dayHistogram(counts map[string]int, from, to time.Time) []core.DayCount {
	var days []core.DayCount
	day := time.Date(from.UTC().Year(), from.UTC().Month(), from.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := to.UTC()
	for !day.After(end) {
		key := day.Format("2006-01-02")
		days = append(days, core.DayCount{Date: key, Count: counts[key]})
		day = day.AddDate(0, 0, 1)
	}
	return days
}

func computeCVEStats(cvesByID map[string]core.ArticleCVE) core.ReportCVEStats {
	stats := core.ReportCVEStats{UniqueCount: len(cvesByID)}

	var scored []core.ReportCVE
	var sum, max float64
	var scoredCount int

	ids := make([]string, 0, len(cvesByID))
	for id := range cvesByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cve := cvesByID[id]
		item := core.ReportCVE{
			CVEID:    cve.CVEID,
			CVSS:     cve.CVSSScore,
			Severity: cve.Severity,
			InKEV:    cve.InKEV,
			DueDate:  cve.KEVDueDate,
		}
		if cve.InKEV {
			stats.KEVCount++
			if cve.KEVDueDate != nil {
				stats.KEVDue = append(stats.KEVDue, item)
			}
		}
		if cve.CVSSScore != nil {
			score := *cve.CVSSScore
			switch {
			case score >= 9:
				stats.Critical++
			case score >= 7:
				stats.High++
			case score >= 4:
				stats.Medium++
			default:
				stats.Low++
			}
			sum += score
			if score > max {
				max = score
			}
			scoredCount++
			scored = append(scored, item)
		}
	}

	if scoredCount > 0 {
		stats.AvgCVSS = math.Round(sum/float64(scoredCount)*10) / 10
		stats.MaxCVSS = max
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return *scored[a].CVSS > *scored[b].CVSS
	})
	if len(scored) > topN {
		scored = scored[:topN]
	}
	stats.TopCVEs = scored
	return stats
}

// renderStats formats the stats block embedded in report system prompts.
func renderStats(stats core.ReportStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total stories: %d\n", stats.TotalStories)
	fmt.Fprintf(&b, "Stories by case type: actively exploited=%d, vulnerable=%d, fixed=%d, informational=%d\n",
		stats.StoriesByCase["1"], stats.StoriesByCase["2"], stats.StoriesByCase["3"], stats.StoriesByCase["4"])

	if len(stats.SignalCounts) > 0 {
		b.WriteString("Signal distribution: ")
		for i, s := range stats.SignalCounts {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s (%d)", s.Name, s.Count)
		}
		b.WriteString("\n")
	}

	writeList := func(label string, items []core.NameCount) {
		if len(items) == 0 {
			return
		}
		b.WriteString(label + ": ")
		for i, item := range items {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s (%d)", item.Name, item.Count)
		}
		b.WriteString("\n")
	}
	writeList("Top entities", stats.TopEntities)
	writeList("Top affected products", stats.TopProducts)
	writeList("Top affected sectors", stats.TopSectors)
	writeList("Top threat actors", stats.TopThreatActors)

	cves := stats.CVEs
	fmt.Fprintf(&b, "CVEs: %d unique (critical=%d, high=%d, medium=%d, low=%d), %d in KEV, avg CVSS %.1f, max CVSS %.1f\n",
		cves.UniqueCount, cves.Critical, cves.High, cves.Medium, cves.Low, cves.KEVCount, cves.AvgCVSS, cves.MaxCVSS)
	for _, cve := range cves.TopCVEs {
		fmt.Fprintf(&b, "  %s", cve.CVEID)
		if cve.CVSS != nil {
			fmt.Fprintf(&b, " CVSS %.1f", *cve.CVSS)
		}
		if cve.InKEV {
			b.WriteString(" [KEV]")
			if cve.DueDate != nil {
				fmt.Fprintf(&b, " due %s", cve.DueDate.Format("2006-01-02"))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
