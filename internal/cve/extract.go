// Package cve extracts CVE identifiers from article text and enriches them
// against the NVD vulnerability database and the CISA KEV catalog.
package cve

import (
	"regexp"
	"sort"
	"strings"
)

var cveIDRegex = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,7}`)

// ExtractIDs finds CVE identifiers in the text, upper-cases them, and
// returns the deduplicated set in sorted order.
func ExtractIDs(text string) []string {
	matches := cveIDRegex.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	var ids []string
	for _, m := range matches {
		id := strings.ToUpper(m)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
