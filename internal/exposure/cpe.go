// Package exposure matches article CVEs against a user's declared technology
// inventory and maintains the per-user exposure ledger with remediation
// metrics.
package exposure

import (
	"fmt"
	"strings"
)

// CPE is the parsed head of a CPE 2.3 formatted string. Fields beyond the
// first six are not consumed by matching.
type CPE struct {
	Part    string
	Vendor  string
	Product string
	Version string
	Update  string
	Edition string
}

// ParseCPE parses a CPE 2.3 formatted string. Anything that doesn't start
// with the cpe:2.3 head is rejected.
func ParseCPE(s string) (*CPE, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 6 || parts[0] != "cpe" || parts[1] != "2.3" {
		return nil, fmt.Errorf("not a CPE 2.3 string: %q", s)
	}

	cpe := &CPE{
		Part:    parts[2],
		Vendor:  parts[3],
		Product: parts[4],
		Version: parts[5],
	}
	if len(parts) > 6 {
		cpe.Update = parts[6]
	}
	if len(parts) > 7 {
		cpe.Edition = parts[7]
	}
	return cpe, nil
}

// String serializes back to a full CPE 2.3 string, wildcarding the unparsed
// tail.
func (c *CPE) String() string {
	fields := []string{"cpe", "2.3", c.Part, c.Vendor, c.Product, c.Version,
		orWildcard(c.Update), orWildcard(c.Edition), "*", "*", "*", "*", "*"}
	return strings.Join(fields, ":")
}

func orWildcard(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

// NormalizeToken lowercases a vendor or product name and replaces spaces with
// underscores, the CPE dictionary convention.
func NormalizeToken(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

// GeneratePattern builds the CPE pattern stored on a tech stack item. An
// empty version becomes the wildcard.
func GeneratePattern(vendor, product, version string) string {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "*"
	}
	return fmt.Sprintf("cpe:2.3:a:%s:%s:%s:*:*:*:*:*:*:*",
		NormalizeToken(vendor), NormalizeToken(product), v)
}
