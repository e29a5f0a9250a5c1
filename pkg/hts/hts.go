// Package hts normalizes Harmonized Tariff Schedule identifiers.
//
// HTS codes are hierarchical: digits 1-4 are the heading, 1-6 the
// subheading, 1-8 the tariff item and 1-10 the statistical suffix. The
// package stores codes digits-only and records the precision that was
// actually supplied, because lookup precedence (HTS10 over HTS8) depends
// on it.
package hts

import (
	"fmt"
	"regexp"
	"strings"
)

// Digits is the stored precision of a code.
type Digits int

const (
	Digits4  Digits = 4
	Digits6  Digits = 6
	Digits8  Digits = 8
	Digits10 Digits = 10
)

// Code is a normalized, digits-only HTS identifier.
type Code struct {
	Value  string
	Length Digits
}

var (
	digitsOnly = regexp.MustCompile(`^\d+$`)

	// codePattern matches dotted HTS citations in free text, e.g.
	// "8544.42.9090", "9903.88.69", "8536.90".
	codePattern = regexp.MustCompile(`\b\d{4}(?:\.\d{2}){0,3}\b`)
)

// Normalize strips dots and whitespace and validates length. Valid
// precisions are 4, 6, 8 and 10 digits.
func Normalize(raw string) (Code, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ".", "")
	if !digitsOnly.MatchString(s) {
		return Code{}, fmt.Errorf("hts: %q is not a numeric code", raw)
	}
	switch len(s) {
	case 4, 6, 8, 10:
		return Code{Value: s, Length: Digits(len(s))}, nil
	default:
		return Code{}, fmt.Errorf("hts: %q has unsupported precision %d", raw, len(s))
	}
}

// MustNormalize is Normalize for literals in tests and seed data.
func MustNormalize(raw string) Code {
	c, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// HTS8 returns the 8-digit prefix, or "" when the code is shorter.
func (c Code) HTS8() string {
	if c.Length < Digits8 {
		return ""
	}
	return c.Value[:8]
}

// HTS10 returns the full 10-digit code, or "" when the code is shorter.
func (c Code) HTS10() string {
	if c.Length < Digits10 {
		return ""
	}
	return c.Value[:10]
}

// Heading returns the 4-digit heading.
func (c Code) Heading() string {
	return c.Value[:4]
}

// Dotted renders the code in the conventional dotted form
// (9903.88.69, 8544.42.9090).
func (c Code) Dotted() string {
	v := c.Value
	switch len(v) {
	case 4:
		return v
	case 6:
		return v[:4] + "." + v[4:6]
	case 8:
		return v[:4] + "." + v[4:6] + "." + v[6:8]
	default:
		return v[:4] + "." + v[4:6] + "." + v[6:8] + v[8:]
	}
}

// ScanText extracts the distinct dotted HTS citations occurring in text,
// in order of first appearance.
func ScanText(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range codePattern.FindAllString(text, -1) {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// IsCh99 reports whether the code is a Chapter-99 claim/disclaim heading.
func IsCh99(raw string) bool {
	c, err := Normalize(raw)
	if err != nil {
		return false
	}
	return strings.HasPrefix(c.Value, "99")
}
