package connector

import (
	"html"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	chromeRe = regexp.MustCompile(`(?is)<(nav|header|footer)[^>]*>.*?</(nav|header|footer)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	wsRe     = regexp.MustCompile(`[ \t\r\f\v]+`)
	nlRe     = regexp.MustCompile(`\n{3,}`)
	titleRe  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

// ExtractText strips page chrome and markup from an HTML (or plain)
// payload and collapses whitespace. Text is NFC-normalized so verbatim
// quote checks downstream are stable across sources.
func ExtractText(raw string) string {
	s := scriptRe.ReplaceAllString(raw, " ")
	s = styleRe.ReplaceAllString(s, " ")
	s = chromeRe.ReplaceAllString(s, " ")
	// Preserve paragraph boundaries before dropping tags.
	s = regexp.MustCompile(`(?i)</(p|div|li|h[1-6]|tr|br)>`).ReplaceAllString(s, "\n\n")
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = norm.NFC.String(s)
	s = wsRe.ReplaceAllString(s, " ")

	var lines []string
	for _, line := range strings.Split(s, "\n") {
		lines = append(lines, strings.TrimSpace(line))
	}
	s = strings.Join(lines, "\n")
	s = nlRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func extractTitle(raw, text string) string {
	if m := titleRe.FindStringSubmatch(raw); m != nil {
		if t := strings.TrimSpace(tagRe.ReplaceAllString(m[1], " ")); t != "" {
			return t
		}
	}
	// First non-empty line of the extracted text.
	for _, line := range strings.Split(text, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			if len(t) > 200 {
				t = t[:200]
			}
			return t
		}
	}
	return ""
}

// Citation formats for canonical IDs.
var (
	csmsRe = regexp.MustCompile(`(?i)CSMS\s*#?\s*(\d{7,9})`)
	frRe   = regexp.MustCompile(`\b(\d{2,3})\s+FR\s+(\d{3,6})\b`)
	eoRe   = regexp.MustCompile(`(?i)Executive\s+Order\s+(\d{4,5})|EO-(\d{4,5})`)
	procRe = regexp.MustCompile(`(?i)Proclamation\s+(\d{4,5})|PROC-(\d{4,5})`)
	ch99Re = regexp.MustCompile(`(?i)HTS-CH(\d{2})`)
	noteRe = regexp.MustCompile(`(?i)HTS-NOTE(\d{1,2}[A-Z]?)`)
)

// canonicalFromText tries the known citation formats in priority order.
func canonicalFromText(text string) string {
	if m := csmsRe.FindStringSubmatch(text); m != nil {
		return "CSMS#" + m[1]
	}
	if m := frRe.FindStringSubmatch(text); m != nil {
		return m[1] + " FR " + m[2]
	}
	if m := eoRe.FindStringSubmatch(text); m != nil {
		n := m[1]
		if n == "" {
			n = m[2]
		}
		return "EO-" + n
	}
	if m := procRe.FindStringSubmatch(text); m != nil {
		n := m[1]
		if n == "" {
			n = m[2]
		}
		return "PROC-" + n
	}
	if m := ch99Re.FindStringSubmatch(text); m != nil {
		return "HTS-CH" + m[1]
	}
	if m := noteRe.FindStringSubmatch(text); m != nil {
		return "HTS-NOTE" + strings.ToUpper(m[1])
	}
	return ""
}

var effectiveDateRe = regexp.MustCompile(
	`(?i)effective\s+(?:on\s+|date\s+of\s+)?((?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},\s+\d{4})`)

// effectiveDateFromText finds "effective <Month D, YYYY>" phrasing.
func effectiveDateFromText(text string) *time.Time {
	m := effectiveDateRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	t, err := time.Parse("January 2, 2006", m[1])
	if err != nil {
		return nil
	}
	return &t
}

// Program hint keywords. 232 hints require a material keyword.
func scanPrograms(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	add := func(p string) { out = append(out, p) }

	if strings.Contains(lower, "section 232") {
		if strings.Contains(lower, "copper") {
			add("section_232_copper")
		}
		if strings.Contains(lower, "steel") {
			add("section_232_steel")
		}
		if strings.Contains(lower, "aluminum") || strings.Contains(lower, "aluminium") {
			add("section_232_aluminum")
		}
	}
	if strings.Contains(lower, "section 301") {
		if strings.Contains(lower, "note 31") {
			add("section_301_note31")
		} else {
			add("section_301_note20")
		}
	}
	if strings.Contains(lower, "ieepa") || strings.Contains(lower, "international emergency economic powers") {
		if strings.Contains(lower, "fentanyl") {
			add("ieepa_fentanyl")
		}
		if strings.Contains(lower, "reciprocal") {
			add("ieepa_reciprocal")
		}
	}
	return out
}
