package connector

import (
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Source type identifiers as persisted on documents.
const (
	SourceCSMS            = "CSMS"
	SourceFederalRegister = "FEDERAL_REGISTER"
	SourceUSITC           = "USITC"
)

// CSMSConnector fetches CBP Cargo Systems Messaging Service bulletins.
type CSMSConnector struct {
	*base
}

// NewCSMS creates the CSMS connector.
func NewCSMS(timeout time.Duration) *CSMSConnector {
	c := &CSMSConnector{}
	c.base = newBase("csms", SourceCSMS,
		[]string{"content.govdelivery.com", "cbp.gov"}, timeout, c)
	return c
}

var csmsURLRe = regexp.MustCompile(`/bulletins/([0-9a-f]+)`)

func (c *CSMSConnector) extractCanonicalID(text, rawURL string) string {
	if id := canonicalFromText(text); id != "" {
		return id
	}
	if m := csmsURLRe.FindStringSubmatch(rawURL); m != nil {
		// govdelivery bulletin slugs are hex-encoded CSMS numbers.
		return "CSMS#" + m[1]
	}
	return ""
}

func (c *CSMSConnector) extractEffectiveDate(text string) *time.Time {
	return effectiveDateFromText(text)
}

// GovInfoConnector fetches Federal Register notices via govinfo.
type GovInfoConnector struct {
	*base
}

// NewGovInfo creates the govinfo / Federal Register connector.
func NewGovInfo(timeout time.Duration) *GovInfoConnector {
	c := &GovInfoConnector{}
	c.base = newBase("govinfo", SourceFederalRegister,
		[]string{"govinfo.gov", "federalregister.gov"}, timeout, c)
	return c
}

func (c *GovInfoConnector) extractCanonicalID(text, rawURL string) string {
	if id := canonicalFromText(text); id != "" {
		return id
	}
	// Document numbers like 2025-12345 appear in federalregister.gov URLs.
	if u, err := url.Parse(rawURL); err == nil {
		for _, seg := range strings.Split(u.Path, "/") {
			if regexp.MustCompile(`^\d{4}-\d{4,6}$`).MatchString(seg) {
				return "FR-DOC-" + seg
			}
		}
	}
	return ""
}

func (c *GovInfoConnector) extractEffectiveDate(text string) *time.Time {
	return effectiveDateFromText(text)
}

// USITCConnector fetches HTS chapter and note material from the USITC.
type USITCConnector struct {
	*base
}

// NewUSITC creates the USITC connector.
func NewUSITC(timeout time.Duration) *USITCConnector {
	c := &USITCConnector{}
	c.base = newBase("usitc", SourceUSITC,
		[]string{"usitc.gov", "hts.usitc.gov"}, timeout, c)
	return c
}

func (c *USITCConnector) extractCanonicalID(text, rawURL string) string {
	if id := canonicalFromText(text); id != "" {
		return id
	}
	lower := strings.ToLower(rawURL)
	if m := regexp.MustCompile(`chapter[-_ ]?(\d{1,2})`).FindStringSubmatch(lower); m != nil {
		n := m[1]
		if len(n) == 1 {
			n = "0" + n
		}
		return "HTS-CH" + n
	}
	return ""
}

func (c *USITCConnector) extractEffectiveDate(text string) *time.Time {
	return effectiveDateFromText(text)
}

// ByName returns the connector registered under name, or false.
func ByName(name string, timeout time.Duration) (Connector, bool) {
	switch name {
	case "csms":
		return NewCSMS(timeout), true
	case "govinfo":
		return NewGovInfo(timeout), true
	case "usitc":
		return NewUSITC(timeout), true
	default:
		return nil, false
	}
}
