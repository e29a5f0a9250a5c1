// Package tariff is the temporally-versioned corpus of U.S. additional
// tariff programs: Section 232 metals, Section 301, the two IEEPA regimes
// and their exclusions. Measures are stored SCD Type-2 with end-exclusive
// effective windows; history is append-only.
package tariff

import (
	"fmt"
	"time"
)

// ProgramID identifies a tariff program. Values are stable and appear in
// persisted rows, so they are never renamed.
type ProgramID string

const (
	Section232Copper   ProgramID = "section_232_copper"
	Section232Steel    ProgramID = "section_232_steel"
	Section232Aluminum ProgramID = "section_232_aluminum"
	Section301Note20   ProgramID = "section_301_note20"
	Section301Note31   ProgramID = "section_301_note31"
	IEEPAFentanyl      ProgramID = "ieepa_fentanyl"
	IEEPAReciprocal    ProgramID = "ieepa_reciprocal"
)

// DisclaimBehavior controls whether a program emits disclaim lines on
// slices it does not cover.
type DisclaimBehavior string

const (
	DisclaimRequired DisclaimBehavior = "required" // disclaim on every non-covered slice
	DisclaimOmit     DisclaimBehavior = "omit"     // no line on non-covered slices
	DisclaimNone     DisclaimBehavior = "none"
)

// Role distinguishes measures that impose a duty from those that carve
// scope out of another measure.
type Role string

const (
	RoleImpose  Role = "impose"
	RoleExclude Role = "exclude"
)

// ArticleType governs the duty base of a Section-232 measure.
type ArticleType string

const (
	ArticlePrimary    ArticleType = "primary"    // full entered value
	ArticleDerivative ArticleType = "derivative" // full entered value
	ArticleContent    ArticleType = "content"    // declared material-content value
)

// RateStatus flags rates still awaiting confirmation in a final notice.
type RateStatus string

const (
	RateConfirmed RateStatus = "confirmed"
	RatePending   RateStatus = "pending"
)

// ScopeHTSType records at which precision a measure enumerates its scope.
type ScopeHTSType string

const (
	ScopeHTS8  ScopeHTSType = "HTS8"
	ScopeHTS10 ScopeHTSType = "HTS10"
	// ScopeAll marks measures that cover every HTS code, e.g. the IEEPA
	// country-wide regimes. Always lowest precedence.
	ScopeAll ScopeHTSType = "ALL"
)

// CountryAll is the wildcard country scope.
const CountryAll = "ALL"

// Program carries the static filing attributes of a tariff program.
type Program struct {
	ID               ProgramID
	FilingSequence   int
	Disclaim         DisclaimBehavior
	Material         string // "copper", "steel", "aluminum" for 232 metal programs
}

// Programs is the authoritative registry, ordered by filing sequence.
// Country applicability is data (program_applicability rows), not code.
var Programs = []Program{
	{ID: Section301Note20, FilingSequence: 10, Disclaim: DisclaimNone},
	{ID: Section301Note31, FilingSequence: 11, Disclaim: DisclaimNone},
	{ID: IEEPAFentanyl, FilingSequence: 20, Disclaim: DisclaimNone},
	{ID: Section232Copper, FilingSequence: 30, Disclaim: DisclaimRequired, Material: "copper"},
	{ID: Section232Steel, FilingSequence: 31, Disclaim: DisclaimOmit, Material: "steel"},
	{ID: Section232Aluminum, FilingSequence: 32, Disclaim: DisclaimOmit, Material: "aluminum"},
	{ID: IEEPAReciprocal, FilingSequence: 40, Disclaim: DisclaimNone},
}

// ProgramByID returns the registry entry, or false for unknown programs.
func ProgramByID(id ProgramID) (Program, bool) {
	for _, p := range Programs {
		if p.ID == id {
			return p, true
		}
	}
	return Program{}, false
}

// MaterialProgram maps a declared material to its Section-232 program.
func MaterialProgram(material string) (ProgramID, bool) {
	switch material {
	case "copper":
		return Section232Copper, true
	case "steel":
		return Section232Steel, true
	case "aluminum":
		return Section232Aluminum, true
	default:
		return "", false
	}
}

// Measure is one SCD-2 row of the tariff corpus.
type Measure struct {
	ID              int64
	ProgramID       ProgramID
	Ch99Heading     string
	ScopeType       ScopeHTSType
	ScopeValue      string // digits-only HTS8 or HTS10
	EffectiveStart  time.Time
	EffectiveEnd    *time.Time // end-exclusive; nil = current
	AdditionalRate  float64
	RateStatus      RateStatus
	Role            Role
	ArticleType     ArticleType
	SourceVersionID string
	SupersedesID    *int64
}

// InEffect reports whether the measure covers an entry date.
// Windows are end-exclusive: start <= d < end.
func (m Measure) InEffect(d time.Time) bool {
	if d.Before(m.EffectiveStart) {
		return false
	}
	return m.EffectiveEnd == nil || d.Before(*m.EffectiveEnd)
}

// ExclusionClaim carves an HTS scope out of an impose measure and
// substitutes its own claim heading. Exclusion claims always require
// downstream verification.
type ExclusionClaim struct {
	ID                   int64
	ExclusionID          string
	NoteBucket           string // e.g. "note_20_vvv"
	ClaimCh99Heading     string
	SourceHeading        string // the impose heading this exclusion suppresses
	HTS10Exact           []string
	HTS8Prefix           []string
	ScopeText            string
	ScopeTextHash        string
	EffectiveStart       time.Time
	EffectiveEnd         *time.Time
	VerificationRequired bool
}

// Matches reports whether the exclusion covers the code on the date.
func (e ExclusionClaim) Matches(hts10, hts8 string, d time.Time) bool {
	if d.Before(e.EffectiveStart) {
		return false
	}
	if e.EffectiveEnd != nil && !d.Before(*e.EffectiveEnd) {
		return false
	}
	for _, v := range e.HTS10Exact {
		if v == hts10 {
			return true
		}
	}
	for _, p := range e.HTS8Prefix {
		if p == hts8 {
			return true
		}
	}
	return false
}

// CountryMapping versions a census-code or Chapter-99 country heading
// against an ISO alpha-2 code by proclamation effective date.
type CountryMapping struct {
	ID                 int64
	CensusCode         string
	ISOAlpha2          string
	Ch99CountryHeading string // IEEPA Reciprocal Annex II heading, may be empty
	ReciprocalRate     float64
	EffectiveStart     time.Time
	EffectiveEnd       *time.Time
}

// Applicability is one row of the authoritative program/country scope
// table. HTS scope lives on measures; this table answers only the
// country question.
type Applicability struct {
	ID             int64
	ProgramID      ProgramID
	CountryCode    string // ISO alpha-2 or CountryAll
	EffectiveStart time.Time
	EffectiveEnd   *time.Time
}

// CountryTreatment is a Section-301 country-gate outcome.
type CountryTreatment string

const (
	TreatmentApply         CountryTreatment = "apply"
	TreatmentNotApplicable CountryTreatment = "not_applicable"
)

// DataIntegrityError signals a violated store invariant: overlapping
// effective windows or slice math that does not sum. Never swallowed.
type DataIntegrityError struct {
	Detail string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity violation: %s", e.Detail)
}
