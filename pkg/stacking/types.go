// Package stacking is the deterministic duty calculator: given an import
// entry it produces the ordered ACE filing slices, each with its stack of
// claim/disclaim/paid/exempt lines, duty amounts in integer cents and a
// decision log naming every corpus row consulted. No external call is in
// the request path; everything is synchronous database reads.
package stacking

import (
	"fmt"
	"time"

	"github.com/clearlane/tariffcore/pkg/money"
)

// Action is what a stack line asserts about its program.
type Action string

const (
	ActionApply    Action = "apply"    // program applies, duty owed
	ActionClaim    Action = "claim"    // filer claims the heading (232 metal, 301 exclusion)
	ActionDisclaim Action = "disclaim" // filer asserts the program does not apply; zero duty
	ActionPaid     Action = "paid"     // IEEPA Reciprocal duty on the remaining value
	ActionExempt   Action = "exempt"   // covered but exempt; zero duty
)

// Dutiable reports whether the action carries a duty amount.
func (a Action) Dutiable() bool {
	return a == ActionApply || a == ActionClaim || a == ActionPaid
}

// SliceType names one ACE line of the output.
type SliceType string

const (
	SliceNonMetal SliceType = "non_metal"
	SliceCopper   SliceType = "copper_slice"
	SliceSteel    SliceType = "steel_slice"
	SliceAluminum SliceType = "aluminum_slice"
)

// BaseHTSProgram labels the mandatory trailing base-rate line of each
// entry; it is not a tariff program.
const BaseHTSProgram = "base_hts"

// StackLine is one program line within an entry.
type StackLine struct {
	ProgramID     string      `json:"program_id"`
	Chapter99Code string      `json:"chapter_99_code"`
	Action        Action      `json:"action"`
	DutyRate      float64     `json:"duty_rate"`
	DutyAmount    money.Cents `json:"duty_amount_cents"`
}

// Entry is one output slice with its stack.
type Entry struct {
	SliceType SliceType   `json:"slice_type"`
	LineValue money.Cents `json:"line_value_cents"`
	Stack     []StackLine `json:"stack"`
	Total     money.Cents `json:"total_cents"`
}

// UnstackingAudit records the IEEPA Reciprocal value unstacking: each
// material's content value is subtracted from the entry value exactly
// once, and the remainder is the Reciprocal duty base.
type UnstackingAudit struct {
	InitialValue      money.Cents            `json:"initial_value_cents"`
	ContentDeductions map[string]money.Cents `json:"content_deductions_cents"`
	RemainingValue    money.Cents            `json:"remaining_value_cents"`
}

// TotalDuty summarises the calculation.
type TotalDuty struct {
	TotalDutyAmount money.Cents     `json:"total_duty_amount_cents"`
	EffectiveRate   float64         `json:"effective_rate"`
	Unstacking      UnstackingAudit `json:"unstacking"`
}

// DecisionRef cites one corpus row the calculation consulted.
type DecisionRef struct {
	Source string `json:"source"` // "TariffMeasure", "ExclusionClaim", "VerifiedAssertion"
	ID     string `json:"id"`
}

// Request is one duty calculation. Materials maps material name to
// declared content value; unknown materials are ignored.
type Request struct {
	HTSCode      string                 `json:"hts_code"`
	Country      string                 `json:"country"`
	EntryDate    time.Time              `json:"entry_date"`
	ProductValue money.Cents            `json:"product_value_cents"`
	Materials    map[string]money.Cents `json:"materials,omitempty"`
	BaseMFNRate  float64                `json:"base_mfn_rate,omitempty"`
}

// Result is the full calculation output. AuditHash is the SHA-256 of the
// JCS-canonicalized result body, so two runs over the same corpus state
// hash identically.
type Result struct {
	Entries     []Entry       `json:"entries"`
	TotalDuty   TotalDuty     `json:"total_duty"`
	DecisionLog []DecisionRef `json:"decision_log"`
	Notes       []string      `json:"notes,omitempty"`
	AuditHash   string        `json:"-"`
}

// InvalidMaterialAllocationError signals declared content values that
// exceed the entry value.
type InvalidMaterialAllocationError struct {
	ProductValue money.Cents
	ContentSum   money.Cents
}

func (e *InvalidMaterialAllocationError) Error() string {
	return fmt.Sprintf("invalid material allocation: content values %s exceed product value %s",
		e.ContentSum, e.ProductValue)
}

// materialOrder fixes slice emission order after non_metal.
var materialOrder = []string{"copper", "steel", "aluminum"}

func sliceForMaterial(material string) SliceType {
	switch material {
	case "copper":
		return SliceCopper
	case "steel":
		return SliceSteel
	case "aluminum":
		return SliceAluminum
	default:
		return SliceNonMetal
	}
}

// Chapter-99 headings for the IEEPA Reciprocal exemption variants. The
// paid heading is country data (annex mapping); the exemption variants
// are fixed by proclamation.
const (
	reciprocalMetalExempt   = "9903.01.33"
	reciprocalAnnexIIExempt = "9903.01.32"
)

// copperDisclaimHeading is the disclaim counterpart of the Section 232
// copper claim heading. Copper is the only program with
// disclaim_behavior=required.
const copperDisclaimHeading = "9903.78.02"
