// Package section301 evaluates the Section-301 China tariff program: a
// deterministic pipeline over the tariff corpus with no model call in
// the path. Hong Kong and Macau routing is policy data, not code.
package section301

import (
	"context"
	"fmt"
	"time"

	"github.com/clearlane/tariffcore/pkg/hts"
	"github.com/clearlane/tariffcore/pkg/tariff"
)

// DefaultHorizon bounds how far past today an entry date may lie.
const DefaultHorizon = 365 * 24 * time.Hour

// ErrEntryDateTooFar is returned when the entry date exceeds the horizon.
type ErrEntryDateTooFar struct {
	EntryDate time.Time
	Horizon   time.Duration
}

func (e *ErrEntryDateTooFar) Error() string {
	return fmt.Sprintf("section301: entry date %s is more than %s in the future",
		e.EntryDate.Format("2006-01-02"), e.Horizon)
}

// Action is the filing action the evaluation produces.
type Action string

const (
	ActionApply Action = "apply" // impose heading stands
	ActionClaim Action = "claim" // exclusion substituted its claim heading
)

// Result is the evaluation outcome. Applicable=false is a normal
// answer, never an error.
type Result struct {
	Applicable           bool
	Reason               string // set when not applicable
	ProgramID            tariff.ProgramID
	Action               Action
	Ch99Code             string
	Rate                 float64
	RateStatus           tariff.RateStatus
	VerificationRequired bool
	MeasureID            int64
	ExclusionRowID       *int64
	ExclusionID          string
}

// Evaluator runs the six-step pipeline against the tariff store.
type Evaluator struct {
	store   *tariff.Store
	horizon time.Duration
	now     func() time.Time
}

// New creates an Evaluator. horizon <= 0 selects DefaultHorizon.
func New(store *tariff.Store, horizon time.Duration) *Evaluator {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Evaluator{store: store, horizon: horizon, now: time.Now}
}

var programs = []tariff.ProgramID{tariff.Section301Note20, tariff.Section301Note31}

// Evaluate resolves Section 301 for (code, country, entryDate): country
// gate, HTS validity, inclusion match in HTS10-before-HTS8 precedence,
// exclusion substitution, then rate status. Dates beyond the horizon are
// rejected outright.
func (e *Evaluator) Evaluate(ctx context.Context, code hts.Code, country string, entryDate time.Time) (*Result, error) {
	if entryDate.After(e.now().Add(e.horizon)) {
		return nil, &ErrEntryDateTooFar{EntryDate: entryDate, Horizon: e.horizon}
	}

	treatment, err := e.store.CountryPolicy(ctx, country, entryDate)
	if err != nil {
		return nil, err
	}
	if treatment != tariff.TreatmentApply {
		return &Result{Reason: fmt.Sprintf("country %s not subject to section 301", country)}, nil
	}

	valid, err := e.store.HtsValidOn(ctx, code.HTS10(), entryDate)
	if err != nil {
		return nil, err
	}
	if !valid {
		return &Result{Reason: fmt.Sprintf(
			"hts %s not valid on %s", code.Dotted(), entryDate.Format("2006-01-02"))}, nil
	}

	measure, found, err := e.bestMeasure(ctx, code, entryDate)
	if err != nil {
		return nil, err
	}
	if !found {
		return &Result{Reason: "no section 301 measure covers this code"}, nil
	}

	res := &Result{
		Applicable: true,
		ProgramID:  measure.ProgramID,
		Action:     ActionApply,
		Ch99Code:   measure.Ch99Heading,
		Rate:       measure.AdditionalRate,
		RateStatus: measure.RateStatus,
		MeasureID:  measure.ID,
	}

	exclusions, err := e.store.FindExclusions(ctx, measure.Ch99Heading, code, entryDate)
	if err != nil {
		return nil, err
	}
	if len(exclusions) > 0 {
		ex := exclusions[0]
		res.Action = ActionClaim
		res.Ch99Code = ex.ClaimCh99Heading
		res.VerificationRequired = true
		res.ExclusionRowID = &ex.ID
		res.ExclusionID = ex.ExclusionID
	}
	return res, nil
}

// bestMeasure merges both 301 note buckets and applies the precedence
// rule across them: HTS10 beats HTS8, then later effective_start wins.
func (e *Evaluator) bestMeasure(ctx context.Context, code hts.Code, entryDate time.Time) (tariff.Measure, bool, error) {
	var candidates []tariff.Measure
	for _, p := range programs {
		ms, err := e.store.Lookup(ctx, p, code, entryDate)
		if err != nil {
			return tariff.Measure{}, false, err
		}
		candidates = append(candidates, ms...)
	}
	if len(candidates) == 0 {
		return tariff.Measure{}, false, nil
	}

	best := candidates[0]
	for _, m := range candidates[1:] {
		if better(m, best) {
			best = m
		}
	}
	return best, true, nil
}

func better(a, b tariff.Measure) bool {
	if a.ScopeType != b.ScopeType {
		return a.ScopeType == tariff.ScopeHTS10
	}
	return a.EffectiveStart.After(b.EffectiveStart)
}
