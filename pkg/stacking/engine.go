package stacking

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/clearlane/tariffcore/pkg/hts"
	"github.com/clearlane/tariffcore/pkg/money"
	"github.com/clearlane/tariffcore/pkg/section301"
	"github.com/clearlane/tariffcore/pkg/tariff"
	"github.com/clearlane/tariffcore/pkg/verify"
)

// Engine computes duty stacks over the tariff corpus. The assertion
// store is optional; when present, verified scope decisions gate the
// Section-232 programs and are cited in the decision log.
type Engine struct {
	tariffs    *tariff.Store
	s301       *section301.Evaluator
	assertions *verify.AssertionStore
	logger     *slog.Logger
}

// NewEngine wires the calculator. assertions may be nil.
func NewEngine(tariffs *tariff.Store, s301 *section301.Evaluator, assertions *verify.AssertionStore) *Engine {
	return &Engine{
		tariffs:    tariffs,
		s301:       s301,
		assertions: assertions,
		logger:     slog.Default().With("component", "stacking-engine"),
	}
}

// applicable is one program resolved for this request.
type applicable struct {
	program    tariff.Program
	measure    *tariff.Measure          // 232 and fentanyl
	s301Result *section301.Result       // 301 only
	reciprocal *tariff.CountryMapping   // reciprocal only
	annexII    bool                     // reciprocal only
}

// Calculate runs the full stacking algorithm for one entry.
func (e *Engine) Calculate(ctx context.Context, req Request) (*Result, error) {
	if req.ProductValue < 0 {
		return nil, fmt.Errorf("stacking: negative product value %d", req.ProductValue)
	}
	code, err := hts.Normalize(req.HTSCode)
	if err != nil {
		return nil, fmt.Errorf("stacking: %w", err)
	}

	result := &Result{}
	progs, err := e.resolvePrograms(ctx, code, req.Country, req.EntryDate, result)
	if err != nil {
		return nil, err
	}

	entries, audit, err := e.buildSlices(req, progs)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		e.composeStack(&entries[i], req, code, progs, audit, result)
	}

	var total, valueSum money.Cents
	for i := range entries {
		var entryTotal money.Cents
		for _, line := range entries[i].Stack {
			entryTotal += line.DutyAmount
		}
		entries[i].Total = entryTotal
		total += entryTotal
		valueSum += entries[i].LineValue
	}
	if valueSum != req.ProductValue {
		return nil, &tariff.DataIntegrityError{Detail: fmt.Sprintf(
			"slice values sum to %s, product value is %s", valueSum, req.ProductValue)}
	}

	result.Entries = entries
	result.TotalDuty = TotalDuty{
		TotalDutyAmount: total,
		EffectiveRate:   money.EffectiveRate(total, req.ProductValue),
		Unstacking:      audit,
	}
	if err := stampAuditHash(result); err != nil {
		return nil, err
	}

	e.logger.Info("calculated entry",
		"hts", code.Dotted(), "country", req.Country,
		"entries", len(entries), "total", total.String())
	return result, nil
}

// resolvePrograms walks the registry in filing order and decides which
// programs cover this (code, country, date), citing every row consulted.
func (e *Engine) resolvePrograms(ctx context.Context, code hts.Code, country string, entryDate time.Time, result *Result) ([]applicable, error) {
	var out []applicable
	var s301Done bool

	for _, p := range tariff.Programs {
		switch p.ID {
		case tariff.Section301Note20, tariff.Section301Note31:
			if s301Done {
				continue
			}
			s301Done = true
			res, err := e.s301.Evaluate(ctx, code, country, entryDate)
			if err != nil {
				return nil, err
			}
			if !res.Applicable {
				continue
			}
			prog, _ := tariff.ProgramByID(res.ProgramID)
			out = append(out, applicable{program: prog, s301Result: res})
			result.DecisionLog = append(result.DecisionLog, DecisionRef{
				Source: "TariffMeasure", ID: strconv.FormatInt(res.MeasureID, 10)})
			if res.ExclusionRowID != nil {
				result.DecisionLog = append(result.DecisionLog, DecisionRef{
					Source: "ExclusionClaim", ID: strconv.FormatInt(*res.ExclusionRowID, 10)})
			}
			if res.RateStatus == tariff.RatePending {
				result.Notes = append(result.Notes, fmt.Sprintf(
					"section 301 rate for %s is pending confirmation", code.Dotted()))
			}
			if res.VerificationRequired {
				result.Notes = append(result.Notes, fmt.Sprintf(
					"exclusion %s requires verification", res.ExclusionID))
			}

		case tariff.IEEPAReciprocal:
			applies, err := e.tariffs.CountryApplies(ctx, p.ID, country, entryDate)
			if err != nil {
				return nil, err
			}
			if !applies {
				continue
			}
			mapping, found, err := e.tariffs.ReciprocalMapping(ctx, country, entryDate)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			annex, err := e.tariffs.IsAnnexII(ctx, code.HTS8(), entryDate)
			if err != nil {
				return nil, err
			}
			out = append(out, applicable{program: p, reciprocal: &mapping, annexII: annex})

		default: // 232 metals and IEEPA fentanyl
			applies, err := e.tariffs.CountryApplies(ctx, p.ID, country, entryDate)
			if err != nil {
				return nil, err
			}
			if !applies {
				continue
			}
			measures, err := e.tariffs.Lookup(ctx, p.ID, code, entryDate)
			if err != nil {
				return nil, err
			}
			if len(measures) == 0 {
				continue
			}
			m := measures[0]

			if p.Material != "" && e.assertions != nil {
				a, err := e.assertions.Lookup(ctx, string(p.ID), code.Value, p.Material, entryDate)
				if err != nil {
					return nil, err
				}
				if a != nil {
					result.DecisionLog = append(result.DecisionLog, DecisionRef{
						Source: "VerifiedAssertion", ID: a.ID})
					if a.Type == verify.AssertionOutOfScope {
						continue
					}
				}
			}

			out = append(out, applicable{program: p, measure: &m})
			result.DecisionLog = append(result.DecisionLog, DecisionRef{
				Source: "TariffMeasure", ID: strconv.FormatInt(m.ID, 10)})
		}
	}
	return out, nil
}

// buildSlices splits the entry value into material slices plus the
// non_metal remainder, subtracting each declared content exactly once.
func (e *Engine) buildSlices(req Request, progs []applicable) ([]Entry, UnstackingAudit, error) {
	audit := UnstackingAudit{
		InitialValue:      req.ProductValue,
		ContentDeductions: map[string]money.Cents{},
	}

	// Only content-based measures unstack their material: primary and
	// derivative articles owe duty on the full entered value, so no
	// slice is carved out for them.
	materialApplies := make(map[string]bool)
	for _, p := range progs {
		if p.program.Material != "" && p.measure.ArticleType == tariff.ArticleContent {
			materialApplies[p.program.Material] = true
		}
	}

	var metals []Entry
	var contentSum money.Cents
	for _, m := range materialOrder {
		content := req.Materials[m]
		if content <= 0 || !materialApplies[m] {
			continue
		}
		metals = append(metals, Entry{SliceType: sliceForMaterial(m), LineValue: content})
		audit.ContentDeductions[m] = content
		contentSum += content
	}

	nonMetal := req.ProductValue - contentSum
	if nonMetal < 0 {
		return nil, audit, &InvalidMaterialAllocationError{
			ProductValue: req.ProductValue, ContentSum: contentSum}
	}
	audit.RemainingValue = nonMetal

	entries := append([]Entry{{SliceType: SliceNonMetal, LineValue: nonMetal}}, metals...)
	return entries, audit, nil
}

// composeStack emits the program lines for one slice in filing order,
// then the mandatory base-rate line.
func (e *Engine) composeStack(entry *Entry, req Request, code hts.Code, progs []applicable, audit UnstackingAudit, result *Result) {
	isNonMetal := entry.SliceType == SliceNonMetal

	for _, p := range progs {
		switch {
		case p.s301Result != nil:
			// Section 301 covers the base value of every slice. An
			// exclusion claim substitutes its heading at zero duty.
			line := StackLine{
				ProgramID:     string(p.program.ID),
				Chapter99Code: p.s301Result.Ch99Code,
			}
			if p.s301Result.Action == section301.ActionClaim {
				line.Action = ActionClaim
			} else {
				line.Action = ActionApply
				line.DutyRate = p.s301Result.Rate
				line.DutyAmount = money.ApplyRate(entry.LineValue, line.DutyRate)
			}
			entry.Stack = append(entry.Stack, line)

		case p.program.ID == tariff.IEEPAFentanyl:
			// Full entry value, carried on the non_metal slice only.
			if !isNonMetal {
				continue
			}
			rate := p.measure.AdditionalRate
			entry.Stack = append(entry.Stack, StackLine{
				ProgramID:     string(p.program.ID),
				Chapter99Code: p.measure.Ch99Heading,
				Action:        ActionApply,
				DutyRate:      rate,
				DutyAmount:    money.ApplyRate(req.ProductValue, rate),
			})

		case p.program.ID == tariff.IEEPAReciprocal:
			entry.Stack = append(entry.Stack, e.reciprocalLine(entry, p, audit))

		case p.program.Material != "":
			if p.measure.ArticleType == tariff.ArticleContent {
				if line, ok := metalLine(entry, p); ok {
					entry.Stack = append(entry.Stack, line)
				}
				continue
			}
			// Primary/derivative article: full entered value, carried
			// on the non_metal slice only, like the IEEPA regimes.
			if !isNonMetal {
				continue
			}
			rate := p.measure.AdditionalRate
			entry.Stack = append(entry.Stack, StackLine{
				ProgramID:     string(p.program.ID),
				Chapter99Code: p.measure.Ch99Heading,
				Action:        ActionClaim,
				DutyRate:      rate,
				DutyAmount:    money.ApplyRate(req.ProductValue, rate),
			})
		}
	}

	entry.Stack = append(entry.Stack, StackLine{
		ProgramID:     BaseHTSProgram,
		Chapter99Code: code.Dotted(),
		Action:        ActionApply,
		DutyRate:      req.BaseMFNRate,
		DutyAmount:    money.ApplyRate(entry.LineValue, req.BaseMFNRate),
	})
}

func (e *Engine) reciprocalLine(entry *Entry, p applicable, audit UnstackingAudit) StackLine {
	line := StackLine{ProgramID: string(p.program.ID)}
	switch {
	case p.annexII:
		line.Action = ActionExempt
		line.Chapter99Code = reciprocalAnnexIIExempt
	case entry.SliceType != SliceNonMetal:
		line.Action = ActionExempt
		line.Chapter99Code = reciprocalMetalExempt
	default:
		line.Action = ActionPaid
		line.Chapter99Code = p.reciprocal.Ch99CountryHeading
		line.DutyRate = p.reciprocal.ReciprocalRate
		line.DutyAmount = money.ApplyRate(audit.RemainingValue, line.DutyRate)
	}
	return line
}

// metalLine resolves a content-based Section-232 measure against one
// slice: claim on its own metal slice, disclaim elsewhere when the
// program requires it.
func metalLine(entry *Entry, p applicable) (StackLine, bool) {
	own := entry.SliceType == sliceForMaterial(p.program.Material)
	if own {
		return StackLine{
			ProgramID:     string(p.program.ID),
			Chapter99Code: p.measure.Ch99Heading,
			Action:        ActionClaim,
			DutyRate:      p.measure.AdditionalRate,
			DutyAmount:    money.ApplyRate(entry.LineValue, p.measure.AdditionalRate),
		}, true
	}
	if p.program.Disclaim == tariff.DisclaimRequired {
		return StackLine{
			ProgramID:     string(p.program.ID),
			Chapter99Code: copperDisclaimHeading,
			Action:        ActionDisclaim,
		}, true
	}
	return StackLine{}, false
}
