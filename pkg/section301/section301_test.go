package section301

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clearlane/tariffcore/pkg/hts"
	"github.com/clearlane/tariffcore/pkg/sqldb"
	"github.com/clearlane/tariffcore/pkg/tariff"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T) (*tariff.Store, *Evaluator) {
	t.Helper()
	db, err := sqldb.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store, err := tariff.NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	measures := []*tariff.Measure{
		{ProgramID: tariff.Section301Note20, Ch99Heading: "9903.88.03",
			ScopeType: tariff.ScopeHTS8, ScopeValue: "85444290",
			EffectiveStart: date(2019, 5, 10), AdditionalRate: 0.25,
			RateStatus: tariff.RateConfirmed, Role: tariff.RoleImpose,
			ArticleType: tariff.ArticlePrimary},
		{ProgramID: tariff.Section301Note31, Ch99Heading: "9903.91.08",
			ScopeType: tariff.ScopeHTS10, ScopeValue: "8544429010",
			EffectiveStart: date(2025, 1, 1), AdditionalRate: 0.50,
			RateStatus: tariff.RatePending, Role: tariff.RoleImpose,
			ArticleType: tariff.ArticlePrimary},
	}
	for _, m := range measures {
		if err := store.InsertMeasure(ctx, m); err != nil {
			t.Fatalf("insert measure: %v", err)
		}
	}
	return store, New(store, 0)
}

func TestEvaluateApply(t *testing.T) {
	_, eval := newFixture(t)

	res, err := eval.Evaluate(context.Background(),
		hts.MustNormalize("8544.42.9090"), "CN", date(2025, 8, 15))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Applicable {
		t.Fatalf("not applicable: %s", res.Reason)
	}
	if res.Action != ActionApply || res.Ch99Code != "9903.88.03" || res.Rate != 0.25 {
		t.Errorf("result = %+v", res)
	}
	if res.ProgramID != tariff.Section301Note20 {
		t.Errorf("program = %s", res.ProgramID)
	}
	if res.VerificationRequired {
		t.Error("plain apply should not require verification")
	}
}

func TestEvaluateCountryGate(t *testing.T) {
	store, eval := newFixture(t)
	ctx := context.Background()
	code := hts.MustNormalize("8544.42.9090")
	d := date(2025, 8, 15)

	// Germany is outside the program entirely.
	res, err := eval.Evaluate(ctx, code, "DE", d)
	if err != nil {
		t.Fatalf("evaluate DE: %v", err)
	}
	if res.Applicable || res.Reason == "" {
		t.Errorf("DE result = %+v", res)
	}

	// Hong Kong routing is a policy row, not a hardcoded rule.
	res, err = eval.Evaluate(ctx, code, "HK", d)
	if err != nil {
		t.Fatalf("evaluate HK: %v", err)
	}
	if res.Applicable {
		t.Errorf("HK applied without a policy row: %+v", res)
	}
	if err := store.SetCountryPolicy(ctx, "HK", tariff.TreatmentApply, date(2019, 1, 1)); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	res, err = eval.Evaluate(ctx, code, "HK", d)
	if err != nil {
		t.Fatalf("evaluate HK with policy: %v", err)
	}
	if !res.Applicable {
		t.Errorf("HK with apply policy = %+v", res)
	}
}

func TestEvaluatePrecedence(t *testing.T) {
	_, eval := newFixture(t)

	// 8544.42.9010 matches both the note-20 HTS8 row and the note-31
	// HTS10 row; the HTS10 match wins.
	res, err := eval.Evaluate(context.Background(),
		hts.MustNormalize("8544.42.9010"), "CN", date(2025, 8, 15))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Applicable {
		t.Fatalf("not applicable: %s", res.Reason)
	}
	if res.ProgramID != tariff.Section301Note31 || res.Ch99Code != "9903.91.08" {
		t.Errorf("precedence result = %+v", res)
	}
	if res.RateStatus != tariff.RatePending {
		t.Errorf("rate status = %s, want pending", res.RateStatus)
	}
}

func TestEvaluateExclusionClaim(t *testing.T) {
	store, eval := newFixture(t)
	ctx := context.Background()

	end := date(2025, 12, 1)
	if err := store.AddExclusion(ctx, &tariff.ExclusionClaim{
		ExclusionID:          "note-20-vvv-12",
		NoteBucket:           "note_20_vvv",
		ClaimCh99Heading:     "9903.88.69",
		SourceHeading:        "9903.88.03",
		HTS10Exact:           []string{"8544429090"},
		EffectiveStart:       date(2025, 1, 1),
		EffectiveEnd:         &end,
		VerificationRequired: true,
	}); err != nil {
		t.Fatalf("add exclusion: %v", err)
	}

	res, err := eval.Evaluate(ctx, hts.MustNormalize("8544.42.9090"), "CN", date(2025, 8, 15))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Applicable || res.Action != ActionClaim {
		t.Fatalf("result = %+v, want claim", res)
	}
	if res.Ch99Code != "9903.88.69" {
		t.Errorf("claim heading = %q", res.Ch99Code)
	}
	if !res.VerificationRequired {
		t.Error("exclusion claim must require verification")
	}
	if res.ExclusionID != "note-20-vvv-12" || res.ExclusionRowID == nil {
		t.Errorf("exclusion refs = %q, %v", res.ExclusionID, res.ExclusionRowID)
	}

	// After expiry the impose heading stands again.
	res, err = eval.Evaluate(ctx, hts.MustNormalize("8544.42.9090"), "CN", date(2025, 12, 15))
	if err != nil {
		t.Fatalf("evaluate past expiry: %v", err)
	}
	if res.Action != ActionApply || res.Ch99Code != "9903.88.03" {
		t.Errorf("post-expiry result = %+v", res)
	}
}

func TestEvaluateRetiredCode(t *testing.T) {
	store, eval := newFixture(t)
	ctx := context.Background()

	end := date(2024, 1, 1)
	if err := store.AddHtsHistory(ctx, "8544429090", date(2010, 1, 1), &end); err != nil {
		t.Fatalf("add history: %v", err)
	}
	res, err := eval.Evaluate(ctx, hts.MustNormalize("8544.42.9090"), "CN", date(2025, 8, 15))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Applicable || res.Reason == "" {
		t.Errorf("retired code result = %+v", res)
	}
}

func TestEvaluateUncoveredCode(t *testing.T) {
	_, eval := newFixture(t)
	res, err := eval.Evaluate(context.Background(),
		hts.MustNormalize("0101.21.0010"), "CN", date(2025, 8, 15))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Applicable {
		t.Errorf("uncovered code applied: %+v", res)
	}
}

func TestEvaluateHorizon(t *testing.T) {
	_, eval := newFixture(t)
	eval.now = func() time.Time { return date(2025, 8, 15) }

	_, err := eval.Evaluate(context.Background(),
		hts.MustNormalize("8544.42.9090"), "CN", date(2027, 1, 1))
	var tooFar *ErrEntryDateTooFar
	if !errors.As(err, &tooFar) {
		t.Fatalf("far-future entry date error = %v, want ErrEntryDateTooFar", err)
	}

	// A date inside the horizon is fine.
	if _, err := eval.Evaluate(context.Background(),
		hts.MustNormalize("8544.42.9090"), "CN", date(2026, 6, 1)); err != nil {
		t.Errorf("in-horizon date rejected: %v", err)
	}
}
