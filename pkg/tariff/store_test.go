package tariff

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/clearlane/tariffcore/pkg/hts"
	"github.com/clearlane/tariffcore/pkg/sqldb"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqldb.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestInsertMeasureSupersedes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &Measure{
		ProgramID:      Section301Note20,
		Ch99Heading:    "9903.88.03",
		ScopeType:      ScopeHTS8,
		ScopeValue:     "85444290",
		EffectiveStart: date(2019, 5, 10),
		AdditionalRate: 0.25,
		RateStatus:     RateConfirmed,
		Role:           RoleImpose,
		ArticleType:    ArticlePrimary,
	}
	if err := store.InsertMeasure(ctx, first); err != nil {
		t.Fatalf("insert first: %v", err)
	}
	if first.ID == 0 {
		t.Fatal("first measure got no id")
	}

	second := &Measure{
		ProgramID:      Section301Note20,
		Ch99Heading:    "9903.88.03",
		ScopeType:      ScopeHTS8,
		ScopeValue:     "85444290",
		EffectiveStart: date(2025, 1, 1),
		AdditionalRate: 0.50,
		RateStatus:     RateConfirmed,
		Role:           RoleImpose,
		ArticleType:    ArticlePrimary,
	}
	if err := store.InsertMeasure(ctx, second); err != nil {
		t.Fatalf("insert second: %v", err)
	}
	if second.SupersedesID == nil || *second.SupersedesID != first.ID {
		t.Errorf("second.SupersedesID = %v, want %d", second.SupersedesID, first.ID)
	}

	code := hts.MustNormalize("8544.42.9090")

	// Point-in-time before the supersession sees the old rate.
	got, err := store.Lookup(ctx, Section301Note20, code, date(2024, 6, 1))
	if err != nil {
		t.Fatalf("lookup 2024: %v", err)
	}
	if len(got) != 1 || got[0].AdditionalRate != 0.25 {
		t.Errorf("lookup 2024 = %+v, want old 25%% row", got)
	}

	// After the supersession only the new rate is current.
	got, err = store.Lookup(ctx, Section301Note20, code, date(2025, 8, 1))
	if err != nil {
		t.Fatalf("lookup 2025: %v", err)
	}
	if len(got) != 1 || got[0].AdditionalRate != 0.50 {
		t.Errorf("lookup 2025 = %+v, want new 50%% row", got)
	}
}

func TestInsertMeasureRejectsBackdatedSupersession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &Measure{
		ProgramID: Section232Steel, Ch99Heading: "9903.81.91",
		ScopeType: ScopeHTS8, ScopeValue: "73269086",
		EffectiveStart: date(2025, 6, 1), AdditionalRate: 0.50,
		RateStatus: RateConfirmed, Role: RoleImpose, ArticleType: ArticleContent,
	}
	if err := store.InsertMeasure(ctx, first); err != nil {
		t.Fatalf("insert first: %v", err)
	}

	backdated := &Measure{
		ProgramID: Section232Steel, Ch99Heading: "9903.81.91",
		ScopeType: ScopeHTS8, ScopeValue: "73269086",
		EffectiveStart: date(2025, 5, 1), AdditionalRate: 0.25,
		RateStatus: RateConfirmed, Role: RoleImpose, ArticleType: ArticleContent,
	}
	err := store.InsertMeasure(ctx, backdated)
	var integrity *DataIntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("backdated insert error = %v, want DataIntegrityError", err)
	}
}

func TestInsertMeasureRejectsInvertedWindow(t *testing.T) {
	store := newTestStore(t)
	end := date(2025, 1, 1)
	m := &Measure{
		ProgramID: Section301Note20, ScopeType: ScopeHTS8, ScopeValue: "85444290",
		EffectiveStart: date(2025, 6, 1), EffectiveEnd: &end,
		Role: RoleImpose,
	}
	var integrity *DataIntegrityError
	if err := store.InsertMeasure(context.Background(), m); !errors.As(err, &integrity) {
		t.Fatalf("inverted window error = %v, want DataIntegrityError", err)
	}
}

func TestLookupPrecedence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := date(2025, 1, 1)

	rows := []*Measure{
		{ProgramID: Section232Aluminum, Ch99Heading: "9903.85.08", ScopeType: ScopeHTS8,
			ScopeValue: "85444290", EffectiveStart: start, AdditionalRate: 0.25,
			RateStatus: RateConfirmed, Role: RoleImpose, ArticleType: ArticleContent},
		{ProgramID: Section232Aluminum, Ch99Heading: "9903.85.09", ScopeType: ScopeHTS10,
			ScopeValue: "8544429090", EffectiveStart: start, AdditionalRate: 0.50,
			RateStatus: RateConfirmed, Role: RoleImpose, ArticleType: ArticleContent},
	}
	for _, m := range rows {
		if err := store.InsertMeasure(ctx, m); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := store.Lookup(ctx, Section232Aluminum, hts.MustNormalize("8544.42.9090"), date(2025, 8, 1))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d measures, want 2", len(got))
	}
	if got[0].ScopeType != ScopeHTS10 || got[1].ScopeType != ScopeHTS8 {
		t.Errorf("precedence order = %s, %s; want HTS10 then HTS8", got[0].ScopeType, got[1].ScopeType)
	}

	// A different 10-digit code under the same HTS8 sees only the HTS8 row.
	got, err = store.Lookup(ctx, Section232Aluminum, hts.MustNormalize("8544.42.9010"), date(2025, 8, 1))
	if err != nil {
		t.Fatalf("lookup sibling: %v", err)
	}
	if len(got) != 1 || got[0].ScopeType != ScopeHTS8 {
		t.Errorf("sibling lookup = %+v, want only HTS8 row", got)
	}
}

func TestLookupScopeAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := &Measure{
		ProgramID: IEEPAFentanyl, Ch99Heading: "9903.01.24", ScopeType: ScopeAll,
		ScopeValue: "", EffectiveStart: date(2025, 3, 4), AdditionalRate: 0.20,
		RateStatus: RateConfirmed, Role: RoleImpose, ArticleType: ArticlePrimary,
	}
	if err := store.InsertMeasure(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.Lookup(ctx, IEEPAFentanyl, hts.MustNormalize("8544.42.9090"), date(2025, 8, 1))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 1 || got[0].Ch99Heading != "9903.01.24" {
		t.Fatalf("ALL-scope lookup = %+v", got)
	}

	// Before the program existed, nothing matches.
	got, err = store.Lookup(ctx, IEEPAFentanyl, hts.MustNormalize("8544.42.9090"), date(2024, 1, 1))
	if err != nil {
		t.Fatalf("lookup before start: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("lookup before effective start = %+v, want empty", got)
	}
}

func TestLookupUnknownCodeEmpty(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Lookup(context.Background(), Section301Note20,
		hts.MustNormalize("0101.21.0010"), date(2025, 8, 1))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("lookup = %+v, want empty", got)
	}
}

func TestExclusions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	end := date(2025, 12, 1)
	e := &ExclusionClaim{
		ExclusionID:          "note-20-vvv-12",
		NoteBucket:           "note_20_vvv",
		ClaimCh99Heading:     "9903.88.69",
		SourceHeading:        "9903.88.03",
		HTS10Exact:           []string{"8544429090"},
		EffectiveStart:       date(2025, 1, 1),
		EffectiveEnd:         &end,
		VerificationRequired: true,
	}
	if err := store.AddExclusion(ctx, e); err != nil {
		t.Fatalf("add exclusion: %v", err)
	}

	code := hts.MustNormalize("8544.42.9090")
	got, err := store.FindExclusions(ctx, "9903.88.03", code, date(2025, 8, 1))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].ClaimCh99Heading != "9903.88.69" || !got[0].VerificationRequired {
		t.Fatalf("find = %+v", got)
	}

	// End-exclusive: the expiry date itself is outside the window.
	got, err = store.FindExclusions(ctx, "9903.88.03", code, end)
	if err != nil {
		t.Fatalf("find at expiry: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("exclusion matched on its expiry date")
	}

	// Different impose heading does not see this claim.
	got, err = store.FindExclusions(ctx, "9903.88.15", code, date(2025, 8, 1))
	if err != nil {
		t.Fatalf("find other heading: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("exclusion leaked to another source heading")
	}
}

func TestCountryApplies(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddApplicability(ctx, &Applicability{
		ProgramID: IEEPAFentanyl, CountryCode: "CN", EffectiveStart: date(2025, 3, 4),
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.AddApplicability(ctx, &Applicability{
		ProgramID: Section232Steel, CountryCode: CountryAll, EffectiveStart: date(2025, 6, 1),
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	tests := []struct {
		program ProgramID
		country string
		d       time.Time
		want    bool
	}{
		{IEEPAFentanyl, "CN", date(2025, 8, 1), true},
		{IEEPAFentanyl, "DE", date(2025, 8, 1), false},
		{IEEPAFentanyl, "CN", date(2025, 1, 1), false},
		{Section232Steel, "DE", date(2025, 8, 1), true},
		{Section232Steel, "CN", date(2025, 8, 1), true},
		{Section232Steel, "DE", date(2025, 5, 1), false},
	}
	for _, tt := range tests {
		got, err := store.CountryApplies(ctx, tt.program, tt.country, tt.d)
		if err != nil {
			t.Fatalf("CountryApplies(%s, %s): %v", tt.program, tt.country, err)
		}
		if got != tt.want {
			t.Errorf("CountryApplies(%s, %s, %s) = %v, want %v",
				tt.program, tt.country, tt.d.Format("2006-01-02"), got, tt.want)
		}
	}
}

func TestReciprocalMapping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddCountryMapping(ctx, &CountryMapping{
		CensusCode: "5700", ISOAlpha2: "CN", Ch99CountryHeading: "9903.01.63",
		ReciprocalRate: 0.10, EffectiveStart: date(2025, 4, 5),
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	c, ok, err := store.ReciprocalMapping(ctx, "CN", date(2025, 8, 1))
	if err != nil || !ok {
		t.Fatalf("ReciprocalMapping = %v, %v", ok, err)
	}
	if c.Ch99CountryHeading != "9903.01.63" || c.ReciprocalRate != 0.10 {
		t.Errorf("mapping = %+v", c)
	}

	if _, ok, err := store.ReciprocalMapping(ctx, "DE", date(2025, 8, 1)); err != nil || ok {
		t.Errorf("unmapped country = %v, %v; want false", ok, err)
	}

	iso, ok, err := store.CensusToISO(ctx, "5700", date(2025, 8, 1))
	if err != nil || !ok || iso != "CN" {
		t.Errorf("CensusToISO = %q, %v, %v", iso, ok, err)
	}
}

func TestHtsValidOn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// No history rows: advisory, treated as valid.
	ok, err := store.HtsValidOn(ctx, "8544429090", date(2025, 8, 1))
	if err != nil || !ok {
		t.Fatalf("empty history = %v, %v; want valid", ok, err)
	}

	end := date(2025, 1, 1)
	if err := store.AddHtsHistory(ctx, "8544429090", date(2010, 1, 1), &end); err != nil {
		t.Fatalf("add history: %v", err)
	}
	ok, err = store.HtsValidOn(ctx, "8544429090", date(2025, 8, 1))
	if err != nil || ok {
		t.Errorf("retired code = %v, %v; want invalid", ok, err)
	}
	ok, err = store.HtsValidOn(ctx, "8544429090", date(2020, 1, 1))
	if err != nil || !ok {
		t.Errorf("in-window code = %v, %v; want valid", ok, err)
	}
}

func TestAnnexII(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddAnnexII(ctx, "85423100", date(2025, 4, 5), nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	ok, err := store.IsAnnexII(ctx, "85423100", date(2025, 8, 1))
	if err != nil || !ok {
		t.Errorf("IsAnnexII = %v, %v; want true", ok, err)
	}
	ok, err = store.IsAnnexII(ctx, "85444290", date(2025, 8, 1))
	if err != nil || ok {
		t.Errorf("unlisted HTS8 = %v, %v; want false", ok, err)
	}
}

func TestCountryPolicyDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	d := date(2025, 8, 1)

	got, err := store.CountryPolicy(ctx, "CN", d)
	if err != nil || got != TreatmentApply {
		t.Errorf("CN default = %v, %v; want apply", got, err)
	}
	got, err = store.CountryPolicy(ctx, "DE", d)
	if err != nil || got != TreatmentNotApplicable {
		t.Errorf("DE default = %v, %v; want not_applicable", got, err)
	}

	if err := store.SetCountryPolicy(ctx, "HK", TreatmentNotApplicable, date(2019, 1, 1)); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	got, err = store.CountryPolicy(ctx, "HK", d)
	if err != nil || got != TreatmentNotApplicable {
		t.Errorf("HK policy = %v, %v; want not_applicable", got, err)
	}
}

func TestLoadMeasuresCSV(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	csvData := strings.Join([]string{
		"program_id,hts_8digit,chapter_99_code,duty_rate,effective_start,effective_end,list_name,source",
		"section_301_note20,8544.42.90,9903.88.03,0.25,2019-05-10,,list3,82FR",
		"section_301_note20,8536.90.4000,9903.88.01,0.25,2018-07-06,,list1,83FR",
		"bogus_program,8544.42.90,9903.88.03,0.25,2019-05-10,,list3,82FR",
		"section_301_note20,notacode,9903.88.03,0.25,2019-05-10,,list3,82FR",
	}, "\n")

	report, err := store.LoadMeasuresCSV(ctx, strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if report.Loaded != 2 {
		t.Errorf("Loaded = %d, want 2", report.Loaded)
	}
	if len(report.Errors) != 2 {
		t.Errorf("Errors = %v, want 2 entries", report.Errors)
	}

	got, err := store.Lookup(ctx, Section301Note20, hts.MustNormalize("8536.90.4000"), date(2025, 8, 1))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 1 || got[0].Ch99Heading != "9903.88.01" {
		t.Errorf("loaded measure = %+v", got)
	}
}
