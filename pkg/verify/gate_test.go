package verify

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/clearlane/tariffcore/pkg/docstore"
	"github.com/clearlane/tariffcore/pkg/sqldb"
)

type gateFixture struct {
	db         *sqldb.DB
	docs       *docstore.Store
	assertions *AssertionStore
	review     *ReviewStore
	gate       *WriteGate
	docID      string
	chunkID    string
	chunkText  string
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	db, err := sqldb.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	docs, err := docstore.NewStore(db)
	if err != nil {
		t.Fatalf("docstore: %v", err)
	}
	assertions, err := NewAssertionStore(db)
	if err != nil {
		t.Fatalf("assertions: %v", err)
	}
	review, err := NewReviewStore(db)
	if err != nil {
		t.Fatalf("review: %v", err)
	}

	f := &gateFixture{
		db: db, docs: docs, assertions: assertions, review: review,
		gate:      NewWriteGate(db, docs, assertions, review),
		chunkText: "Products of China classified under 8544.42.9090 are covered by heading 9903.88.03.",
	}

	ctx := context.Background()
	res, err := docs.Upsert(ctx, &docstore.Document{
		Source: "FEDERAL_REGISTER", Tier: docstore.TierA,
		CanonicalID: "90 FR 33424", SHA256Raw: "abc123",
		ExtractedText: f.chunkText,
	})
	if err != nil {
		t.Fatalf("upsert doc: %v", err)
	}
	f.docID = res.Document.ID

	chunks := []docstore.Chunk{{
		ChunkIndex: 0, CharStart: 0, CharEnd: len(f.chunkText),
		Text: f.chunkText, TextHash: "h0",
	}}
	if err := docs.ReplaceChunks(ctx, f.docID, chunks); err != nil {
		t.Fatalf("chunks: %v", err)
	}
	stored, err := docs.Chunks(ctx, f.docID)
	if err != nil || len(stored) != 1 {
		t.Fatalf("list chunks: %v, %v", stored, err)
	}
	f.chunkID = stored[0].ID
	return f
}

func (f *gateFixture) goodInput() GateInput {
	inScope := true
	return GateInput{
		Question: Question{ProgramID: "section_301_note20", HTSCode: "8544429090"},
		Reader: &ReaderOutput{
			Answer: Answer{
				InScope: &inScope, Program: "section_301_note20", HTSCode: "8544429090",
				ClaimCodes: []string{"9903.88.03"}, Confidence: ConfidenceHigh,
			},
			Citations: []Citation{{
				DocumentID: f.docID, ChunkID: f.chunkID,
				Quote:           "classified under 8544.42.9090 are covered by heading 9903.88.03",
				WhyThisSupports: "names the code and the heading",
			}},
		},
		ReaderRaw:      `{"answer":{}}`,
		Validator:      &ValidatorOutput{Verified: true, Confidence: ConfidenceHigh},
		ValidatorRaw:   `{"verified":true}`,
		EffectiveStart: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		VerifiedBy:     "llm_consensus",
	}
}

func TestGateAdmitPass(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	result, assertion, err := f.gate.Admit(ctx, f.goodInput())
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !result.Passed || assertion == nil {
		t.Fatalf("result = %+v, assertion = %v", result, assertion)
	}
	if result.AssertionID != assertion.ID {
		t.Errorf("AssertionID = %q, assertion.ID = %q", result.AssertionID, assertion.ID)
	}
	if assertion.Type != AssertionInScope || assertion.ClaimCode != "9903.88.03" {
		t.Errorf("assertion = %+v", assertion)
	}
	if len(assertion.EvidenceQuoteHash) != 64 {
		t.Errorf("quote hash = %q", assertion.EvidenceQuoteHash)
	}

	// The fact is now a cache hit.
	got, err := f.assertions.Lookup(ctx, "section_301_note20", "8544429090", "",
		time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || got == nil {
		t.Fatalf("lookup = %v, %v", got, err)
	}
	if got.ID != assertion.ID {
		t.Errorf("lookup id = %q, want %q", got.ID, assertion.ID)
	}

	// Nothing was queued.
	n, err := f.review.PendingCount(ctx)
	if err != nil || n != 0 {
		t.Errorf("pending = %d, %v; want 0", n, err)
	}
}

func TestGateAdmitNonVerbatimQuote(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	in := f.goodInput()
	in.Reader.Citations[0].Quote = "classified under 8544.42.9090 is covered by 9903.88.03" // paraphrase

	result, assertion, err := f.gate.Admit(ctx, in)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if result.Passed || assertion != nil {
		t.Fatalf("paraphrased quote passed the gate: %+v", result)
	}
	foundCode := false
	for _, v := range result.Errors() {
		if v.Code == "QUOTE_NOT_VERBATIM" {
			foundCode = true
		}
	}
	if !foundCode {
		t.Errorf("violations = %+v, want QUOTE_NOT_VERBATIM", result.Violations)
	}

	// No assertion row; one review row explaining the block.
	got, err := f.assertions.Lookup(ctx, "section_301_note20", "8544429090", "",
		time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || got != nil {
		t.Errorf("assertion after failed gate = %v, %v; want none", got, err)
	}
	items, err := f.review.List(ctx, ReviewPending, 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("review queue = %v, %v; want 1 item", items, err)
	}
	if items[0].BlockReason != "write_gate_failed" {
		t.Errorf("block reason = %q", items[0].BlockReason)
	}
	if items[0].HTSCode != "8544429090" {
		t.Errorf("queued hts = %q", items[0].HTSCode)
	}
}

func TestGateAdmitIndeterminateAnswer(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	// Verbatim quote, passing validator — but the reader answered
	// in_scope null. "Cannot determine" must never become a fact.
	in := f.goodInput()
	in.Reader.Answer.InScope = nil

	result, assertion, err := f.gate.Admit(ctx, in)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if result.Passed || assertion != nil {
		t.Fatalf("indeterminate answer admitted: %+v", result)
	}
	found := false
	for _, v := range result.Errors() {
		if v.Code == "ANSWER_INDETERMINATE" {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %+v, want ANSWER_INDETERMINATE", result.Violations)
	}

	got, err := f.assertions.Lookup(ctx, "section_301_note20", "8544429090", "",
		time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || got != nil {
		t.Errorf("assertion after indeterminate answer = %v, %v; want none", got, err)
	}
	items, err := f.review.List(ctx, ReviewPending, 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("review queue = %v, %v; want 1 item", items, err)
	}
	if items[0].BlockReason != "write_gate_failed" {
		t.Errorf("block reason = %q", items[0].BlockReason)
	}
}

func TestGateCheckViolations(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*GateInput)
		code   string
	}{
		{"no reader", func(in *GateInput) { in.Reader = nil }, "NO_READER_OUTPUT"},
		{"no citations", func(in *GateInput) { in.Reader.Citations = nil }, "NO_CITATIONS"},
		{"missing document", func(in *GateInput) {
			in.Reader.Citations[0].DocumentID = "no-such-doc"
		}, "DOCUMENT_NOT_FOUND"},
		{"missing chunk", func(in *GateInput) {
			in.Reader.Citations[0].ChunkID = "no-such-chunk"
		}, "CHUNK_NOT_FOUND"},
		{"validator refused", func(in *GateInput) {
			in.Validator = &ValidatorOutput{Verified: false}
		}, "VALIDATOR_NOT_VERIFIED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.goodInput()
			tt.mutate(&in)
			result, err := f.gate.Check(ctx, in)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if result.Passed {
				t.Fatal("gate passed")
			}
			found := false
			for _, v := range result.Errors() {
				if v.Code == tt.code {
					found = true
				}
			}
			if !found {
				t.Errorf("violations = %+v, want %s", result.Violations, tt.code)
			}
		})
	}
}

func TestGateCheckTierB(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	res, err := f.docs.Upsert(ctx, &docstore.Document{
		Source: "BLOG", Tier: docstore.TierB, CanonicalID: "post-1",
		SHA256Raw: "bbb", ExtractedText: f.chunkText,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := f.docs.ReplaceChunks(ctx, res.Document.ID, []docstore.Chunk{
		{ChunkIndex: 0, CharEnd: len(f.chunkText), Text: f.chunkText, TextHash: "h"},
	}); err != nil {
		t.Fatalf("chunks: %v", err)
	}
	chunks, err := f.docs.Chunks(ctx, res.Document.ID)
	if err != nil || len(chunks) != 1 {
		t.Fatalf("chunks: %v, %v", chunks, err)
	}

	in := f.goodInput()
	in.Reader.Citations[0].DocumentID = res.Document.ID
	in.Reader.Citations[0].ChunkID = chunks[0].ID

	result, err := f.gate.Check(ctx, in)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Passed {
		t.Fatal("tier B evidence passed the gate")
	}
	found := false
	for _, v := range result.Errors() {
		if v.Code == "NOT_TIER_A" {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %+v, want NOT_TIER_A", result.Violations)
	}
}

func TestGateFewSourcesWarning(t *testing.T) {
	f := newGateFixture(t)

	in := f.goodInput()
	in.MinDistinctSources = 2

	result, err := f.gate.Check(context.Background(), in)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	// One source against a threshold of two warns but still passes.
	if !result.Passed {
		t.Errorf("warning failed the gate: %+v", result)
	}
	found := false
	for _, v := range result.Violations {
		if v.Code == "FEW_SOURCES" && v.Severity == "warning" {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %+v, want FEW_SOURCES warning", result.Violations)
	}
}

func TestAssertionSupersession(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	mk := func(start time.Time, quote string) *VerifiedAssertion {
		return &VerifiedAssertion{
			ProgramID: "section_232_steel", HTSCodeNorm: "73269086", HTSDigits: 8,
			Material: "steel", Type: AssertionInScope,
			EffectiveStart: start, DocumentID: f.docID, ChunkID: f.chunkID,
			EvidenceQuote: quote, EvidenceQuoteHash: "h", VerifiedBy: "llm_consensus",
		}
	}
	first := mk(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), "older quote")
	if err := f.assertions.Insert(ctx, first); err != nil {
		t.Fatalf("insert first: %v", err)
	}
	second := mk(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), "newer quote")
	if err := f.assertions.Insert(ctx, second); err != nil {
		t.Fatalf("insert second: %v", err)
	}

	got, err := f.assertions.Lookup(ctx, "section_232_steel", "73269086", "steel",
		time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || got == nil || got.EvidenceQuote != "older quote" {
		t.Errorf("point-in-time lookup = %+v, %v", got, err)
	}
	got, err = f.assertions.Lookup(ctx, "section_232_steel", "73269086", "steel",
		time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || got == nil || got.EvidenceQuote != "newer quote" {
		t.Errorf("current lookup = %+v, %v", got, err)
	}

	n, err := f.assertions.Count(ctx)
	if err != nil || n != 2 {
		t.Errorf("count = %d, %v; want append-only 2", n, err)
	}
}

func TestReviewQueueLifecycle(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	low := &ReviewItem{HTSCode: "85444290", QueryType: "source_discovery",
		BlockReason: "no_evidence", Priority: 1}
	high := &ReviewItem{HTSCode: "73269086", QueryType: "scope_verification",
		BlockReason: "write_gate_failed", Priority: 9}
	for _, item := range []*ReviewItem{low, high} {
		if err := f.review.Enqueue(ctx, item); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	items, err := f.review.List(ctx, ReviewPending, 10)
	if err != nil || len(items) != 2 {
		t.Fatalf("list = %v, %v", items, err)
	}
	if items[0].ID != high.ID {
		t.Errorf("queue not priority-ordered: %+v", items)
	}

	if err := f.review.SetStatus(ctx, high.ID, ReviewResolved); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	n, err := f.review.PendingCount(ctx)
	if err != nil || n != 1 {
		t.Errorf("pending = %d, %v; want 1", n, err)
	}

	if err := f.review.SetStatus(ctx, "no-such-id", ReviewResolved); err != sql.ErrNoRows {
		t.Errorf("SetStatus missing id = %v, want sql.ErrNoRows", err)
	}
}
