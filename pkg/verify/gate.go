package verify

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clearlane/tariffcore/pkg/docstore"
	"github.com/clearlane/tariffcore/pkg/sqldb"
)

// GateViolation is one failed or warned mechanical check.
type GateViolation struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // "error" or "warning"
}

// GateResult is the gate's full outcome. Errors fail the gate; warnings
// do not.
type GateResult struct {
	Passed      bool            `json:"passed"`
	Violations  []GateViolation `json:"violations,omitempty"`
	AssertionID string          `json:"assertion_id,omitempty"`
	CheckedAt   time.Time       `json:"checked_at"`
}

// Errors returns only the error-severity violations.
func (r GateResult) Errors() []GateViolation {
	var out []GateViolation
	for _, v := range r.Violations {
		if v.Severity == "error" {
			out = append(out, v)
		}
	}
	return out
}

// GateInput bundles everything the gate inspects.
type GateInput struct {
	Question           Question
	Reader             *ReaderOutput
	ReaderRaw          string
	Validator          *ValidatorOutput
	ValidatorRaw       string
	EffectiveStart     time.Time
	VerifiedBy         string
	MinDistinctSources int // warning threshold; 0 disables
}

// WriteGate is the purely mechanical admission filter between unverified
// model output and the truth store. It holds no locks: all checks run
// read-only, and the assertion write shares one transaction with the
// SCD-2 closure.
type WriteGate struct {
	docs       *docstore.Store
	assertions *AssertionStore
	review     *ReviewStore
	db         *sqldb.DB
	logger     *slog.Logger
}

// NewWriteGate wires the gate over its stores.
func NewWriteGate(db *sqldb.DB, docs *docstore.Store, assertions *AssertionStore, review *ReviewStore) *WriteGate {
	return &WriteGate{
		docs:       docs,
		assertions: assertions,
		review:     review,
		db:         db,
		logger:     slog.Default().With("component", "write-gate"),
	}
}

// Check runs the mechanical checks without writing anything.
func (g *WriteGate) Check(ctx context.Context, in GateInput) (GateResult, error) {
	result := GateResult{CheckedAt: time.Now().UTC()}
	addErr := func(code, msg string) {
		result.Violations = append(result.Violations, GateViolation{Code: code, Message: msg, Severity: "error"})
	}
	addWarn := func(code, msg string) {
		result.Violations = append(result.Violations, GateViolation{Code: code, Message: msg, Severity: "warning"})
	}

	if in.Reader == nil {
		addErr("NO_READER_OUTPUT", "reader output is missing")
		return result, nil
	}
	if len(in.Reader.Citations) == 0 {
		addErr("NO_CITATIONS", "at least one citation is required")
	}

	distinctDocs := make(map[string]struct{})
	for i, c := range in.Reader.Citations {
		doc, err := g.docs.Get(ctx, c.DocumentID)
		if err != nil {
			return result, fmt.Errorf("gate: document check: %w", err)
		}
		if doc == nil {
			addErr("DOCUMENT_NOT_FOUND", fmt.Sprintf("citation %d: document %s not found", i, c.DocumentID))
			continue
		}
		if doc.Tier != docstore.TierA {
			addErr("NOT_TIER_A", fmt.Sprintf("citation %d: document %s is tier %s", i, c.DocumentID, doc.Tier))
		}
		chunk, err := g.docs.GetChunk(ctx, c.ChunkID)
		if err != nil {
			return result, fmt.Errorf("gate: chunk check: %w", err)
		}
		if chunk == nil {
			addErr("CHUNK_NOT_FOUND", fmt.Sprintf("citation %d: chunk %s not found", i, c.ChunkID))
			continue
		}
		if chunk.DocumentID != c.DocumentID {
			addErr("CHUNK_DOCUMENT_MISMATCH",
				fmt.Sprintf("citation %d: chunk %s belongs to %s", i, c.ChunkID, chunk.DocumentID))
			continue
		}
		if !strings.Contains(chunk.Text, c.Quote) {
			addErr("QUOTE_NOT_VERBATIM",
				fmt.Sprintf("citation %d: quote is not a verbatim substring of chunk %s", i, c.ChunkID))
			continue
		}
		distinctDocs[c.DocumentID] = struct{}{}
	}

	if in.Validator == nil || !in.Validator.Verified {
		addErr("VALIDATOR_NOT_VERIFIED", "validator did not verify the reader output")
	}

	// A null answer means the evidence supported neither conclusion.
	// That is a question for a human, never a verified fact.
	if in.Reader.Answer.InScope == nil {
		addErr("ANSWER_INDETERMINATE", "reader could not determine scope from the evidence")
	}

	if in.MinDistinctSources > 0 && len(distinctDocs) < in.MinDistinctSources {
		addWarn("FEW_SOURCES", fmt.Sprintf(
			"citations span %d documents, want %d", len(distinctDocs), in.MinDistinctSources))
	}

	result.Passed = len(result.Errors()) == 0
	return result, nil
}

// Admit runs the checks and then either persists the verified assertion
// (SCD-2 closure and insert in one transaction) or records the attempt in
// the review queue. The returned GateResult reports which path was taken.
func (g *WriteGate) Admit(ctx context.Context, in GateInput) (GateResult, *VerifiedAssertion, error) {
	result, err := g.Check(ctx, in)
	if err != nil {
		return result, nil, err
	}

	if !result.Passed {
		details := make([]string, 0, len(result.Violations))
		for _, v := range result.Errors() {
			details = append(details, v.Code+": "+v.Message)
		}
		item := &ReviewItem{
			HTSCode:         in.Question.HTSCode,
			QueryType:       "scope_verification",
			Material:        in.Question.Material,
			ReaderOutput:    in.ReaderRaw,
			ValidatorOutput: in.ValidatorRaw,
			BlockReason:     "write_gate_failed",
			BlockDetails:    strings.Join(details, "; "),
		}
		if err := g.review.Enqueue(ctx, item); err != nil {
			return result, nil, err
		}
		g.logger.Warn("write gate rejected assertion",
			"hts", in.Question.HTSCode, "program", in.Question.ProgramID,
			"errors", len(result.Errors()))
		return result, nil, nil
	}

	primary := in.Reader.Citations[0]
	quoteSum := sha256.Sum256([]byte(primary.Quote))

	atype := AssertionOutOfScope
	if *in.Reader.Answer.InScope {
		atype = AssertionInScope
	}
	claim, disclaim := "", ""
	if len(in.Reader.Answer.ClaimCodes) > 0 {
		claim = in.Reader.Answer.ClaimCodes[0]
	}
	if len(in.Reader.Answer.DisclaimCodes) > 0 {
		disclaim = in.Reader.Answer.DisclaimCodes[0]
	}

	assertion := &VerifiedAssertion{
		ProgramID:         in.Question.ProgramID,
		HTSCodeNorm:       in.Question.HTSCode,
		HTSDigits:         len(in.Question.HTSCode),
		Material:          in.Question.Material,
		Type:              atype,
		ClaimCode:         claim,
		DisclaimCode:      disclaim,
		EffectiveStart:    in.EffectiveStart,
		DocumentID:        primary.DocumentID,
		ChunkID:           primary.ChunkID,
		EvidenceQuote:     primary.Quote,
		EvidenceQuoteHash: hex.EncodeToString(quoteSum[:]),
		ReaderOutput:      in.ReaderRaw,
		ValidatorOutput:   in.ValidatorRaw,
		VerifiedBy:        in.VerifiedBy,
	}

	err = g.db.WithTx(ctx, func(tx *sql.Tx) error {
		return g.assertions.insertTx(ctx, tx, assertion)
	})
	if err != nil {
		return result, nil, err
	}
	result.AssertionID = assertion.ID
	g.logger.Info("assertion admitted",
		"hts", in.Question.HTSCode, "program", in.Question.ProgramID, "id", assertion.ID)
	return result, assertion, nil
}
