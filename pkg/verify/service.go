package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clearlane/tariffcore/pkg/docstore"
	"github.com/clearlane/tariffcore/pkg/hts"
	"github.com/clearlane/tariffcore/pkg/llm"
)

// ServiceOptions tune the scope verification flow.
type ServiceOptions struct {
	ChunkLimit         int // chunks fed to the Reader, default 8
	MinDistinctSources int // gate warning threshold, 0 disables
	DiscoveryPriority  int // queue priority for discovery_needed items
	VerifiedBy         string
}

// Service answers scope questions: verified cache first, then the
// Reader/Validator/Write-Gate pipeline over Tier-A evidence. The gate is
// the only writer to the truth store; the service never caches an
// unverified answer.
type Service struct {
	docs       *docstore.Store
	assertions *AssertionStore
	review     *ReviewStore
	gate       *WriteGate
	reader     *Reader
	validator  *Validator
	opts       ServiceOptions
	logger     *slog.Logger
}

// NewService wires the pipeline over its stores and LLM clients. Reader
// and Validator take separate clients so they can run different models;
// a nil validatorClient falls back to the reader's.
func NewService(docs *docstore.Store, assertions *AssertionStore, review *ReviewStore, gate *WriteGate, readerClient, validatorClient llm.Client, opts ServiceOptions) *Service {
	if opts.ChunkLimit <= 0 {
		opts.ChunkLimit = 8
	}
	if opts.VerifiedBy == "" {
		opts.VerifiedBy = "llm_consensus"
	}
	if validatorClient == nil {
		validatorClient = readerClient
	}
	return &Service{
		docs:       docs,
		assertions: assertions,
		review:     review,
		gate:       gate,
		reader:     NewReader(readerClient),
		validator:  NewValidator(validatorClient),
		opts:       opts,
		logger:     slog.Default().With("component", "verify-service"),
	}
}

func fromAssertion(a *VerifiedAssertion, source RAGSource) *RAGResult {
	res := &RAGResult{
		Source:        source,
		IsVerified:    true,
		EvidenceQuote: a.EvidenceQuote,
		DocumentID:    a.DocumentID,
		ChunkID:       a.ChunkID,
		AssertionID:   a.ID,
		Confidence:    ConfidenceHigh,
	}
	inScope := a.Type == AssertionInScope
	res.InScope = &inScope
	if a.ClaimCode != "" {
		res.ClaimCodes = []string{a.ClaimCode}
	}
	if a.DisclaimCode != "" {
		res.DisclaimCodes = []string{a.DisclaimCode}
	}
	return res
}

// VerifyScope resolves one scope question as of a date. The result's
// Source field says how: verified_cache on a truth-store hit,
// rag_verified when the pipeline admitted a new assertion, rag_pending
// when evidence existed but the pipeline blocked, and discovery_needed
// when no Tier-A evidence mentions the code at all.
func (s *Service) VerifyScope(ctx context.Context, q Question, asOf time.Time) (*RAGResult, error) {
	// Normalize first: the cache key and every persisted row carry the
	// digits-only form, whatever shape the caller passed.
	code, err := hts.Normalize(q.HTSCode)
	if err != nil {
		return nil, fmt.Errorf("verify: bad hts code %q: %w", q.HTSCode, err)
	}
	q.HTSCode = code.Value

	if cached, err := s.assertions.Lookup(ctx, q.ProgramID, code.Value, q.Material, asOf); err != nil {
		return nil, err
	} else if cached != nil {
		return fromAssertion(cached, SourceVerifiedCache), nil
	}

	chunks, err := s.docs.ChunksMentioning(ctx, code.Dotted(), code.Value, s.opts.ChunkLimit)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		item := &ReviewItem{
			HTSCode:      q.HTSCode,
			QueryType:    "scope_verification",
			Material:     q.Material,
			BlockReason:  "no_evidence",
			BlockDetails: fmt.Sprintf("no tier-A chunks mention %s for %s", code.Dotted(), q.ProgramID),
			Priority:     s.opts.DiscoveryPriority,
		}
		if err := s.review.Enqueue(ctx, item); err != nil {
			return nil, err
		}
		s.logger.Info("discovery needed", "hts", q.HTSCode, "program", q.ProgramID)
		return &RAGResult{Source: SourceDiscoveryNeeded}, nil
	}

	outcome := s.reader.Ask(ctx, q, chunks)
	if !outcome.Ok() {
		item := &ReviewItem{
			HTSCode:      q.HTSCode,
			QueryType:    "scope_verification",
			Material:     q.Material,
			ReaderOutput: outcome.RawText,
			BlockReason:  "reader_failed",
			BlockDetails: outcome.Err,
		}
		if err := s.review.Enqueue(ctx, item); err != nil {
			return nil, err
		}
		return &RAGResult{Source: SourceRAGPending}, nil
	}
	reader := outcome.Output

	// Mechanical checks are free; a quote that is not verbatim never
	// reaches the Validator call.
	if quick := QuickValidate(reader, chunks); !quick.Verified {
		item := &ReviewItem{
			HTSCode:      q.HTSCode,
			QueryType:    "scope_verification",
			Material:     q.Material,
			ReaderOutput: outcome.RawText,
			BlockReason:  "quick_validate_failed",
			BlockDetails: failureSummary(quick.Failures),
		}
		if err := s.review.Enqueue(ctx, item); err != nil {
			return nil, err
		}
		return &RAGResult{Source: SourceRAGPending}, nil
	}

	validator, validatorRaw, err := s.validator.Validate(ctx, reader, chunks)
	if err != nil {
		item := &ReviewItem{
			HTSCode:      q.HTSCode,
			QueryType:    "scope_verification",
			Material:     q.Material,
			ReaderOutput: outcome.RawText,
			BlockReason:  "validator_failed",
			BlockDetails: err.Error(),
		}
		if enqErr := s.review.Enqueue(ctx, item); enqErr != nil {
			return nil, enqErr
		}
		return &RAGResult{Source: SourceRAGPending}, nil
	}

	gateResult, assertion, err := s.gate.Admit(ctx, GateInput{
		Question:           q,
		Reader:             reader,
		ReaderRaw:          outcome.RawText,
		Validator:          validator,
		ValidatorRaw:       validatorRaw,
		EffectiveStart:     asOf,
		VerifiedBy:         s.opts.VerifiedBy,
		MinDistinctSources: s.opts.MinDistinctSources,
	})
	if err != nil {
		return nil, err
	}
	if !gateResult.Passed {
		// Admit already queued the attempt.
		return &RAGResult{Source: SourceRAGPending}, nil
	}

	res := fromAssertion(assertion, SourceRAGVerified)
	res.Confidence = reader.Answer.Confidence
	res.InScope = reader.Answer.InScope
	res.ClaimCodes = reader.Answer.ClaimCodes
	res.DisclaimCodes = reader.Answer.DisclaimCodes
	return res, nil
}

func failureSummary(failures []ValidationFailure) string {
	if len(failures) == 0 {
		return ""
	}
	out := ""
	for i, f := range failures {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("citation %d: %s", f.CitationIndex, f.Reason)
	}
	return out
}
