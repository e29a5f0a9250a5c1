// Package verify is the evidence pipeline between raw documents and the
// verified truth store: an LLM Reader proposes a structured scope answer,
// an independent LLM Validator cross-checks it, and a purely mechanical
// Write Gate decides admission. Nothing in this package estimates; a fact
// without a verbatim Tier-A quote never reaches the truth store.
package verify

import (
	"time"
)

// Question is one scope query: is this HTS in scope for this program
// (optionally for a specific material)?
type Question struct {
	ProgramID string
	HTSCode   string // normalized digits
	Material  string // optional
}

// Confidence levels reported by Reader and Validator.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Citation is one evidence reference in a Reader answer.
type Citation struct {
	DocumentID      string `json:"document_id"`
	ChunkID         string `json:"chunk_id"`
	Quote           string `json:"quote"`
	WhyThisSupports string `json:"why_this_supports"`
}

// Answer is the Reader's structured conclusion. InScope is nil when the
// provided chunks support neither conclusion; that is the required
// answer, not a failure.
type Answer struct {
	InScope       *bool    `json:"in_scope"`
	Program       string   `json:"program"`
	HTSCode       string   `json:"hts_code"`
	ClaimCodes    []string `json:"claim_codes"`
	DisclaimCodes []string `json:"disclaim_codes"`
	Confidence    string   `json:"confidence"`
}

// ReaderOutput is the full decoded Reader payload.
type ReaderOutput struct {
	Answer         Answer     `json:"answer"`
	Citations      []Citation `json:"citations"`
	MissingInfo    []string   `json:"missing_info"`
	Contradictions []string   `json:"contradictions"`
}

// ReaderOutcome is the closed sum of a Reader call: either a decoded,
// schema-valid output or a failure carrying the raw text. Permissive JSON
// extraction is a parser that yields this sum, not an exception path.
type ReaderOutcome struct {
	Output  *ReaderOutput // nil on failure
	Err     string
	RawText string
}

// Ok reports whether the outcome carries a usable output.
func (o ReaderOutcome) Ok() bool { return o.Output != nil }

// ValidationFailure is one problem the Validator found with a citation.
type ValidationFailure struct {
	CitationIndex int    `json:"citation_index"`
	Reason        string `json:"reason"`
	Severity      string `json:"severity"`
}

// ValidatorOutput is the Validator's verdict over (reader output, chunks).
type ValidatorOutput struct {
	Verified      bool                `json:"verified"`
	Failures      []ValidationFailure `json:"failures"`
	RequiredFixes []string            `json:"required_fixes"`
	Confidence    string              `json:"confidence"`
}

// AssertionType classifies a verified fact.
type AssertionType string

const (
	AssertionInScope    AssertionType = "IN_SCOPE"
	AssertionOutOfScope AssertionType = "OUT_OF_SCOPE"
	AssertionRate       AssertionType = "RATE"
)

// VerifiedAssertion is one row of the truth store. Append-only SCD-2;
// the referenced document is always Tier A and EvidenceQuote is always a
// verbatim substring of the referenced chunk.
type VerifiedAssertion struct {
	ID                string
	ProgramID         string
	HTSCodeNorm       string
	HTSDigits         int
	Material          string
	Type              AssertionType
	ClaimCode         string
	DisclaimCode      string
	DutyRate          *float64
	EffectiveStart    time.Time
	EffectiveEnd      *time.Time
	DocumentID        string
	ChunkID           string
	EvidenceQuote     string
	EvidenceQuoteHash string
	ReaderOutput      string // raw JSON, for audit
	ValidatorOutput   string // raw JSON, for audit
	VerifiedAt        time.Time
	VerifiedBy        string
}

// ReviewStatus is the lifecycle of a review-queue row.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewResolved  ReviewStatus = "resolved"
	ReviewDismissed ReviewStatus = "dismissed"
)

// ReviewItem is one failed verification awaiting human action.
type ReviewItem struct {
	ID              string
	HTSCode         string
	QueryType       string
	Material        string
	ReaderOutput    string
	ValidatorOutput string
	BlockReason     string
	BlockDetails    string
	Status          ReviewStatus
	Priority        int
	CreatedAt       time.Time
}

// RAGSource says where a scope verification answer came from.
type RAGSource string

const (
	SourceVerifiedCache   RAGSource = "verified_cache"
	SourceRAGVerified     RAGSource = "rag_verified"
	SourceRAGPending      RAGSource = "rag_pending"
	SourceDiscoveryNeeded RAGSource = "discovery_needed"
)

// RAGResult is the scope verification query response.
type RAGResult struct {
	Source        RAGSource
	IsVerified    bool
	InScope       *bool
	ClaimCodes    []string
	DisclaimCodes []string
	EvidenceQuote string
	DocumentID    string
	ChunkID       string
	AssertionID   string
	Confidence    string
}
