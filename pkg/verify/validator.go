package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clearlane/tariffcore/pkg/docstore"
	"github.com/clearlane/tariffcore/pkg/llm"
)

// validatorSystemPrompt is deliberately phrased differently from the
// Reader's prompt; the two calls sharing a failure mode is the thing this
// design exists to avoid.
const validatorSystemPrompt = `You are an auditor checking another analyst's work. You are given the
analyst's JSON answer and the same document excerpts the analyst saw.
Your job is to find problems, not to answer the question yourself.

Check every citation: does the quote appear verbatim in the named chunk,
and does it actually support the stated conclusion? Check that an
in-scope conclusion has at least one supporting citation.

Respond with a single JSON object:
{"verified": true|false,
 "failures": [{"citation_index": 0, "reason": "...", "severity": "error"|"warning"}],
 "required_fixes": [], "confidence": "high"|"medium"|"low"}`

// Validator independently cross-checks a Reader output. It runs at zero
// temperature.
type Validator struct {
	client llm.Client
}

// NewValidator creates a Validator over an injected client.
func NewValidator(client llm.Client) *Validator {
	return &Validator{client: client}
}

// Validate issues the Validator call over (reader output, chunks).
func (v *Validator) Validate(ctx context.Context, reader *ReaderOutput, chunks []docstore.Chunk) (*ValidatorOutput, string, error) {
	readerJSON, err := json.Marshal(reader)
	if err != nil {
		return nil, "", fmt.Errorf("validator: marshal reader output: %w", err)
	}

	messages := []llm.Message{
		{Role: "system", Content: validatorSystemPrompt},
		{Role: "user", Content: "Analyst answer:\n" + string(readerJSON) +
			"\n\nExcerpts:\n\n" + packChunks(chunks)},
	}
	resp, err := v.client.Chat(ctx, messages, &llm.SamplingOptions{Temperature: 0})
	if err != nil {
		return nil, "", fmt.Errorf("validator: call: %w", err)
	}

	raw, ok := outermostObject(resp.Content)
	if !ok {
		return nil, resp.Content, fmt.Errorf("validator: no JSON object in response")
	}
	var out ValidatorOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, resp.Content, fmt.Errorf("validator: decode: %w", err)
	}
	return &out, raw, nil
}

// QuickValidate is the mechanical fast path: per citation, the document
// and chunk references must be present, the quote must occur verbatim in
// the referenced chunk, and an in-scope answer must cite something. It
// needs no model call and runs before the Validator.
func QuickValidate(reader *ReaderOutput, chunks []docstore.Chunk) *ValidatorOutput {
	byID := make(map[string]docstore.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	out := &ValidatorOutput{Verified: true, Confidence: ConfidenceHigh}
	fail := func(i int, reason string) {
		out.Verified = false
		out.Failures = append(out.Failures, ValidationFailure{
			CitationIndex: i,
			Reason:        reason,
			Severity:      "error",
		})
	}

	for i, c := range reader.Citations {
		switch {
		case c.DocumentID == "":
			fail(i, "missing document_id")
		case c.ChunkID == "":
			fail(i, "missing chunk_id")
		case c.Quote == "":
			fail(i, "missing quote")
		default:
			chunk, ok := byID[c.ChunkID]
			if !ok {
				fail(i, "chunk not in provided set")
				continue
			}
			if chunk.DocumentID != c.DocumentID {
				fail(i, "chunk does not belong to cited document")
				continue
			}
			if !strings.Contains(chunk.Text, c.Quote) {
				fail(i, "quote is not a verbatim substring of the chunk")
			}
		}
	}

	if reader.Answer.InScope != nil && *reader.Answer.InScope && len(reader.Citations) == 0 {
		fail(-1, "in_scope=true requires at least one citation")
	}
	return out
}
