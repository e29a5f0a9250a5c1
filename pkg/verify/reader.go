package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/clearlane/tariffcore/pkg/docstore"
	"github.com/clearlane/tariffcore/pkg/llm"
)

// readerSchema constrains the decoded Reader payload at the boundary.
// Decoding is permissive; admission is not.
const readerSchema = `{
  "type": "object",
  "required": ["answer", "citations"],
  "properties": {
    "answer": {
      "type": "object",
      "required": ["program", "hts_code"],
      "properties": {
        "in_scope": {"type": ["boolean", "null"]},
        "program": {"type": "string"},
        "hts_code": {"type": "string"},
        "claim_codes": {"type": "array", "items": {"type": "string"}},
        "disclaim_codes": {"type": "array", "items": {"type": "string"}},
        "confidence": {"enum": ["high", "medium", "low"]}
      }
    },
    "citations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["document_id", "chunk_id", "quote"],
        "properties": {
          "document_id": {"type": "string"},
          "chunk_id": {"type": "string"},
          "quote": {"type": "string"},
          "why_this_supports": {"type": "string"}
        }
      }
    },
    "missing_info": {"type": "array", "items": {"type": "string"}},
    "contradictions": {"type": "array", "items": {"type": "string"}}
  }
}`

var compiledReaderSchema = jsonschema.MustCompileString("reader.json", readerSchema)

const readerSystemPrompt = `You are a trade-compliance analyst. You answer scope questions about
U.S. tariff programs using ONLY the document excerpts provided. Respond
with a single JSON object:

{"answer": {"in_scope": true|false|null, "program": "...", "hts_code": "...",
  "claim_codes": [], "disclaim_codes": [], "confidence": "high"|"medium"|"low"},
 "citations": [{"document_id": "...", "chunk_id": "...", "quote": "...",
  "why_this_supports": "..."}],
 "missing_info": [], "contradictions": []}

Rules:
- Quotes must be copied verbatim from the excerpts, character for character.
- If the excerpts support neither conclusion, answer in_scope null and say
  what is missing in missing_info.
- Never invent chapter-99 codes; only report codes that appear in the text.`

// Reader asks the scope question against a packed chunk set and returns
// the decoded outcome. It runs at low temperature.
type Reader struct {
	client llm.Client
}

// NewReader creates a Reader over an injected client.
func NewReader(client llm.Client) *Reader {
	return &Reader{client: client}
}

func packChunks(chunks []docstore.Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "--- document_id=%s chunk_id=%s ---\n%s\n\n", c.DocumentID, c.ID, c.Text)
	}
	return b.String()
}

func questionText(q Question) string {
	if q.Material != "" {
		return fmt.Sprintf("Is HTS %s in scope for program %s with respect to %s content?",
			q.HTSCode, q.ProgramID, q.Material)
	}
	return fmt.Sprintf("Is HTS %s in scope for program %s?", q.HTSCode, q.ProgramID)
}

// Ask issues the Reader call. Transport errors surface as failures in the
// outcome sum, never as panics; callers treat them like undecodable text.
func (r *Reader) Ask(ctx context.Context, q Question, chunks []docstore.Chunk) ReaderOutcome {
	messages := []llm.Message{
		{Role: "system", Content: readerSystemPrompt},
		{Role: "user", Content: questionText(q) + "\n\nExcerpts:\n\n" + packChunks(chunks)},
	}
	resp, err := r.client.Chat(ctx, messages, &llm.SamplingOptions{Temperature: 0.1})
	if err != nil {
		return ReaderOutcome{Err: fmt.Sprintf("reader call: %v", err)}
	}
	return DecodeReaderOutput(resp.Content)
}

// DecodeReaderOutput permissively locates the outermost JSON object in
// the model text, decodes it and validates it against the reader schema.
func DecodeReaderOutput(text string) ReaderOutcome {
	raw, ok := outermostObject(text)
	if !ok {
		return ReaderOutcome{Err: "no JSON object in reader response", RawText: text}
	}

	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return ReaderOutcome{Err: fmt.Sprintf("reader JSON: %v", err), RawText: text}
	}
	if err := compiledReaderSchema.Validate(payload); err != nil {
		return ReaderOutcome{Err: fmt.Sprintf("reader schema: %v", err), RawText: text}
	}

	var out ReaderOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return ReaderOutcome{Err: fmt.Sprintf("reader decode: %v", err), RawText: text}
	}
	return ReaderOutcome{Output: &out, RawText: raw}
}

// outermostObject returns the substring from the first '{' to its
// balanced closing brace, skipping braces inside JSON strings.
func outermostObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
