package verify

import (
	"testing"

	"github.com/clearlane/tariffcore/pkg/docstore"
)

const validReaderJSON = `{
  "answer": {"in_scope": true, "program": "section_301_note20",
    "hts_code": "8544429090", "claim_codes": ["9903.88.03"],
    "disclaim_codes": [], "confidence": "high"},
  "citations": [{"document_id": "doc-1", "chunk_id": "chunk-1",
    "quote": "covered by heading 9903.88.03",
    "why_this_supports": "names the heading"}],
  "missing_info": [], "contradictions": []
}`

func TestDecodeReaderOutput(t *testing.T) {
	out := DecodeReaderOutput(validReaderJSON)
	if !out.Ok() {
		t.Fatalf("decode failed: %s", out.Err)
	}
	if out.Output.Answer.InScope == nil || !*out.Output.Answer.InScope {
		t.Errorf("InScope = %v", out.Output.Answer.InScope)
	}
	if len(out.Output.Citations) != 1 || out.Output.Citations[0].ChunkID != "chunk-1" {
		t.Errorf("citations = %+v", out.Output.Citations)
	}
}

func TestDecodeReaderOutputWrapped(t *testing.T) {
	// Models wrap JSON in prose and fences; decoding is permissive.
	wrapped := "Here is my analysis:\n```json\n" + validReaderJSON + "\n```\nLet me know."
	out := DecodeReaderOutput(wrapped)
	if !out.Ok() {
		t.Fatalf("decode of wrapped JSON failed: %s", out.Err)
	}
	if out.Output.Answer.HTSCode != "8544429090" {
		t.Errorf("HTSCode = %q", out.Output.Answer.HTSCode)
	}
}

func TestDecodeReaderOutputNullInScope(t *testing.T) {
	out := DecodeReaderOutput(`{
	  "answer": {"in_scope": null, "program": "p", "hts_code": "8544429090",
	    "confidence": "low"},
	  "citations": [], "missing_info": ["no coverage text found"]
	}`)
	if !out.Ok() {
		t.Fatalf("decode failed: %s", out.Err)
	}
	if out.Output.Answer.InScope != nil {
		t.Errorf("InScope = %v, want nil", out.Output.Answer.InScope)
	}
	if len(out.Output.MissingInfo) != 1 {
		t.Errorf("MissingInfo = %v", out.Output.MissingInfo)
	}
}

func TestDecodeReaderOutputFailures(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"no json", "I cannot determine the answer."},
		{"unbalanced", `{"answer": {"program": "p"`},
		{"schema: missing citations", `{"answer": {"program": "p", "hts_code": "x"}}`},
		{"schema: bad confidence", `{
		  "answer": {"program": "p", "hts_code": "x", "confidence": "certain"},
		  "citations": []}`},
		{"schema: citation missing quote", `{
		  "answer": {"program": "p", "hts_code": "x"},
		  "citations": [{"document_id": "d", "chunk_id": "c"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := DecodeReaderOutput(tt.in)
			if out.Ok() {
				t.Errorf("decode accepted %q", tt.in)
			}
			if out.Err == "" {
				t.Error("failure carries no message")
			}
		})
	}
}

func TestOutermostObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a": 1}`, `{"a": 1}`, true},
		{`noise {"a": {"b": 2}} trailing`, `{"a": {"b": 2}}`, true},
		{`{"s": "brace } in string"}`, `{"s": "brace } in string"}`, true},
		{`{"s": "escaped \" quote }"}`, `{"s": "escaped \" quote }"}`, true},
		{`no object here`, ``, false},
		{`{"never": "closed"`, ``, false},
	}
	for _, tt := range tests {
		got, ok := outermostObject(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("outermostObject(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestQuickValidate(t *testing.T) {
	chunks := []docstore.Chunk{
		{ID: "c1", DocumentID: "d1", Text: "Articles are covered by heading 9903.88.03 effective May 10."},
		{ID: "c2", DocumentID: "d2", Text: "Another excerpt entirely."},
	}
	inScope := true

	base := func() *ReaderOutput {
		return &ReaderOutput{
			Answer: Answer{InScope: &inScope, Program: "p", HTSCode: "8544429090"},
			Citations: []Citation{{
				DocumentID: "d1", ChunkID: "c1",
				Quote: "covered by heading 9903.88.03",
			}},
		}
	}

	t.Run("verbatim passes", func(t *testing.T) {
		out := QuickValidate(base(), chunks)
		if !out.Verified || len(out.Failures) != 0 {
			t.Errorf("out = %+v", out)
		}
	})

	t.Run("paraphrase fails", func(t *testing.T) {
		r := base()
		r.Citations[0].Quote = "covered by the 9903.88.03 heading"
		out := QuickValidate(r, chunks)
		if out.Verified {
			t.Error("paraphrased quote verified")
		}
	})

	t.Run("wrong document fails", func(t *testing.T) {
		r := base()
		r.Citations[0].DocumentID = "d2" // chunk c1 belongs to d1
		out := QuickValidate(r, chunks)
		if out.Verified {
			t.Error("mismatched document verified")
		}
	})

	t.Run("unknown chunk fails", func(t *testing.T) {
		r := base()
		r.Citations[0].ChunkID = "c99"
		out := QuickValidate(r, chunks)
		if out.Verified {
			t.Error("unknown chunk verified")
		}
	})

	t.Run("in scope without citations fails", func(t *testing.T) {
		r := base()
		r.Citations = nil
		out := QuickValidate(r, chunks)
		if out.Verified {
			t.Error("uncited in-scope answer verified")
		}
	})

	t.Run("null answer without citations passes", func(t *testing.T) {
		r := base()
		r.Answer.InScope = nil
		r.Citations = nil
		out := QuickValidate(r, chunks)
		if !out.Verified {
			t.Errorf("insufficient-evidence answer failed: %+v", out)
		}
	})
}
