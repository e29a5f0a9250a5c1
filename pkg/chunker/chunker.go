// Package chunker splits extracted document text into position-tracked
// chunks. Every emitted chunk records where it sits in the original text
// so downstream proof checks can verify quotes verbatim.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Strategy selects the initial split.
type Strategy string

const (
	StrategyParagraph Strategy = "paragraph"
	StrategySentence  Strategy = "sentence"
	StrategyFixed     Strategy = "fixed"
)

// Options configure the chunking pipeline.
type Options struct {
	Strategy     Strategy
	MinChunkSize int // merge neighbours below this
	MaxChunkSize int // split chunks above this
	Overlap      int // sliding-window overlap for hard splits
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Strategy:     StrategyParagraph,
		MinChunkSize: 200,
		MaxChunkSize: 1200,
		Overlap:      50,
	}
}

// Chunk is one emitted span.
type Chunk struct {
	Index     int
	CharStart int
	CharEnd   int
	Text      string
	TextHash  string
	Metadata  Metadata
}

// Metadata records how the chunk was produced.
type Metadata struct {
	Strategy       Strategy `json:"strategy"`
	OriginalLength int      `json:"original_length"`
	ChunkLength    int      `json:"chunk_length"`
}

var (
	paragraphSplit = regexp.MustCompile(`\n{2,}`)
	sentenceSplit  = regexp.MustCompile(`[.!?]\s+[A-Z]`)
)

// Split runs the full pipeline: initial split by strategy, merge
// undersized neighbours, split oversized chunks, then recover each
// chunk's (char_start, char_end) in the original text.
func Split(text string, opts Options) ([]Chunk, error) {
	if opts.MinChunkSize <= 0 || opts.MaxChunkSize <= 0 {
		d := DefaultOptions()
		if opts.MinChunkSize <= 0 {
			opts.MinChunkSize = d.MinChunkSize
		}
		if opts.MaxChunkSize <= 0 {
			opts.MaxChunkSize = d.MaxChunkSize
		}
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyParagraph
	}
	if opts.MinChunkSize >= opts.MaxChunkSize {
		return nil, fmt.Errorf("chunker: min %d must be below max %d", opts.MinChunkSize, opts.MaxChunkSize)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	parts := initialSplit(text, opts)
	parts = mergeUndersized(parts, opts.MinChunkSize)
	parts = splitOversized(parts, opts)

	chunks := make([]Chunk, 0, len(parts))
	cursor := 0
	for i, p := range parts {
		start, end := locate(text, p, cursor)
		cursor = end
		sum := sha256.Sum256([]byte(p))
		chunks = append(chunks, Chunk{
			Index:     i,
			CharStart: start,
			CharEnd:   end,
			Text:      p,
			TextHash:  hex.EncodeToString(sum[:]),
			Metadata: Metadata{
				Strategy:       opts.Strategy,
				OriginalLength: len(text),
				ChunkLength:    len(p),
			},
		})
	}
	return chunks, nil
}

func initialSplit(text string, opts Options) []string {
	switch opts.Strategy {
	case StrategySentence:
		return splitSentences(text)
	case StrategyFixed:
		return windowed(text, opts.MaxChunkSize, opts.Overlap)
	default:
		var out []string
		for _, p := range paragraphSplit.Split(text, -1) {
			if t := strings.TrimSpace(p); t != "" {
				out = append(out, t)
			}
		}
		return out
	}
}

// splitSentences splits on terminal punctuation followed by whitespace
// and a capital, keeping the punctuation with the left sentence.
func splitSentences(text string) []string {
	var out []string
	rest := text
	for {
		loc := sentenceSplit.FindStringIndex(rest)
		if loc == nil {
			break
		}
		// loc[0] points at the punctuation; the capital starts the next
		// sentence, so cut just after the punctuation.
		cut := loc[0] + 1
		if s := strings.TrimSpace(rest[:cut]); s != "" {
			out = append(out, s)
		}
		rest = rest[loc[1]-1:]
	}
	if s := strings.TrimSpace(rest); s != "" {
		out = append(out, s)
	}
	return out
}

// windowed hard-splits text into max-sized windows with overlap.
func windowed(text string, max, overlap int) []string {
	if overlap >= max {
		overlap = max / 4
	}
	var out []string
	step := max - overlap
	for start := 0; start < len(text); start += step {
		end := start + max
		if end >= len(text) {
			out = append(out, text[start:])
			break
		}
		out = append(out, text[start:end])
	}
	return out
}

// mergeUndersized joins neighbours until each part reaches the minimum.
// A trailing runt merges backward into the previous part.
func mergeUndersized(parts []string, minSize int) []string {
	var out []string
	var pending string
	for _, p := range parts {
		if pending == "" {
			pending = p
		} else {
			pending = pending + "\n\n" + p
		}
		if len(pending) >= minSize {
			out = append(out, pending)
			pending = ""
		}
	}
	if pending != "" {
		if len(out) > 0 && len(pending) < minSize {
			out[len(out)-1] = out[len(out)-1] + "\n\n" + pending
		} else {
			out = append(out, pending)
		}
	}
	return out
}

// splitOversized breaks parts above the maximum by sentence; a single
// sentence that is itself oversize falls back to a sliding window.
func splitOversized(parts []string, opts Options) []string {
	var out []string
	for _, p := range parts {
		if len(p) <= opts.MaxChunkSize {
			out = append(out, p)
			continue
		}
		var current string
		flush := func() {
			if strings.TrimSpace(current) != "" {
				out = append(out, current)
			}
			current = ""
		}
		for _, sent := range splitSentences(p) {
			if len(sent) > opts.MaxChunkSize {
				flush()
				out = append(out, windowed(sent, opts.MaxChunkSize, opts.Overlap)...)
				continue
			}
			if current == "" {
				current = sent
			} else if len(current)+1+len(sent) <= opts.MaxChunkSize {
				current = current + " " + sent
			} else {
				flush()
				current = sent
			}
		}
		flush()
	}
	return out
}

// locate finds the chunk in the original text, searching forward from
// the previous chunk's end using the chunk's first 50 characters. On a
// miss the cursor simply advances monotonically from the prior end.
func locate(text, chunk string, cursor int) (int, int) {
	probe := chunk
	if len(probe) > 50 {
		probe = probe[:50]
	}
	if idx := strings.Index(text[cursor:], probe); idx >= 0 {
		start := cursor + idx
		return start, start + len(chunk)
	}
	if idx := strings.Index(text, probe); idx >= 0 {
		return idx, idx + len(chunk)
	}
	return cursor, cursor + len(chunk)
}
