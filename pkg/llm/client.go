// Package llm is the provider-agnostic chat client used by the evidence
// pipeline's Reader and Validator. The duty-calculation path never touches
// this package.
package llm

import (
	"context"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SamplingOptions control decoding. The Reader runs at low temperature;
// the Validator at zero, to decorrelate their errors.
type SamplingOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Seed        int64   `json:"seed"`
}

// Response is a completed chat call.
type Response struct {
	Content string `json:"content"`
}

// Client is the contract Reader and Validator depend on. Tests provide
// deterministic fakes.
type Client interface {
	Chat(ctx context.Context, messages []Message, options *SamplingOptions) (*Response, error)
}
