package llm

import (
	"context"
	"errors"
	"fmt"
)

var ErrUnavailable = errors.New("llm unavailable")

// Variant names the two completion tiers the relay can route a turn to.
type Variant string

const (
	VariantChat      Variant = "chat"
	VariantReasoning Variant = "reasoning"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Messages    []Message
	Variant     Variant
	Temperature float64
	MaxTokens   int
}

// Client is the completion backend consumed by the model selector and the
// turn orchestrator.
type Client interface {
	Complete(ctx context.Context, request CompletionRequest) (string, error)
	Probe(ctx context.Context, variant Variant) error
}

// StatusError carries the raw status and body of a non-2xx completion
// response so callers can log it without parsing error strings.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion failed with status %d", e.StatusCode)
}
