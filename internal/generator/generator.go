// Package generator is the boundary to the AI text-generation service. Responses are
// untrusted: they arrive as raw JSON and are decoded into candidates or step output
// only after shape validation.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type Kind string

const (
	KindBusinessArea Kind = "business_area"
	KindCustomer     Kind = "customer"
	KindJob          Kind = "job"
	KindSolution     Kind = "solution"
	// KindStep generates the structured output of a framework step from its inputs.
	KindStep Kind = "step"
)

// StageField is the stage-specific attribute every candidate of a kind must carry.
var StageField = map[Kind]string{
	KindBusinessArea: "market_size",
	KindCustomer:     "characteristics",
	KindJob:          "job_type",
	KindSolution:     "value_proposition",
}

// Request is one generation call. Context is the accumulated prior choices, one
// entry per line, in the order they were made.
type Request struct {
	Kind    Kind           `json:"kind"`
	Context []string       `json:"context,omitempty"`
	Count   int            `json:"count,omitempty"`
	StepKey string         `json:"step_key,omitempty"`
	Inputs  map[string]any `json:"inputs,omitempty"`
}

// Prompt renders the request context as a single block of text.
func (r Request) Prompt() string {
	return strings.Join(r.Context, "\n")
}

// Generator performs exactly one attempt per call. Implementations never retry.
type Generator interface {
	Generate(ctx context.Context, req Request) (json.RawMessage, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, req Request) (json.RawMessage, error)

func (f Func) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// GenerationError reports a failed or malformed generation. It is always safe to
// retry the same request.
type GenerationError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("generate %s: %s", e.Kind, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Err }

func failure(kind Kind, reason string, err error) *GenerationError {
	return &GenerationError{Kind: kind, Reason: reason, Err: err}
}
