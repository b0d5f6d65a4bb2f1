package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ventureline/internal/domain"
)

var requiredCandidateFields = []string{"id", "title", "description", "icon"}

// Candidates asks g for count candidates of kind and validates the response.
// Any failure, including a transport error, is returned as *GenerationError and no
// partial list is ever returned.
func Candidates(ctx context.Context, g Generator, kind Kind, prior []string, count int) ([]domain.Candidate, error) {
	if _, ok := StageField[kind]; !ok {
		return nil, failure(kind, "unsupported candidate kind", nil)
	}
	raw, err := g.Generate(ctx, Request{Kind: kind, Context: prior, Count: count})
	if err != nil {
		var ge *GenerationError
		if errors.As(err, &ge) {
			return nil, ge
		}
		return nil, failure(kind, "generator unavailable", err)
	}
	return ValidateCandidates(kind, raw, count)
}

// ValidateCandidates decodes raw as exactly expected well-formed candidates of kind.
// Both a bare array and an object with a "candidates" array are accepted.
func ValidateCandidates(kind Kind, raw json.RawMessage, expected int) ([]domain.Candidate, error) {
	items, err := candidateItems(raw)
	if err != nil {
		return nil, failure(kind, "malformed response", err)
	}
	if len(items) != expected {
		return nil, failure(kind, fmt.Sprintf("expected %d candidates, got %d", expected, len(items)), nil)
	}
	stageField := StageField[kind]
	seen := make(map[string]bool, len(items))
	out := make([]domain.Candidate, 0, len(items))
	for i, item := range items {
		c, err := decodeCandidate(item, stageField)
		if err != nil {
			return nil, failure(kind, fmt.Sprintf("candidate %d", i), err)
		}
		if seen[c.ID] {
			return nil, failure(kind, fmt.Sprintf("duplicate candidate id %q", c.ID), nil)
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out, nil
}

func candidateItems(raw json.RawMessage) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	var items []map[string]any
	if trimmed[0] == '{' {
		var wrapped struct {
			Candidates []map[string]any `json:"candidates"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, err
		}
		if wrapped.Candidates == nil {
			return nil, errors.New("missing candidates")
		}
		items = wrapped.Candidates
	} else if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, err
	}
	for i, it := range items {
		if it == nil {
			return nil, fmt.Errorf("candidate %d is null", i)
		}
	}
	return items, nil
}

func decodeCandidate(item map[string]any, stageField string) (domain.Candidate, error) {
	fields := make(map[string]string, len(requiredCandidateFields))
	for _, f := range requiredCandidateFields {
		v, ok := item[f].(string)
		if !ok || strings.TrimSpace(v) == "" {
			return domain.Candidate{}, fmt.Errorf("missing %s", f)
		}
		fields[f] = strings.TrimSpace(v)
	}
	attrs := map[string]string{}
	keys := make([]string, 0, len(item))
	for k := range item {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, core := fields[k]; core {
			continue
		}
		if v, ok := attributeValue(item[k]); ok {
			attrs[k] = v
		}
	}
	if attrs[stageField] == "" {
		return domain.Candidate{}, fmt.Errorf("missing %s", stageField)
	}
	return domain.Candidate{
		ID:          fields["id"],
		Title:       fields["title"],
		Description: fields["description"],
		Icon:        fields["icon"],
		Attributes:  attrs,
	}, nil
}

// attributeValue accepts strings and lists of strings; anything else is dropped.
func attributeValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			s, ok := p.(string)
			if !ok {
				return "", false
			}
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", "), len(parts) > 0
	default:
		return "", false
	}
}

// StepOutput asks g for the output of stepKey given its inputs. The response must be
// a non-empty JSON object.
func StepOutput(ctx context.Context, g Generator, stepKey string, inputs map[string]any) (json.RawMessage, error) {
	raw, err := g.Generate(ctx, Request{Kind: KindStep, StepKey: stepKey, Inputs: inputs})
	if err != nil {
		var ge *GenerationError
		if errors.As(err, &ge) {
			return nil, ge
		}
		return nil, failure(KindStep, "generator unavailable", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, failure(KindStep, "malformed response", err)
	}
	if len(obj) == 0 {
		return nil, failure(KindStep, "empty output", nil)
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, failure(KindStep, "malformed response", err)
	}
	return out, nil
}
