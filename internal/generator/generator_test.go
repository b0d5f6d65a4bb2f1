package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidatesJSON(n int, field string) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"id":"c%d","title":"Option %d","description":"d","icon":"rocket","%s":"v%d"}`, i, i, field, i)
	}
	return "[" + strings.Join(items, ",") + "]"
}

func TestValidateCandidates(t *testing.T) {
	got, err := ValidateCandidates(KindCustomer, json.RawMessage(candidatesJSON(6, "characteristics")), 6)
	require.NoError(t, err)
	require.Len(t, got, 6)
	assert.Equal(t, "c0", got[0].ID)
	assert.Equal(t, "v0", got[0].Attributes["characteristics"])

	wrapped := `{"candidates":` + candidatesJSON(6, "job_type") + `}`
	_, err = ValidateCandidates(KindJob, json.RawMessage(wrapped), 6)
	require.NoError(t, err)
}

func TestValidateCandidatesRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"short":           candidatesJSON(4, "market_size"),
		"long":            candidatesJSON(7, "market_size"),
		"not json":        `sure, here are six ideas`,
		"object":          `{"ideas":[]}`,
		"wrong field":     candidatesJSON(6, "job_type"),
		"missing title":   `[{"id":"a","description":"d","icon":"i","market_size":"m"}]`,
		"non-string id":   `[{"id":1,"title":"t","description":"d","icon":"i","market_size":"m"}]`,
		"null item":       `[null]`,
		"empty":           ``,
		"duplicate ids":   `[{"id":"a","title":"t","description":"d","icon":"i","market_size":"m"},{"id":"a","title":"u","description":"d","icon":"i","market_size":"m"}]`,
		"blank attribute": `[{"id":"a","title":"t","description":"d","icon":"i","market_size":"  "}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			expected := 6
			if strings.HasPrefix(name, "missing") || strings.HasPrefix(name, "non-string") || strings.HasPrefix(name, "null") || strings.HasPrefix(name, "blank") {
				expected = 1
			}
			if name == "duplicate ids" {
				expected = 2
			}
			got, err := ValidateCandidates(KindBusinessArea, json.RawMessage(raw), expected)
			var ge *GenerationError
			require.ErrorAs(t, err, &ge)
			assert.Equal(t, KindBusinessArea, ge.Kind)
			assert.Nil(t, got)
		})
	}
}

func TestListAttributesAreJoined(t *testing.T) {
	raw := `[{"id":"a","title":"t","description":"d","icon":"i","characteristics":["busy"," remote "],"extra":{"x":1}}]`
	got, err := ValidateCandidates(KindCustomer, json.RawMessage(raw), 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"characteristics": "busy, remote"}, got[0].Attributes)
}

func TestCandidatesWrapsTransportErrors(t *testing.T) {
	calls := 0
	g := Func(func(context.Context, Request) (json.RawMessage, error) {
		calls++
		return nil, errors.New("connection refused")
	})
	_, err := Candidates(context.Background(), g, KindSolution, nil, 6)
	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = Candidates(context.Background(), g, KindStep, nil, 6)
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, 1, calls)
}

func TestHTTPClient(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"ok":true,"output":%s}`, candidatesJSON(6, "value_proposition"))
	}))
	defer srv.Close()

	c := NewHTTP(srv.URL+"/", 0)
	cands, err := Candidates(context.Background(), c, KindSolution, []string{"Business area: Fintech", "Customer: Freelancers"}, 6)
	require.NoError(t, err)
	assert.Len(t, cands, 6)
	assert.Equal(t, KindSolution, got.Kind)
	assert.Equal(t, 6, got.Count)
	assert.Equal(t, "Business area: Fintech\nCustomer: Freelancers", got.Prompt())
}

func TestHTTPClientFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"ok":false,"error":"rate limited"}`)
		},
		"not ok": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"ok":false}`)
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html>`)
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			_, err := NewHTTP(srv.URL, 0).Generate(context.Background(), Request{Kind: KindJob})
			var ge *GenerationError
			require.ErrorAs(t, err, &ge)
		})
	}
}

func TestStepOutput(t *testing.T) {
	g := Func(func(_ context.Context, req Request) (json.RawMessage, error) {
		assert.Equal(t, KindStep, req.Kind)
		assert.Equal(t, "jtbd", req.StepKey)
		return json.RawMessage(`{"summary":"ok"}`), nil
	})
	out, err := StepOutput(context.Background(), g, "jtbd", map[string]any{"a": "b"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"ok"}`, string(out))

	for _, raw := range []string{`null`, `{}`, `[1]`, `nope`} {
		bad := Func(func(context.Context, Request) (json.RawMessage, error) { return json.RawMessage(raw), nil })
		_, err := StepOutput(context.Background(), bad, "jtbd", nil)
		var ge *GenerationError
		require.ErrorAs(t, err, &ge, raw)
	}
}
