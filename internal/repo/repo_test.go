package repo_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventureline/internal/db"
	"ventureline/internal/domain"
	"ventureline/internal/migrate"
	"ventureline/internal/repo"
)

func newRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	now := "2024-01-01T00:00:00Z"
	require.NoError(t, r.InsertProject(ctx, nil, domain.Project{
		ID: "p1", OwnerID: "u1", Name: "Acme", Status: domain.ProjectDraft, CreatedAt: now, UpdatedAt: now,
	}))
	return r, ctx
}

func ts(sec int) string {
	return time.Date(2024, 1, 1, 0, 0, sec, 0, time.UTC).Format(time.RFC3339Nano)
}

func statusPtr(s domain.StepStatus) *domain.StepStatus { return &s }

func TestStepStateRoundTrip(t *testing.T) {
	r, ctx := newRepo(t)
	_, err := r.GetStepState(ctx, "p1", "jtbd")
	require.ErrorIs(t, err, repo.ErrNotFound)

	inputs := map[string]any{"customer_segment": "freelancers", "job_statement": "get paid on time"}
	_, err = r.PutStepState(ctx, "p1", "jtbd", domain.StepStatePatch{
		Status: statusPtr(domain.StepInProgress), Inputs: inputs, UpdatedAt: ts(1),
	})
	require.NoError(t, err)

	got, err := r.GetStepState(ctx, "p1", "jtbd")
	require.NoError(t, err)
	assert.Equal(t, domain.StepInProgress, got.Status)
	assert.Equal(t, inputs, got.Inputs)
	assert.False(t, got.HasOutput())
}

func TestStepStateRejectsOutOfOrderWrites(t *testing.T) {
	r, ctx := newRepo(t)
	_, err := r.PutStepState(ctx, "p1", "vpc", domain.StepStatePatch{
		Inputs: map[string]any{"pains": "t2"}, UpdatedAt: ts(2),
	})
	require.NoError(t, err)

	_, err = r.PutStepState(ctx, "p1", "vpc", domain.StepStatePatch{
		Inputs: map[string]any{"pains": "t1"}, UpdatedAt: ts(1),
	})
	require.ErrorIs(t, err, repo.ErrStaleWrite)

	got, err := r.GetStepState(ctx, "p1", "vpc")
	require.NoError(t, err)
	assert.Equal(t, "t2", got.Inputs["pains"])
}

func TestStaleInputsCannotFollowCompletion(t *testing.T) {
	r, ctx := newRepo(t)
	out := json.RawMessage(`{"summary":"done"}`)
	_, err := r.PutStepState(ctx, "p1", "jtbd", domain.StepStatePatch{
		Status: statusPtr(domain.StepCompleted), Inputs: map[string]any{"a": "new"}, GeneratedOutput: out, UpdatedAt: ts(5),
	})
	require.NoError(t, err)
	_, err = r.PutStepState(ctx, "p1", "jtbd", domain.StepStatePatch{
		Inputs: map[string]any{"a": "old"}, UpdatedAt: ts(4),
	})
	require.True(t, errors.Is(err, repo.ErrStaleWrite))

	got, err := r.GetStepState(ctx, "p1", "jtbd")
	require.NoError(t, err)
	assert.Equal(t, domain.StepCompleted, got.Status)
	assert.JSONEq(t, string(out), string(got.GeneratedOutput))
	assert.Equal(t, "new", got.Inputs["a"])
}

func TestCompletionRequiresOutput(t *testing.T) {
	r, ctx := newRepo(t)
	_, err := r.PutStepState(ctx, "p1", "jtbd", domain.StepStatePatch{
		Status: statusPtr(domain.StepCompleted), UpdatedAt: ts(1),
	})
	require.ErrorIs(t, err, repo.ErrCompletionWithoutOutput)
	_, err = r.GetStepState(ctx, "p1", "jtbd")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCountSignals(t *testing.T) {
	r, ctx := newRepo(t)
	require.NoError(t, r.InsertNote(ctx, nil, domain.Note{ID: "n1", ProjectID: "p1", Body: "hi", CreatedBy: "u1", CreatedAt: ts(1)}))
	require.NoError(t, r.InsertTag(ctx, nil, domain.Tag{ProjectID: "p1", Name: "saas", CreatedAt: ts(1)}))
	require.NoError(t, r.InsertTag(ctx, nil, domain.Tag{ProjectID: "p1", Name: "saas", CreatedAt: ts(2)}))
	require.NoError(t, r.InsertLinkedTool(ctx, nil, domain.LinkedTool{ID: "l1", ProjectID: "p1", Tool: "persona", OutputRef: "x", CreatedAt: ts(1)}))
	require.NoError(t, r.InsertInterview(ctx, nil, domain.Interview{ID: "i1", ProjectID: "p1", Interviewee: "Sam", HeldAt: ts(1), CreatedAt: ts(1)}))
	require.NoError(t, r.InsertAssumption(ctx, nil, domain.Assumption{ID: "a1", ProjectID: "p1", Statement: "s", CreatedAt: ts(1), UpdatedAt: ts(1)}))
	require.NoError(t, r.InsertAssumption(ctx, nil, domain.Assumption{ID: "a2", ProjectID: "p1", Statement: "t", CreatedAt: ts(1), UpdatedAt: ts(1)}))
	a, err := r.SetAssumptionValidated(ctx, nil, "p1", "a2", true, ts(3))
	require.NoError(t, err)
	assert.True(t, a.Validated)

	c, err := r.CountSignals(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, repo.SignalCounts{
		LinkedTools: 1, Notes: 1, Tags: 1, Interviews: 1, Assumptions: 2, ValidatedAssumptions: 1,
		HasDescription: false, UpdatedAt: "2024-01-01T00:00:00Z",
	}, c)

	_, err = r.CountSignals(ctx, "missing")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestDiscoveryOutputsAreWrittenOnce(t *testing.T) {
	r, ctx := newRepo(t)
	out := domain.DiscoveryOutput{
		ID: "d1", OwnerID: "u1", SessionID: "s1",
		BusinessArea: domain.Candidate{ID: "b", Title: "Fintech"},
		CreatedAt:    ts(1),
	}
	require.NoError(t, r.InsertDiscoveryOutput(ctx, out))
	out.ID = "d2"
	require.ErrorIs(t, r.InsertDiscoveryOutput(ctx, out), repo.ErrDuplicateDiscovery)

	list, err := r.ListDiscoveryOutputs(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Fintech", list[0].BusinessArea.Title)
}

func TestConcurrentDiscoverySavesKeepOneRow(t *testing.T) {
	r, ctx := newRepo(t)
	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.InsertDiscoveryOutput(ctx, domain.DiscoveryOutput{
				ID: fmt.Sprintf("d%d", i), OwnerID: "u1", SessionID: "s1", CreatedAt: ts(1),
			})
		}(i)
	}
	wg.Wait()

	saved := 0
	for _, err := range errs {
		if err == nil {
			saved++
			continue
		}
		require.ErrorIs(t, err, repo.ErrDuplicateDiscovery)
	}
	assert.Equal(t, 1, saved)
	list, err := r.ListDiscoveryOutputs(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestAPIKeys(t *testing.T) {
	r, ctx := newRepo(t)
	key, plain, err := r.IssueAPIKey(ctx, "u1", "ci")
	require.NoError(t, err)
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	require.NoError(t, r.DeleteAPIKey(ctx, "u1", key.ID))
	_, err = r.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	require.ErrorIs(t, err, repo.ErrNotFound)
}
