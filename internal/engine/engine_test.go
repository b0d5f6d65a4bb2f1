package engine_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"ventureline/internal/config"
	"ventureline/internal/db"
	"ventureline/internal/domain"
	"ventureline/internal/engine"
	"ventureline/internal/engine/auth"
	"ventureline/internal/gate"
	"ventureline/internal/generator"
	"ventureline/internal/migrate"
	"ventureline/internal/repo"
	"ventureline/internal/sessions"
	"ventureline/internal/wizard"
)

const threeSteps = `steps:
  catalog:
    - key: jtbd
      title: Jobs-to-be-Done
      required_inputs: [customer_segment, job_statement]
    - key: vpc
      title: Value Proposition Canvas
      required_inputs: [pains]
    - key: bmc
      title: Business Model Canvas
`

var fixedNow = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Conn   *sql.DB
	Ctx    context.Context
	Gen    *fakeGenerator
}

type fakeGenerator struct {
	calls int
	fail  error
}

func (g *fakeGenerator) Generate(_ context.Context, req generator.Request) (json.RawMessage, error) {
	g.calls++
	if g.fail != nil {
		return nil, g.fail
	}
	if req.Kind == generator.KindStep {
		return json.RawMessage(fmt.Sprintf(`{"summary":"generated for %s"}`, req.StepKey)), nil
	}
	items := make([]string, req.Count)
	for i := range items {
		items[i] = fmt.Sprintf(`{"id":"%s-%d","title":"%s %d","description":"d","icon":"i","%s":"x"}`,
			req.Kind, i, req.Kind, i, generator.StageField[req.Kind])
	}
	return json.RawMessage("[" + strings.Join(items, ",") + "]"), nil
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg, err := config.FromYAML([]byte(threeSteps))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	gen := &fakeGenerator{}
	eng, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	eng.Now = func() time.Time { return fixedNow }
	eng.Generator = gen
	eng.Sessions = sessions.NewMemoryStore(time.Hour)
	ctx := context.Background()
	if _, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{ID: "p1", Name: "Acme", OwnerID: "u1"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return testEnv{Engine: eng, Conn: conn, Ctx: ctx, Gen: gen}
}

func (env testEnv) complete(t *testing.T, key string, inputs map[string]any) domain.StepState {
	t.Helper()
	st, err := env.Engine.CompleteStep(env.Ctx, engine.StepCompleteOptions{
		ProjectID: "p1", StepKey: key, Inputs: inputs, Output: json.RawMessage(`{"ok":true}`), ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("complete %s: %v", key, err)
	}
	return st
}

var jtbdInputs = map[string]any{"customer_segment": "freelancers", "job_statement": "get paid"}

func TestEnterStepGating(t *testing.T) {
	env := newTestEnv(t)
	view, err := env.Engine.EnterStep(env.Ctx, "p1", "jtbd", "u1")
	if err != nil || !view.Decision.Allowed {
		t.Fatalf("first step should be allowed: %+v %v", view.Decision, err)
	}
	if view.State.Status != domain.StepNotStarted {
		t.Fatalf("status = %s", view.State.Status)
	}

	view, err = env.Engine.EnterStep(env.Ctx, "p1", "bmc", "u1")
	var locked *gate.LockedStepError
	if !errors.As(err, &locked) {
		t.Fatalf("expected locked error, got %v", err)
	}
	if locked.BlockingStepKey != "vpc" || view.Decision.BlockingStepTitle != "Value Proposition Canvas" {
		t.Fatalf("unexpected blocking step: %+v", view.Decision)
	}

	if _, err := env.Engine.EnterStep(env.Ctx, "p1", "nope", "u1"); err == nil {
		t.Fatalf("expected unknown step error")
	}
}

func TestSaveCompleteAndReopen(t *testing.T) {
	env := newTestEnv(t)
	st, err := env.Engine.SaveStepInputs(env.Ctx, engine.StepSaveOptions{
		ProjectID: "p1", StepKey: "jtbd", Inputs: map[string]any{"customer_segment": "freelancers"}, ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if st.Status != domain.StepInProgress {
		t.Fatalf("status = %s", st.Status)
	}

	_, err = env.Engine.CompleteStep(env.Ctx, engine.StepCompleteOptions{
		ProjectID: "p1", StepKey: "jtbd", Output: json.RawMessage(`{"x":1}`), ActorID: "u1",
	})
	var missing *engine.MissingInputsError
	if !errors.As(err, &missing) || len(missing.Fields) != 1 || missing.Fields[0] != "job_statement" {
		t.Fatalf("expected missing job_statement, got %v", err)
	}
	_, err = env.Engine.CompleteStep(env.Ctx, engine.StepCompleteOptions{ProjectID: "p1", StepKey: "jtbd", Inputs: jtbdInputs, ActorID: "u1"})
	if !errors.Is(err, repo.ErrCompletionWithoutOutput) {
		t.Fatalf("expected output required, got %v", err)
	}

	st = env.complete(t, "jtbd", jtbdInputs)
	if st.Status != domain.StepCompleted || !st.HasOutput() {
		t.Fatalf("unexpected state %+v", st)
	}
	if _, err := env.Engine.EnterStep(env.Ctx, "p1", "vpc", "u1"); err != nil {
		t.Fatalf("vpc should unlock: %v", err)
	}

	// Editing a completed step keeps it completed while required inputs remain.
	env.Engine.Now = func() time.Time { return fixedNow.Add(time.Minute) }
	st, err = env.Engine.SaveStepInputs(env.Ctx, engine.StepSaveOptions{
		ProjectID: "p1", StepKey: "jtbd", Inputs: map[string]any{"customer_segment": "agencies", "job_statement": "get paid"}, ActorID: "u1",
	})
	if err != nil || st.Status != domain.StepCompleted {
		t.Fatalf("expected still completed: %+v %v", st, err)
	}

	env.Engine.Now = func() time.Time { return fixedNow.Add(2 * time.Minute) }
	st, err = env.Engine.SaveStepInputs(env.Ctx, engine.StepSaveOptions{
		ProjectID: "p1", StepKey: "jtbd", Inputs: map[string]any{"customer_segment": "agencies", "job_statement": " "}, ActorID: "u1",
	})
	if err != nil || st.Status != domain.StepInProgress {
		t.Fatalf("expected reopened: %+v %v", st, err)
	}
	if !st.HasOutput() {
		t.Fatalf("reopening keeps the previous output")
	}
	if _, err := env.Engine.EnterStep(env.Ctx, "p1", "vpc", "u1"); err == nil {
		t.Fatalf("vpc should lock again")
	}
}

func TestStaleAutoSaveIsRejected(t *testing.T) {
	env := newTestEnv(t)
	t1 := fixedNow.Add(time.Second).Format(time.RFC3339Nano)
	t2 := fixedNow.Add(2 * time.Second).Format(time.RFC3339Nano)
	if _, err := env.Engine.SaveStepInputs(env.Ctx, engine.StepSaveOptions{
		ProjectID: "p1", StepKey: "jtbd", Inputs: map[string]any{"customer_segment": "t2"}, UpdatedAt: t2, ActorID: "u1",
	}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SaveStepInputs(env.Ctx, engine.StepSaveOptions{
		ProjectID: "p1", StepKey: "jtbd", Inputs: map[string]any{"customer_segment": "t1"}, UpdatedAt: t1, ActorID: "u1",
	})
	if !errors.Is(err, repo.ErrStaleWrite) {
		t.Fatalf("expected stale write, got %v", err)
	}
	view, err := env.Engine.EnterStep(env.Ctx, "p1", "jtbd", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if view.State.Inputs["customer_segment"] != "t2" {
		t.Fatalf("inputs = %v", view.State.Inputs)
	}
}

func TestGenerateStep(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.GenerateStep(env.Ctx, "p1", "jtbd", "u1"); err == nil {
		t.Fatalf("expected missing inputs error")
	}
	if env.Gen.calls != 0 {
		t.Fatalf("generator called without inputs")
	}
	if _, err := env.Engine.SaveStepInputs(env.Ctx, engine.StepSaveOptions{ProjectID: "p1", StepKey: "jtbd", Inputs: jtbdInputs, ActorID: "u1"}); err != nil {
		t.Fatal(err)
	}

	env.Gen.fail = errors.New("upstream 500")
	_, err := env.Engine.GenerateStep(env.Ctx, "p1", "jtbd", "u1")
	var ge *generator.GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("expected generation error, got %v", err)
	}
	if env.Gen.calls != 1 {
		t.Fatalf("calls = %d, generation must not retry", env.Gen.calls)
	}
	view, _ := env.Engine.EnterStep(env.Ctx, "p1", "jtbd", "u1")
	if view.State.Status != domain.StepInProgress {
		t.Fatalf("failed generation changed status to %s", view.State.Status)
	}

	env.Gen.fail = nil
	env.Engine.Now = func() time.Time { return fixedNow.Add(time.Minute) }
	st, err := env.Engine.GenerateStep(env.Ctx, "p1", "jtbd", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != domain.StepCompleted || !strings.Contains(string(st.GeneratedOutput), "generated for jtbd") {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestGenerateStepKeepsInputsSavedDuringGeneration(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SaveStepInputs(env.Ctx, engine.StepSaveOptions{ProjectID: "p1", StepKey: "jtbd", Inputs: jtbdInputs, ActorID: "u1"}); err != nil {
		t.Fatal(err)
	}
	typed := map[string]any{"customer_segment": "freelancers", "job_statement": "get paid faster"}
	calls := 0
	env.Engine.Generator = generator.Func(func(ctx context.Context, req generator.Request) (json.RawMessage, error) {
		calls++
		if _, err := env.Engine.SaveStepInputs(ctx, engine.StepSaveOptions{
			ProjectID: "p1", StepKey: "jtbd", Inputs: typed,
			UpdatedAt: fixedNow.Add(time.Second).Format(time.RFC3339Nano), ActorID: "u1",
		}); err != nil {
			t.Errorf("auto-save during generation: %v", err)
		}
		return json.RawMessage(`{"summary":"from old inputs"}`), nil
	})
	env.Engine.Now = func() time.Time { return fixedNow.Add(time.Minute) }

	_, err := env.Engine.GenerateStep(env.Ctx, "p1", "jtbd", "u1")
	if !errors.Is(err, repo.ErrStaleWrite) {
		t.Fatalf("expected stale write, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, generation must not retry", calls)
	}
	view, err := env.Engine.EnterStep(env.Ctx, "p1", "jtbd", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if view.State.Inputs["job_statement"] != "get paid faster" {
		t.Fatalf("job_statement = %v, newer inputs lost", view.State.Inputs["job_statement"])
	}
	if view.State.Status != domain.StepInProgress || len(view.State.GeneratedOutput) != 0 {
		t.Fatalf("unexpected state %+v", view.State)
	}
}

func TestNewRejectsBadCatalog(t *testing.T) {
	cfg := &config.Config{}
	cfg.Steps.Catalog = []config.StepConfig{{Key: "jtbd"}, {Key: "jtbd"}}
	if _, err := engine.New(nil, cfg); err == nil || !strings.Contains(err.Error(), "step catalog") {
		t.Fatalf("expected step catalog error, got %v", err)
	}
}

func TestEventsUseEngineClock(t *testing.T) {
	env := newTestEnv(t)
	evts, err := env.Engine.ListEvents(env.Ctx, "u1", repo.EventFilter{ProjectID: "p1"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) == 0 {
		t.Fatalf("no events recorded")
	}
	for _, ev := range evts {
		if ev.TS != fixedNow.Format(time.RFC3339) {
			t.Fatalf("event %s ts = %s, want %s", ev.Type, ev.TS, fixedNow.Format(time.RFC3339))
		}
	}
}

func TestHealthReport(t *testing.T) {
	env := newTestEnv(t)
	desc := "invoicing for freelancers"
	if _, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: "p1", ActorID: "u1", Description: &desc}); err != nil {
		t.Fatal(err)
	}
	env.complete(t, "jtbd", jtbdInputs)
	env.complete(t, "vpc", map[string]any{"pains": "late payments"})
	if _, err := env.Engine.LinkTool(env.Ctx, "p1", "vpc", "persona", "persona-1", "u1"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := env.Engine.AddNote(env.Ctx, "p1", "", "note", "u1"); err != nil {
			t.Fatal(err)
		}
	}

	rep, err := env.Engine.Health(env.Ctx, "p1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Health.Score != 52 {
		t.Fatalf("health = %d, want 52 (%+v)", rep.Health.Score, rep.Health)
	}
	if rep.Progress.CompletedCount != 2 || rep.Progress.TotalCount != 3 {
		t.Fatalf("progress = %+v", rep.Progress)
	}
	if len(rep.Degraded) != 0 {
		t.Fatalf("degraded = %v", rep.Degraded)
	}

	// Project status is independent of step completion.
	p, err := env.Engine.GetProject(env.Ctx, "p1", "u1")
	if err != nil || p.Status != domain.ProjectDraft {
		t.Fatalf("project status = %s, %v", p.Status, err)
	}
}

func TestGateFailsOpenWhenStatesUnreadable(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Conn.Exec(`DROP TABLE step_states`); err != nil {
		t.Fatal(err)
	}
	view, err := env.Engine.EnterStep(env.Ctx, "p1", "bmc", "u1")
	if err != nil {
		t.Fatalf("expected fail-open, got %v", err)
	}
	if !view.Decision.Allowed || !view.Decision.FailedOpen {
		t.Fatalf("decision = %+v", view.Decision)
	}
	evts, err := env.Engine.RecentEvents(env.Ctx, "p1", "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) == 0 || evts[0].Type != "step.gate.failed_open" {
		t.Fatalf("expected failed-open event, got %+v", evts)
	}

	list, err := env.Engine.ListSteps(env.Ctx, "p1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range list {
		if !v.Decision.Allowed {
			t.Fatalf("step %s locked while states unreadable", v.Definition.Key)
		}
	}

	rep, err := env.Engine.Health(env.Ctx, "p1", "u1")
	if err != nil {
		t.Fatalf("health should degrade, got %v", err)
	}
	if len(rep.Degraded) != 1 || rep.Degraded[0] != "step_states" {
		t.Fatalf("degraded = %v", rep.Degraded)
	}
}

func TestSaveFailureIsPersistenceError(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Conn.Exec(`DROP TABLE events`); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SaveStepInputs(env.Ctx, engine.StepSaveOptions{ProjectID: "p1", StepKey: "jtbd", Inputs: jtbdInputs, ActorID: "u1"})
	var pe *engine.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if _, err := env.Engine.Repo.GetStepState(env.Ctx, "p1", "jtbd"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("failed save left a row behind: %v", err)
	}
}

func TestProjectOwnership(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ListSteps(env.Ctx, "p1", "intruder")
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	bad := "finished"
	if _, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: "p1", ActorID: "u1", Status: &bad}); err == nil {
		t.Fatalf("expected invalid status error")
	}
	status := domain.ProjectComplete
	p, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: "p1", ActorID: "u1", Status: &status})
	if err != nil || p.Status != domain.ProjectComplete {
		t.Fatalf("update status: %+v %v", p, err)
	}
}

func TestSignals(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AddTag(env.Ctx, "p1", " SaaS ", "u1"); err != nil {
		t.Fatal(err)
	}
	tags, _ := env.Engine.ListTags(env.Ctx, "p1", "u1")
	if len(tags) != 1 || tags[0].Name != "saas" {
		t.Fatalf("tags = %+v", tags)
	}
	if _, err := env.Engine.AddNote(env.Ctx, "p1", "nope", "body", "u1"); err == nil {
		t.Fatalf("expected unknown step error")
	}
	if _, err := env.Engine.AddInterview(env.Ctx, "p1", "Sam", "liked it", "yesterday", "u1"); err == nil {
		t.Fatalf("expected held_at error")
	}
	a, err := env.Engine.AddAssumption(env.Ctx, "p1", "freelancers pay for speed", "u1")
	if err != nil {
		t.Fatal(err)
	}
	a, err = env.Engine.SetAssumptionValidated(env.Ctx, "p1", a.ID, true, "u1")
	if err != nil || !a.Validated {
		t.Fatalf("validate: %+v %v", a, err)
	}
	if _, err := env.Engine.AddInterview(env.Ctx, "p1", "Sam", "liked it", "", "u1"); err != nil {
		t.Fatal(err)
	}
	rep, err := env.Engine.Health(env.Ctx, "p1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	// data quality: tag 20 -> 6; validation: 10+10+10 -> 6; activity 10 -> 1.
	if rep.Health.Score != 13 {
		t.Fatalf("health = %d (%+v)", rep.Health.Score, rep.Health)
	}
}

func TestDiscoveryFlow(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.StartDiscovery(env.Ctx, "u1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetDiscovery(env.Ctx, s.ID, "intruder"); err == nil {
		t.Fatalf("expected forbidden")
	}
	steps := []func() (*wizard.Session, error){
		func() (*wizard.Session, error) { return env.Engine.DiscoveryNext(env.Ctx, s.ID, "u1") },
		func() (*wizard.Session, error) { return env.Engine.DiscoveryAnswer(env.Ctx, s.ID, "u1", "I have an idea") },
		func() (*wizard.Session, error) { return env.Engine.DiscoveryNext(env.Ctx, s.ID, "u1") },
		func() (*wizard.Session, error) { return env.Engine.DiscoveryAnswer(env.Ctx, s.ID, "u1", "online") },
		func() (*wizard.Session, error) { return env.Engine.DiscoveryNext(env.Ctx, s.ID, "u1") },
		func() (*wizard.Session, error) { return env.Engine.DiscoverySkip(env.Ctx, s.ID, "u1") },
		func() (*wizard.Session, error) { return env.Engine.DiscoverySkip(env.Ctx, s.ID, "u1") },
		func() (*wizard.Session, error) { return env.Engine.DiscoveryAnswer(env.Ctx, s.ID, "u1", "design") },
		func() (*wizard.Session, error) { return env.Engine.DiscoveryNext(env.Ctx, s.ID, "u1") },
	}
	for i, step := range steps {
		if _, err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	for i := 0; i < 4; i++ {
		cands, _, err := env.Engine.DiscoveryGenerate(env.Ctx, s.ID, "u1")
		if err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
		if len(cands) != config.DefaultCandidates {
			t.Fatalf("got %d candidates", len(cands))
		}
		if s, err = env.Engine.DiscoveryChoose(env.Ctx, s.ID, "u1", cands[i].ID); err != nil {
			t.Fatalf("choose %d: %v", i, err)
		}
	}
	if s.Stage != wizard.StageSummary || !s.Saved {
		t.Fatalf("reaching the summary should save: stage=%s saved=%v", s.Stage, s.Saved)
	}
	first, err := env.Engine.DiscoveryFinalize(env.Ctx, s.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.DiscoveryFinalize(env.Ctx, s.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("finalize not idempotent: %s vs %s", first.ID, second.ID)
	}
	outs, err := env.Engine.ListDiscoveryOutputs(env.Ctx, "u1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 1 || outs[0].Job.Title != "job 2" {
		t.Fatalf("outputs = %+v", outs)
	}
	if _, err := env.Engine.DiscoveryPrevious(env.Ctx, s.ID, "u1"); !errors.Is(err, wizard.ErrSessionSaved) {
		t.Fatalf("expected saved session error, got %v", err)
	}
}
