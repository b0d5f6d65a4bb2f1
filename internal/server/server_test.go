package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ventureline/internal/config"
	"ventureline/internal/db"
	"ventureline/internal/engine"
	"ventureline/internal/generator"
	"ventureline/internal/migrate"
	"ventureline/internal/sessions"
	venturelinesdk "ventureline/sdk/go"
)

const (
	testSecret = "test-secret"
	threeSteps = `steps:
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
)

var fixedNow = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

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

type testServer struct {
	URL    string
	Engine engine.Engine
	Gen    *fakeGenerator
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

// sdk returns a client authenticated as actorID and bound to projectID.
func (s *testServer) sdk(t *testing.T, actorID, projectID string) *venturelinesdk.Client {
	t.Helper()
	c := venturelinesdk.New(s.URL, projectID)
	c.BearerToken = tokenFor(t, actorID)
	return c
}

func tokenFor(t *testing.T, actorID string) string {
	t.Helper()
	token, err := signToken(testSecret, actorID, "", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func authHeader(t *testing.T, actorID string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tokenFor(t, actorID)}
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg, err := config.FromYAML([]byte(threeSteps))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if mutate != nil {
		mutate(cfg)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	gen := &fakeGenerator{}
	e, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	e.Now = func() time.Time { return fixedNow }
	e.Generator = gen
	e.Sessions = sessions.NewMemoryStore(time.Hour)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret, DevLogin: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Gen:    gen,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, string(data))
	}
	return env
}

func createProject(t *testing.T, srv *testServer, actorID string) string {
	t.Helper()
	p, err := srv.sdk(t, actorID, "").CreateProject(context.Background(), "Acme", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p.ID
}

var jtbdInputs = map[string]any{"customer_segment": "freelancers", "job_statement": "get paid"}

func TestLockedStepNamesBlockingStep(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	ctx := context.Background()
	projectID := createProject(t, srv, "u1")
	client := srv.sdk(t, "u1", projectID)

	if _, err := client.CompleteStep(ctx, "jtbd", jtbdInputs, map[string]any{"ok": true}); err != nil {
		t.Fatalf("complete jtbd: %v", err)
	}
	if _, err := client.EnterStep(ctx, "vpc"); err != nil {
		t.Fatalf("enter vpc: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects/"+projectID+"/steps/bmc", nil, authHeader(t, "u1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	env := decodeEnvelope(t, data)
	if env.Error.Code != "step_locked" {
		t.Fatalf("code = %q", env.Error.Code)
	}
	if env.Error.Details["blocking_step_key"] != "vpc" {
		t.Fatalf("details = %v", env.Error.Details)
	}

	steps, err := client.Steps(ctx)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 3 || steps[2].Gate.Allowed || steps[2].Gate.BlockingStepKey != "vpc" {
		t.Fatalf("unexpected steps %+v", steps)
	}
}

func TestStaleAutoSaveOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	ctx := context.Background()
	projectID := createProject(t, srv, "u1")
	client := srv.sdk(t, "u1", projectID)

	if _, err := client.SaveInputs(ctx, "jtbd", map[string]any{"customer_segment": "t2"}, fixedNow.Add(2*time.Second)); err != nil {
		t.Fatalf("save t2: %v", err)
	}
	_, err := client.SaveInputs(ctx, "jtbd", map[string]any{"customer_segment": "t1"}, fixedNow.Add(time.Second))
	var apiErr *venturelinesdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict || apiErr.Code != "stale_write" {
		t.Fatalf("expected stale_write, got %v", err)
	}
	step, err := client.EnterStep(ctx, "jtbd")
	if err != nil {
		t.Fatal(err)
	}
	if step.State.Inputs["customer_segment"] != "t2" {
		t.Fatalf("inputs = %v", step.State.Inputs)
	}
}

func TestCompleteRequiresOutput(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	projectID := createProject(t, srv, "u1")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/"+projectID+"/steps/jtbd/complete", map[string]any{
		"inputs": jtbdInputs,
	}, authHeader(t, "u1"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	if code := decodeEnvelope(t, data).Error.Code; code != "output_required" {
		t.Fatalf("code = %q", code)
	}
}

func TestHealthOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	ctx := context.Background()
	client := srv.sdk(t, "u1", "")
	p, err := client.CreateProject(ctx, "Acme", "invoicing for freelancers")
	if err != nil {
		t.Fatal(err)
	}
	client.ProjectID = p.ID

	if _, err := client.CompleteStep(ctx, "jtbd", jtbdInputs, map[string]any{"ok": true}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.CompleteStep(ctx, "vpc", map[string]any{"pains": "late payments"}, map[string]any{"ok": true}); err != nil {
		t.Fatal(err)
	}
	if err := client.LinkTool(ctx, "vpc", "persona", "persona-1"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := client.AddNote(ctx, "", "note"); err != nil {
			t.Fatal(err)
		}
	}

	h, err := client.Health(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if h.Score != 52 {
		t.Fatalf("health = %d, want 52 (%+v)", h.Score, h)
	}
	prog, err := client.Progress(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if prog.CompletedCount != 2 || prog.TotalCount != 3 {
		t.Fatalf("progress = %+v", prog)
	}
}

func TestGenerationFailureIsReported(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	ctx := context.Background()
	projectID := createProject(t, srv, "u1")
	client := srv.sdk(t, "u1", projectID)
	if _, err := client.SaveInputs(ctx, "jtbd", jtbdInputs, time.Time{}); err != nil {
		t.Fatal(err)
	}

	srv.Gen.fail = errors.New("upstream 500")
	_, err := client.GenerateStep(ctx, "jtbd")
	var apiErr *venturelinesdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway || apiErr.Code != "generation_failed" {
		t.Fatalf("expected generation_failed, got %v", err)
	}
	if srv.Gen.calls != 1 {
		t.Fatalf("calls = %d, generation must not retry", srv.Gen.calls)
	}

	srv.Gen.fail = nil
	st, err := client.GenerateStep(ctx, "jtbd")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != "completed" || !strings.Contains(string(st.GeneratedOutput), "generated for jtbd") {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	projectID := createProject(t, srv, "u1")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects/"+projectID, nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects/"+projectID, nil, map[string]string{"Authorization": "Bearer garbage"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects/"+projectID, nil, authHeader(t, "intruder"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be public, got %d", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	projectID := createProject(t, srv, "u1")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/api-keys", map[string]any{"name": "ci"}, authHeader(t, "u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil || key.Key == "" {
		t.Fatalf("decode key: %v %s", err, string(data))
	}

	client := venturelinesdk.New(srv.URL, projectID)
	client.APIKey = key.Key
	if _, err := client.Progress(context.Background()); err != nil {
		t.Fatalf("progress with api key: %v", err)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v1/api-keys/"+key.ID, nil, authHeader(t, "u1"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status %d", res.StatusCode)
	}
	_, err := client.Progress(context.Background())
	var apiErr *venturelinesdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key should be rejected, got %v", err)
	}
}

func TestDevLogin(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"actor_id": "u9"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	_ = json.Unmarshal(data, &me)
	if me.ActorID != "u9" {
		t.Fatalf("me = %+v", me)
	}
}

func TestDiscoveryThroughSDK(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	ctx := context.Background()
	projectID := createProject(t, srv, "u1")
	client := srv.sdk(t, "u1", projectID)

	s, err := client.StartDiscovery(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.Stage != "landing" || s.ProjectID != projectID {
		t.Fatalf("unexpected session %+v", s)
	}
	if _, err := srv.sdk(t, "intruder", "").Discovery(ctx, s.ID); err == nil {
		t.Fatalf("expected another actor to be rejected")
	}

	moves := []func() (venturelinesdk.DiscoverySession, error){
		func() (venturelinesdk.DiscoverySession, error) { return client.Next(ctx, s.ID) },
		func() (venturelinesdk.DiscoverySession, error) { return client.Answer(ctx, s.ID, "I have an idea") },
		func() (venturelinesdk.DiscoverySession, error) { return client.Next(ctx, s.ID) },
		func() (venturelinesdk.DiscoverySession, error) { return client.Answer(ctx, s.ID, "online") },
		func() (venturelinesdk.DiscoverySession, error) { return client.Next(ctx, s.ID) },
		func() (venturelinesdk.DiscoverySession, error) { return client.Skip(ctx, s.ID) },
		func() (venturelinesdk.DiscoverySession, error) { return client.Skip(ctx, s.ID) },
		func() (venturelinesdk.DiscoverySession, error) { return client.Answer(ctx, s.ID, "design") },
		func() (venturelinesdk.DiscoverySession, error) { return client.Next(ctx, s.ID) },
	}
	for i, move := range moves {
		if s, err = move(); err != nil {
			t.Fatalf("move %d: %v", i, err)
		}
	}
	if s.Stage != "business_area_selection" {
		t.Fatalf("stage = %s", s.Stage)
	}

	for i := 0; i < 4; i++ {
		cands, err := client.Generate(ctx, s.ID)
		if err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
		if len(cands) != config.DefaultCandidates {
			t.Fatalf("got %d candidates", len(cands))
		}
		if s, err = client.Choose(ctx, s.ID, cands[0].ID); err != nil {
			t.Fatalf("choose %d: %v", i, err)
		}
	}
	if s.Stage != "summary" || !s.Saved {
		t.Fatalf("summary should be saved: %+v", s)
	}

	first, err := client.Finalize(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := client.Finalize(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("finalize not idempotent: %s vs %s", first.ID, second.ID)
	}
	outs, err := client.DiscoveryOutputs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 1 || outs[0].Solution.Title == "" {
		t.Fatalf("outputs = %+v", outs)
	}

	_, err = client.Previous(ctx, s.ID)
	var apiErr *venturelinesdk.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "session_saved" {
		t.Fatalf("expected session_saved, got %v", err)
	}
}

func TestDiscoveryGenerationFailureKeepsSession(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	ctx := context.Background()
	client := srv.sdk(t, "u1", "")
	s, err := client.StartDiscovery(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, step := range []func() error{
		func() error { _, err := client.Next(ctx, s.ID); return err },
		func() error { _, err := client.Answer(ctx, s.ID, "no idea yet"); return err },
		func() error { _, err := client.Next(ctx, s.ID); return err },
		func() error { _, err := client.Answer(ctx, s.ID, "services"); return err },
		func() error { _, err := client.Next(ctx, s.ID); return err },
		func() error { _, err := client.Skip(ctx, s.ID); return err },
		func() error { _, err := client.Skip(ctx, s.ID); return err },
		func() error { _, err := client.Answer(ctx, s.ID, "cooking"); return err },
		func() error { _, err := client.Next(ctx, s.ID); return err },
	} {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}

	srv.Gen.fail = errors.New("timeout")
	_, err = client.Generate(ctx, s.ID)
	var apiErr *venturelinesdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %v", err)
	}
	got, err := client.Discovery(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage != "business_area_selection" || len(got.Candidates) != 0 || len(got.Selections) != 0 {
		t.Fatalf("failed generation changed the session: %+v", got)
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	ctx := context.Background()
	projectID := createProject(t, srv, "u1")
	client := srv.sdk(t, "u1", projectID)
	for i := 0; i < 3; i++ {
		if err := client.AddNote(ctx, "", fmt.Sprintf("note %d", i)); err != nil {
			t.Fatal(err)
		}
	}

	// project.created plus three signal.added
	page, err := client.EventsPage(ctx, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("first page = %+v", page)
	}
	if page.Items[0].ID <= page.Items[1].ID {
		t.Fatalf("events should be newest first: %+v", page.Items)
	}
	next, err := client.EventsPage(ctx, 2, page.NextCursor)
	if err != nil {
		t.Fatal(err)
	}
	if len(next.Items) != 2 || next.NextCursor != "" {
		t.Fatalf("second page = %+v", next)
	}
	if next.Items[0].ID >= page.Items[1].ID {
		t.Fatalf("pages overlap: %+v then %+v", page.Items, next.Items)
	}
}

func TestWebhookDeliveryIsSigned(t *testing.T) {
	type delivery struct {
		signature string
		event     string
		body      []byte
	}
	received := make(chan delivery, 8)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- delivery{
			signature: r.Header.Get(SignatureHeader),
			event:     r.Header.Get("X-Ventureline-Event"),
			body:      body,
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv, cleanup := newTestServer(t, func(cfg *config.Config) {
		cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Secret: "s3cret", Events: []string{"signal.added"}}}
	})
	defer cleanup()
	ctx := context.Background()

	d := newWebhookDispatcher(srv.Engine, nil)
	if d == nil {
		t.Fatalf("dispatcher not built")
	}
	projectID := createProject(t, srv, "u1")
	// The first pass only positions the cursor.
	d.dispatchAll(ctx)

	client := srv.sdk(t, "u1", projectID)
	if err := client.AddNote(ctx, "", "talked to three freelancers"); err != nil {
		t.Fatal(err)
	}
	d.dispatchAll(ctx)

	select {
	case got := <-received:
		if got.event != "signal.added" {
			t.Fatalf("event = %q", got.event)
		}
		if got.signature != Sign("s3cret", got.body) {
			t.Fatalf("signature mismatch: %s", got.signature)
		}
		var payload map[string]any
		if err := json.Unmarshal(got.body, &payload); err != nil {
			t.Fatal(err)
		}
		if payload["project_id"] != projectID {
			t.Fatalf("payload = %v", payload)
		}
	default:
		t.Fatalf("no webhook delivered")
	}
	select {
	case extra := <-received:
		t.Fatalf("unexpected delivery %s", extra.event)
	default:
	}
}
