package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ventureline/internal/domain"
	"ventureline/internal/generator"
)

var (
	ErrInvalidTransition = errors.New("invalid wizard transition")
	ErrUnknownCandidate  = errors.New("unknown candidate")
	// ErrSessionSaved is returned when a saved session is modified.
	ErrSessionSaved = errors.New("discovery session already saved")
)

// ArtifactStore persists a finished discovery output and returns its id.
type ArtifactStore interface {
	SaveDiscoveryOutput(ctx context.Context, out domain.DiscoveryOutput) (string, error)
}

// Engine applies funnel transitions to sessions. It holds no session state itself.
type Engine struct {
	Generator generator.Generator
	Store     ArtifactStore
	// Candidates is the exact number of candidates each selection stage expects.
	Candidates int
	Now        func() time.Time
	NewID      func() string
}

func (e Engine) now() string {
	t := time.Now()
	if e.Now != nil {
		t = e.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) candidates() int {
	if e.Candidates > 0 {
		return e.Candidates
	}
	return 6
}

// Start creates a new session for ownerID.
func (e Engine) Start(ownerID, projectID string) *Session {
	return NewSession(e.newID(), ownerID, projectID, e.now())
}

func transitionErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))
}

func current(s *Session) (StageDef, error) {
	def, ok := Lookup(s.Stage)
	if !ok {
		return StageDef{}, transitionErr("unknown stage %q", s.Stage)
	}
	return def, nil
}

func mutable(s *Session) error {
	if s.Saved {
		return ErrSessionSaved
	}
	s.ensureMaps()
	return nil
}

// Answer records the answer for the current input stage. Any change to the
// generation context, including answering a stage that was skipped or left blank,
// discards the selections made after it.
func (e Engine) Answer(s *Session, value string) error {
	if err := mutable(s); err != nil {
		return err
	}
	def, err := current(s)
	if err != nil {
		return err
	}
	if !def.Input {
		return transitionErr("stage %s does not take an answer", def.Key)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return transitionErr("answer for %s is empty", def.Key)
	}
	if s.Answers[def.Key] != value {
		s.dropAfter(def.Key)
	}
	s.Answers[def.Key] = value
	delete(s.Skipped, def.Key)
	s.UpdatedAt = e.now()
	return nil
}

// Next advances one stage once the current stage is satisfied.
func (e Engine) Next(s *Session) error {
	if err := mutable(s); err != nil {
		return err
	}
	def, err := current(s)
	if err != nil {
		return err
	}
	if def.Key == StageSummary {
		return transitionErr("summary is the last stage")
	}
	switch {
	case def.Input && !def.Optional && s.Answers[def.Key] == "":
		return transitionErr("stage %s requires an answer", def.Key)
	case def.Selection():
		if _, ok := s.Selection(def.Key); !ok {
			return transitionErr("stage %s requires a choice", def.Key)
		}
	}
	s.Stage = stages[position(def.Key)+1].Key
	s.UpdatedAt = e.now()
	return nil
}

// Skip bypasses the current optional stage, clearing any answer given for it.
func (e Engine) Skip(s *Session) error {
	if err := mutable(s); err != nil {
		return err
	}
	def, err := current(s)
	if err != nil {
		return err
	}
	if !def.Optional {
		return transitionErr("stage %s is not optional", def.Key)
	}
	if _, answered := s.Answers[def.Key]; answered {
		delete(s.Answers, def.Key)
		s.dropAfter(def.Key)
	}
	s.Skipped[def.Key] = true
	s.Stage = stages[position(def.Key)+1].Key
	s.UpdatedAt = e.now()
	return nil
}

// Previous moves back one stage. Nothing recorded so far is cleared.
func (e Engine) Previous(s *Session) error {
	if err := mutable(s); err != nil {
		return err
	}
	def, err := current(s)
	if err != nil {
		return err
	}
	p := position(def.Key)
	if p == 0 {
		return transitionErr("landing is the first stage")
	}
	s.Stage = stages[p-1].Key
	s.UpdatedAt = e.now()
	return nil
}

// Context returns the generation context for stage: input answers in stage order,
// then every confirmed selection made before stage.
func Context(s *Session, stage Stage) []string {
	limit := position(stage)
	var out []string
	for _, def := range stages {
		if position(def.Key) >= limit {
			break
		}
		if def.Input {
			if v := s.Answers[def.Key]; v != "" {
				out = append(out, answerLabel[def.Key]+": "+v)
			}
			continue
		}
		if def.Selection() {
			if sel, ok := s.Selection(def.Key); ok {
				out = append(out, fmt.Sprintf("%s: %s - %s", selectionLabel[def.Key], sel.Chosen.Title, sel.Chosen.Description))
			}
		}
	}
	return out
}

// Generate requests a fresh candidate set for the current selection stage. On any
// failure the session is left exactly as it was and the error is a
// *generator.GenerationError; retrying sends the same context.
func (e Engine) Generate(ctx context.Context, s *Session) ([]domain.Candidate, error) {
	if err := mutable(s); err != nil {
		return nil, err
	}
	def, err := current(s)
	if err != nil {
		return nil, err
	}
	if !def.Selection() {
		return nil, transitionErr("stage %s does not generate candidates", def.Key)
	}
	if e.Generator == nil {
		return nil, &generator.GenerationError{Kind: def.Kind, Reason: "no generator configured"}
	}
	cands, err := generator.Candidates(ctx, e.Generator, def.Kind, Context(s, def.Key), e.candidates())
	if err != nil {
		return nil, err
	}
	s.Pending[def.Key] = cands
	s.UpdatedAt = e.now()
	return cands, nil
}

// Choose confirms candidateID from the pending set of the current selection stage
// and advances. A choice that differs from an earlier one at the same stage clears
// every later selection.
func (e Engine) Choose(s *Session, candidateID string) (Selection, error) {
	if err := mutable(s); err != nil {
		return Selection{}, err
	}
	def, err := current(s)
	if err != nil {
		return Selection{}, err
	}
	if !def.Selection() {
		return Selection{}, transitionErr("stage %s has no candidates", def.Key)
	}
	set := s.Pending[def.Key]
	if len(set) == 0 {
		return Selection{}, transitionErr("stage %s has no generated candidates", def.Key)
	}
	var chosen *domain.Candidate
	for i := range set {
		if set[i].ID == candidateID {
			chosen = &set[i]
			break
		}
	}
	if chosen == nil {
		return Selection{}, fmt.Errorf("%w: %s", ErrUnknownCandidate, candidateID)
	}
	if prev, ok := s.Selection(def.Key); !ok || prev.Chosen.ID != chosen.ID || prev.Chosen.Title != chosen.Title {
		s.dropAfter(def.Key)
	}
	sel := Selection{Stage: def.Key, Chosen: *chosen, CandidateSet: set}
	s.setSelection(sel)
	delete(s.Pending, def.Key)
	s.Stage = stages[position(def.Key)+1].Key
	s.UpdatedAt = e.now()
	return sel, nil
}

// Output assembles the discovery output of a session on the summary stage without
// saving it.
func Output(s *Session) (domain.DiscoveryOutput, error) {
	if s.Stage != StageSummary {
		return domain.DiscoveryOutput{}, transitionErr("session is on %s, not summary", s.Stage)
	}
	out := domain.DiscoveryOutput{
		ID:        s.OutputID,
		OwnerID:   s.OwnerID,
		ProjectID: s.ProjectID,
		SessionID: s.ID,
		Answers:   map[string]string{},
		CreatedAt: s.SavedAt,
	}
	for k, v := range s.Answers {
		out.Answers[string(k)] = v
	}
	targets := []struct {
		stage Stage
		dst   *domain.Candidate
	}{
		{StageBusinessArea, &out.BusinessArea},
		{StageCustomer, &out.Customer},
		{StageJob, &out.Job},
		{StageSolution, &out.Solution},
	}
	for _, t := range targets {
		sel, ok := s.Selection(t.stage)
		if !ok {
			return domain.DiscoveryOutput{}, transitionErr("no choice recorded for %s", t.stage)
		}
		*t.dst = sel.Chosen
	}
	return out, nil
}

// Finalize saves the session's output exactly once. A session that was already
// saved returns its output without touching the store. On a store failure the
// session stays unsaved so the call can be repeated.
func (e Engine) Finalize(ctx context.Context, s *Session) (domain.DiscoveryOutput, error) {
	out, err := Output(s)
	if err != nil {
		return domain.DiscoveryOutput{}, err
	}
	if s.Saved {
		return out, nil
	}
	if e.Store == nil {
		return domain.DiscoveryOutput{}, errors.New("no artifact store configured")
	}
	out.ID = e.newID()
	out.CreatedAt = e.now()
	id, err := e.Store.SaveDiscoveryOutput(ctx, out)
	if err != nil {
		return domain.DiscoveryOutput{}, err
	}
	if id != "" {
		out.ID = id
	}
	s.Saved = true
	s.OutputID = out.ID
	s.SavedAt = out.CreatedAt
	s.UpdatedAt = out.CreatedAt
	return out, nil
}
