package wizard

import "ventureline/internal/domain"

// Selection is one confirmed choice together with the candidate set it was made from.
type Selection struct {
	Stage        Stage              `json:"stage"`
	Chosen       domain.Candidate   `json:"chosen"`
	CandidateSet []domain.Candidate `json:"candidate_set"`
}

// Session is the ephemeral state of one funnel traversal.
type Session struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	ProjectID string `json:"project_id,omitempty"`
	Stage     Stage  `json:"stage"`
	// Answers holds input-stage answers keyed by stage.
	Answers map[Stage]string `json:"answers,omitempty"`
	Skipped map[Stage]bool   `json:"skipped,omitempty"`
	// Selections are kept in stage order.
	Selections []Selection `json:"selections,omitempty"`
	// Pending holds generated candidates not yet chosen from.
	Pending map[Stage][]domain.Candidate `json:"pending,omitempty"`
	// Saved is the "not yet saved" guard for the summary artifact.
	Saved     bool   `json:"saved"`
	OutputID  string `json:"output_id,omitempty"`
	SavedAt   string `json:"saved_at,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// NewSession starts a session on the landing stage.
func NewSession(id, ownerID, projectID, now string) *Session {
	return &Session{
		ID:        id,
		OwnerID:   ownerID,
		ProjectID: projectID,
		Stage:     StageLanding,
		Answers:   map[Stage]string{},
		Skipped:   map[Stage]bool{},
		Pending:   map[Stage][]domain.Candidate{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Selection returns the confirmed choice for stage.
func (s *Session) Selection(stage Stage) (Selection, bool) {
	for _, sel := range s.Selections {
		if sel.Stage == stage {
			return sel, true
		}
	}
	return Selection{}, false
}

func (s *Session) setSelection(sel Selection) {
	for i := range s.Selections {
		if s.Selections[i].Stage == sel.Stage {
			s.Selections[i] = sel
			return
		}
	}
	s.Selections = append(s.Selections, sel)
}

// dropAfter clears selections and pending candidates of every stage after stage.
func (s *Session) dropAfter(stage Stage) {
	p := position(stage)
	kept := s.Selections[:0]
	for _, sel := range s.Selections {
		if position(sel.Stage) <= p {
			kept = append(kept, sel)
		}
	}
	s.Selections = kept
	for k := range s.Pending {
		if position(k) > p {
			delete(s.Pending, k)
		}
	}
}

func (s *Session) ensureMaps() {
	if s.Answers == nil {
		s.Answers = map[Stage]string{}
	}
	if s.Skipped == nil {
		s.Skipped = map[Stage]bool{}
	}
	if s.Pending == nil {
		s.Pending = map[Stage][]domain.Candidate{}
	}
}
