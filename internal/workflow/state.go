package workflow

import "maps"

// State is the shared state threaded through one execution. It is only
// mutated through Merge, and only by the goroutine that drives the Stream.
type State struct {
	Document           string            `json:"document"`
	Selected           []string          `json:"selected"`
	SupervisorFeedback string            `json:"supervisor_feedback,omitempty"`
	Reviews            map[string]string `json:"reviews"`
	FinalFeedback      string            `json:"final_feedback,omitempty"`
}

// Fragment is the partial state a node returns.
type Fragment struct {
	SupervisorFeedback string            `json:"supervisor_feedback,omitempty"`
	Reviews            map[string]string `json:"reviews,omitempty"`
	FinalFeedback      string            `json:"final_feedback,omitempty"`
}

func newState(document string, selected []string) State {
	return State{
		Document: document,
		Selected: append([]string(nil), selected...),
		Reviews:  make(map[string]string),
	}
}

// Merge folds a fragment into the state. Reviews are unioned with the
// incoming entry winning on a key collision; the scalar fields are written
// only by their single producing node.
func (s *State) Merge(f Fragment) {
	if f.SupervisorFeedback != "" {
		s.SupervisorFeedback = f.SupervisorFeedback
	}
	if s.Reviews == nil {
		s.Reviews = make(map[string]string, len(f.Reviews))
	}
	maps.Copy(s.Reviews, f.Reviews)
	if f.FinalFeedback != "" {
		s.FinalFeedback = f.FinalFeedback
	}
}

// Snapshot returns a deep copy safe to hand to another goroutine.
func (s State) Snapshot() State {
	out := s
	out.Selected = append([]string(nil), s.Selected...)
	out.Reviews = maps.Clone(s.Reviews)
	if out.Reviews == nil {
		out.Reviews = make(map[string]string)
	}
	return out
}

func (f Fragment) clone() Fragment {
	out := f
	out.Reviews = maps.Clone(f.Reviews)
	return out
}
