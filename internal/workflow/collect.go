package workflow

import (
	"errors"
	"io"
	"maps"
)

// Report is the folded result of one execution.
type Report struct {
	ExecutionID        string            `json:"execution_id"`
	GraphVersion       uint64            `json:"graph_version"`
	SupervisorFeedback string            `json:"supervisor_feedback"`
	Reviews            map[string]string `json:"reviews"`
	FinalFeedback      string            `json:"final_feedback"`
	Order              []string          `json:"order"`
}

// Collect drains s, calling onEvent (if non-nil) for each event as it
// arrives. On failure the partial report is returned alongside the error.
// An error from onEvent stops the execution and is returned as is.
func Collect(s *Stream, onEvent func(NodeEvent) error) (*Report, error) {
	defer s.Close()

	r := &Report{
		ExecutionID:  s.ID(),
		GraphVersion: s.Graph().Version(),
		Reviews:      make(map[string]string),
	}
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return r, nil
		}
		if err != nil {
			return r, err
		}

		r.Order = append(r.Order, ev.Node)
		if ev.Fragment.SupervisorFeedback != "" {
			r.SupervisorFeedback = ev.Fragment.SupervisorFeedback
		}
		maps.Copy(r.Reviews, ev.Fragment.Reviews)
		if ev.Fragment.FinalFeedback != "" {
			r.FinalFeedback = ev.Fragment.FinalFeedback
		}

		if onEvent != nil {
			if err := onEvent(ev); err != nil {
				return r, err
			}
		}
	}
}
