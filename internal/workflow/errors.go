package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPersonaSet is returned by Compile for empty snapshots,
	// duplicate or reserved IDs and unnamed personas.
	ErrInvalidPersonaSet = errors.New("invalid persona set")
	// ErrInvalidSelection is returned by Execute before any node runs when the
	// selection is empty or names a persona the graph does not know.
	ErrInvalidSelection = errors.New("invalid selection")
	// ErrGeneration marks a node whose text generator call failed.
	ErrGeneration = errors.New("generation failed")
)

// Phase is the lifecycle position of one execution.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseSupervisor Phase = "supervisor_running"
	PhaseFanout     Phase = "fanout_running"
	PhaseAggregator Phase = "aggregator_running"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// NodeError reports which node failed and in which phase.
type NodeError struct {
	Phase Phase
	Node  string
	Err   error
}

func (e *NodeError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("execution failed during %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("node %s failed during %s: %v", e.Node, e.Phase, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
