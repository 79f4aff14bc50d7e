package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"docreview/internal/generate"
	"docreview/internal/persona"
)

// NodeFunc is one node computation: a pure function of the state slice it
// reads, whose only side effect is a single Generate call.
type NodeFunc func(ctx context.Context, gen generate.Generator, state State) (Fragment, error)

func supervisorNode(ctx context.Context, gen generate.Generator, state State) (Fragment, error) {
	out, err := gen.Generate(ctx, fmt.Sprintf(SupervisorPrompt, state.Document))
	if err != nil {
		return Fragment{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return Fragment{SupervisorFeedback: out}, nil
}

// reviewerNode closes over p, so the set of reviewer nodes is fixed when the
// graph is compiled.
func reviewerNode(p persona.Persona) NodeFunc {
	return func(ctx context.Context, gen generate.Generator, state State) (Fragment, error) {
		out, err := gen.Generate(ctx, fmt.Sprintf(ReviewerPrompt, p.Prompt, state.Document))
		if err != nil {
			return Fragment{}, fmt.Errorf("%w: %w", ErrGeneration, err)
		}
		return Fragment{Reviews: map[string]string{p.Name: out}}, nil
	}
}

func aggregatorNode(ctx context.Context, gen generate.Generator, state State) (Fragment, error) {
	prompt := fmt.Sprintf(AggregatorPrompt, state.SupervisorFeedback, combineReviews(state.Reviews))
	out, err := gen.Generate(ctx, prompt)
	if err != nil {
		return Fragment{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return Fragment{FinalFeedback: out}, nil
}

// combineReviews renders reviews ordered by reviewer name so the aggregator
// prompt does not depend on completion order.
func combineReviews(reviews map[string]string) string {
	names := make([]string, 0, len(reviews))
	for name := range reviews {
		names = append(names, name)
	}
	sort.Strings(names)

	blocks := make([]string, 0, len(names))
	for _, name := range names {
		blocks = append(blocks, fmt.Sprintf("Review from %s:\n%s", name, reviews[name]))
	}
	return strings.Join(blocks, "\n\n")
}
