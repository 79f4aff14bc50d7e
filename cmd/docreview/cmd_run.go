package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"docreview/internal/extract"
	"docreview/internal/generate"
	"docreview/internal/render"
	"docreview/internal/workflow"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runReviewers []string
	runText      bool
	runPlain     bool
	runWidth     int

	// runGenerator overrides the configured provider; tests set it.
	runGenerator generate.Generator
)

// runCmd reviews a single document
var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Review a document with the selected personas",
	Long: `Extracts text from the file (.txt, .md, .docx, .pdf, .html) and runs it
through the supervisor, the selected reviewers and the aggregator. Feedback is
printed as each step finishes.

Example:
  docreview run essay.docx --reviewer strict --reviewer forgiving
  docreview run --text "A one line pitch." -r strict`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

func init() {
	runCmd.Flags().StringSliceVarP(&runReviewers, "reviewer", "r", nil, "Persona ID to review with (repeatable)")
	runCmd.Flags().BoolVar(&runText, "text", false, "Treat the argument as the document text instead of a file path")
	runCmd.Flags().BoolVar(&runPlain, "plain", false, "Print markdown without terminal styling")
	runCmd.Flags().IntVar(&runWidth, "width", 100, "Word wrap width")
	_ = runCmd.MarkFlagRequired("reviewer")
}

func readDocument(arg string, literal bool) (string, error) {
	if literal {
		return arg, nil
	}
	f, err := os.Open(arg)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return extract.Text(arg, f)
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if t := cfg.GetWorkflowTimeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	document, err := readDocument(args[0], runText)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, runGenerator)
	if err != nil {
		return err
	}
	defer a.Close()

	style := ""
	if runPlain {
		style = "notty"
	}
	term, err := render.NewTerminal(style, runWidth)
	if err != nil {
		return err
	}

	graph := a.current.Load()
	stream, err := a.executor.Execute(ctx, graph, document, runReviewers)
	if err != nil {
		return err
	}
	logger.Info("review started", zap.String("execution", stream.ID()), zap.Strings("reviewers", runReviewers))

	out := cmd.OutOrStdout()
	report, err := workflow.Collect(stream, func(ev workflow.NodeEvent) error {
		printEvent(out, term, graph, ev)
		return nil
	})
	if err != nil {
		return fmt.Errorf("review %s failed: %w", stream.ID(), err)
	}
	logger.Info("review finished", zap.String("execution", report.ExecutionID), zap.Strings("order", report.Order))
	return nil
}

func printEvent(out io.Writer, term *render.Terminal, graph *workflow.Graph, ev workflow.NodeEvent) {
	switch ev.Kind {
	case workflow.KindSupervisor:
		fmt.Fprintln(out, "== Supervisor ==")
		fmt.Fprintln(out, term.Render(ev.Fragment.SupervisorFeedback))
	case workflow.KindReviewer:
		p, _ := graph.Persona(ev.Node)
		fmt.Fprintf(out, "== %s ==\n", p.Name)
		fmt.Fprintln(out, term.Render(ev.Fragment.Reviews[p.Name]))
	case workflow.KindAggregator:
		fmt.Fprintln(out, "== Final Report ==")
		fmt.Fprintln(out, term.Render(ev.Fragment.FinalFeedback))
	}
}
