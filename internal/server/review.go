package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"docreview/internal/extract"
	"docreview/internal/render"
	"docreview/internal/workflow"
)

const maxFormMemory = 8 << 20

type reviewRequest struct {
	Document  string   `json:"document"`
	Reviewers []string `json:"reviewers"`
}

type renderedFeedback struct {
	SupervisorFeedback string            `json:"supervisor_feedback,omitempty"`
	Reviews            map[string]string `json:"reviews,omitempty"`
	FinalFeedback      string            `json:"final_feedback,omitempty"`
}

type reviewResponse struct {
	*workflow.Report
	HTML renderedFeedback `json:"html"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) *apiError {
	req, apiErr := parseReviewRequest(w, r)
	if apiErr != nil {
		return apiErr
	}

	ctx, cancel := s.reviewContext(r.Context())
	defer cancel()

	report, err := s.runReview(ctx, req, nil)
	if err != nil {
		s.log.Warn("review failed: %v", err)
		return toAPIError(err)
	}

	html, err := renderFragment(workflow.Fragment{
		SupervisorFeedback: report.SupervisorFeedback,
		Reviews:            report.Reviews,
		FinalFeedback:      report.FinalFeedback,
	})
	if err != nil {
		return toAPIError(err)
	}
	writeJSON(w, http.StatusOK, reviewResponse{Report: report, HTML: html})
	return nil
}

// parseReviewRequest accepts a JSON body or a multipart form. In a form an
// uploaded document_file takes precedence over the document text field.
func parseReviewRequest(w http.ResponseWriter, r *http.Request) (reviewRequest, *apiError) {
	var req reviewRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data", "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(w, r.Body, extract.MaxSize+maxFormMemory)
		if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return req, &apiError{Status: http.StatusBadRequest, Message: "invalid form: " + err.Error()}
		}
		req.Reviewers = r.Form["reviewers"]

		file, header, err := r.FormFile("document_file")
		switch {
		case err == nil:
			defer file.Close()
			text, err := extract.Text(header.Filename, file)
			if err != nil {
				return req, toAPIError(err)
			}
			req.Document = text
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			req.Document = r.FormValue("document")
		default:
			return req, &apiError{Status: http.StatusBadRequest, Message: "invalid upload: " + err.Error()}
		}

	default:
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, extract.MaxSize)).Decode(&req); err != nil {
			return req, &apiError{Status: http.StatusBadRequest, Message: "invalid review body: " + err.Error()}
		}
	}

	if apiErr := req.validate(); apiErr != nil {
		return req, apiErr
	}
	return req, nil
}

func (req reviewRequest) validate() *apiError {
	if strings.TrimSpace(req.Document) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "Please provide a document to review, either by uploading a file or pasting content."}
	}
	if len(req.Reviewers) == 0 {
		return &apiError{Status: http.StatusBadRequest, Message: "Please select at least one reviewer."}
	}
	return nil
}

func (s *Server) reviewContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(parent, s.timeout)
	}
	return context.WithCancel(parent)
}

// runReview executes against the graph current at call time.
func (s *Server) runReview(ctx context.Context, req reviewRequest, onEvent func(workflow.NodeEvent) error) (*workflow.Report, error) {
	stream, err := s.executor.Execute(ctx, s.current.Load(), req.Document, req.Reviewers)
	if err != nil {
		return nil, err
	}
	s.log.Info("review %s started with %v", stream.ID(), req.Reviewers)
	return workflow.Collect(stream, onEvent)
}

func renderFragment(f workflow.Fragment) (renderedFeedback, error) {
	var (
		out renderedFeedback
		err error
	)
	if f.SupervisorFeedback != "" {
		if out.SupervisorFeedback, err = render.HTML(f.SupervisorFeedback); err != nil {
			return out, err
		}
	}
	if len(f.Reviews) > 0 {
		out.Reviews = make(map[string]string, len(f.Reviews))
		for name, text := range f.Reviews {
			if out.Reviews[name], err = render.HTML(text); err != nil {
				return out, err
			}
		}
	}
	if f.FinalFeedback != "" {
		if out.FinalFeedback, err = render.HTML(f.FinalFeedback); err != nil {
			return out, err
		}
	}
	return out, nil
}
