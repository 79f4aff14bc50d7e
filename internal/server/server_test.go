package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"docreview/internal/extract"
	"docreview/internal/generate"
	"docreview/internal/persona"
	"docreview/internal/workflow"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

type fixture struct {
	srv     *httptest.Server
	client  *http.Client
	current *workflow.Current
	store   persona.Store
}

func newFixture(t *testing.T, gen generate.Generator) *fixture {
	t.Helper()
	store, err := persona.NewFileStore(filepath.Join(t.TempDir(), "personas.yaml"))
	require.NoError(t, err)

	current := &workflow.Current{}
	_, err = current.Reload(context.Background(), store)
	require.NoError(t, err)

	s := New(Options{
		Store:    store,
		Current:  current,
		Executor: workflow.NewExecutor(gen),
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, client: srv.Client(), current: current, store: store}
}

func (f *fixture) do(t *testing.T, method, path, contentType string, body io.Reader) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (f *fixture) doJSON(t *testing.T, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return f.do(t, method, path, "application/json", body)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, generate.Echo{})
	resp, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","graph_version":1,"reviewers":2}`, string(body))
}

func TestListPersonas(t *testing.T) {
	f := newFixture(t, generate.Echo{})
	resp, body := f.do(t, http.MethodGet, "/api/personas", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got personaListResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Personas, 2)
	assert.Equal(t, "forgiving", got.Personas[0].ID)
	assert.Equal(t, "strict", got.Personas[1].ID)
	assert.EqualValues(t, 1, got.GraphVersion)
}

func TestPutPersonaRecompiles(t *testing.T) {
	f := newFixture(t, generate.Echo{})

	resp, body := f.doJSON(t, http.MethodPut, "/api/personas/Travel%20Expert",
		personaRequest{Name: "Travel Expert", Prompt: "You know travel writing."})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var p persona.Persona
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, "travel_expert", p.ID)

	g := f.current.Load()
	assert.EqualValues(t, 2, g.Version())
	assert.True(t, g.HasReviewer("travel_expert"))

	resp, body = f.do(t, http.MethodGet, "/api/graph", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var desc workflow.Description
	require.NoError(t, json.Unmarshal(body, &desc))
	assert.Len(t, desc.Nodes, 5)
}

func TestPutPersonaErrors(t *testing.T) {
	f := newFixture(t, generate.Echo{})
	tests := []struct {
		name   string
		id     string
		body   any
		status int
	}{
		{"missing prompt", "x", personaRequest{Name: "X"}, http.StatusBadRequest},
		{"duplicate name", "other", personaRequest{Name: "Strict Reviewer", Prompt: "p"}, http.StatusConflict},
		{"reserved id", "supervisor", personaRequest{Name: "Boss", Prompt: "p"}, http.StatusBadRequest},
		{"not json", "x", "just a string", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.doJSON(t, http.MethodPut, "/api/personas/"+tt.id, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))

			var e errorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.NotEmpty(t, e.Message)
			assert.NotEmpty(t, e.Code)
		})
	}
	assert.EqualValues(t, 1, f.current.Load().Version(), "failed writes do not recompile")
}

func TestDeletePersona(t *testing.T) {
	f := newFixture(t, generate.Echo{})

	resp, _ := f.do(t, http.MethodDelete, "/api/personas/forgiving", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, f.current.Load().HasReviewer("forgiving"))

	resp, _ = f.do(t, http.MethodDelete, "/api/personas/forgiving", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/personas/strict", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.True(t, f.current.Load().HasReviewer("strict"))
}

func TestReviewJSON(t *testing.T) {
	f := newFixture(t, generate.Echo{})

	resp, body := f.doJSON(t, http.MethodPost, "/api/review",
		reviewRequest{Document: "A short essay.", Reviewers: []string{"strict", "forgiving"}})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got struct {
		workflow.Report
		HTML renderedFeedback `json:"html"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.NotEmpty(t, got.ExecutionID)
	assert.Len(t, got.Order, 4)
	assert.Contains(t, got.Reviews, "Strict Reviewer")
	assert.Contains(t, got.Reviews, "Forgiving Reviewer")
	assert.NotEmpty(t, got.FinalFeedback)
	assert.Contains(t, got.HTML.FinalFeedback, "<strong>")
	assert.Len(t, got.HTML.Reviews, 2)
}

func TestReviewErrors(t *testing.T) {
	failing := generate.Func(func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("quota exceeded")
	})
	tests := []struct {
		name   string
		gen    generate.Generator
		req    reviewRequest
		status int
	}{
		{"empty document", generate.Echo{}, reviewRequest{Document: "  ", Reviewers: []string{"strict"}}, http.StatusBadRequest},
		{"no reviewers", generate.Echo{}, reviewRequest{Document: "D"}, http.StatusBadRequest},
		{"unknown reviewer", generate.Echo{}, reviewRequest{Document: "D", Reviewers: []string{"ghost"}}, http.StatusBadRequest},
		{"generator down", failing, reviewRequest{Document: "D", Reviewers: []string{"strict"}}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.gen)
			resp, body := f.doJSON(t, http.MethodPost, "/api/review", tt.req)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))
		})
	}
}

func multipartBody(t *testing.T, fields map[string][]string, filename, content string) (string, io.Reader) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, vs := range fields {
		for _, v := range vs {
			require.NoError(t, mw.WriteField(k, v))
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("document_file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), &buf
}

func TestReviewMultipart(t *testing.T) {
	var seen []string
	gen := generate.Func(func(ctx context.Context, prompt string) (string, error) {
		seen = append(seen, prompt)
		return "ok", nil
	})
	f := newFixture(t, gen)

	ct, body := multipartBody(t, map[string][]string{
		"reviewers": {"strict"},
		"document":  {"ignored when a file is uploaded"},
	}, "notes.md", "# Uploaded notes")
	resp, data := f.do(t, http.MethodPost, "/api/review", ct, body)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	require.NotEmpty(t, seen)
	assert.Contains(t, seen[0], "# Uploaded notes")
	assert.NotContains(t, seen[0], "ignored when")

	ct, body = multipartBody(t, map[string][]string{"reviewers": {"strict"}, "document": {"pasted text"}}, "", "")
	resp, data = f.do(t, http.MethodPost, "/api/review", ct, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	ct, body = multipartBody(t, map[string][]string{"reviewers": {"strict"}}, "deck.pptx", "binary")
	resp, _ = f.do(t, http.MethodPost, "/api/review", ct, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ct, body = multipartBody(t, map[string][]string{"reviewers": {"strict"}}, "blank.txt", "   ")
	resp, _ = f.do(t, http.MethodPost, "/api/review", ct, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	for name, content := range map[string]string{
		"bad.txt":     "\xff\xfe\xfd",
		"broken.docx": "not a zip",
		"broken.pdf":  "%PDF-1.4 garbage",
	} {
		ct, body = multipartBody(t, map[string][]string{"reviewers": {"strict"}}, name, content)
		resp, data = f.do(t, http.MethodPost, "/api/review", ct, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
		assert.Contains(t, string(data), "could not extract text", name)
	}
}

func dialReview(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/review/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type wsFrame struct {
	Type    string           `json:"type"`
	Node    string           `json:"node"`
	Message string           `json:"message"`
	Status  int              `json:"status"`
	Report  *workflow.Report `json:"report"`
}

func TestReviewWebsocketStreamsEvents(t *testing.T) {
	f := newFixture(t, generate.Echo{})
	conn := dialReview(t, f)

	require.NoError(t, conn.WriteJSON(reviewRequest{Document: "D", Reviewers: []string{"strict", "forgiving"}}))

	var nodes []string
	for {
		var frame wsFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == "done" {
			require.NotNil(t, frame.Report)
			assert.Len(t, frame.Report.Reviews, 2)
			break
		}
		require.Equal(t, "event", frame.Type)
		nodes = append(nodes, frame.Node)
	}
	require.Len(t, nodes, 4)
	assert.Equal(t, workflow.SupervisorNode, nodes[0])
	assert.ElementsMatch(t, []string{"strict", "forgiving"}, nodes[1:3])
	assert.Equal(t, workflow.AggregatorNode, nodes[3])
}

func TestReviewWebsocketError(t *testing.T) {
	f := newFixture(t, generate.Echo{})
	conn := dialReview(t, f)

	require.NoError(t, conn.WriteJSON(reviewRequest{Document: "D", Reviewers: []string{"ghost"}}))

	var frame wsFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, http.StatusBadRequest, frame.Status)
	assert.Contains(t, frame.Message, "ghost")

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseProtocolError, closeErr.Code)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{workflow.ErrInvalidSelection, http.StatusBadRequest},
		{persona.ErrInvalid, http.StatusBadRequest},
		{extract.ErrUnsupportedFormat, http.StatusBadRequest},
		{fmt.Errorf("%w: notes.txt: bad bytes", extract.ErrUnreadable), http.StatusBadRequest},
		{persona.ErrNotFound, http.StatusNotFound},
		{persona.ErrDuplicateName, http.StatusConflict},
		{extract.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{workflow.ErrInvalidPersonaSet, http.StatusServiceUnavailable},
		{&workflow.NodeError{Node: "strict", Err: fmt.Errorf("%w: %w", workflow.ErrGeneration, context.DeadlineExceeded)}, http.StatusGatewayTimeout},
		{&workflow.NodeError{Node: "strict", Err: workflow.ErrGeneration}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForError(tt.err), tt.err.Error())
	}
}

func TestIsOriginAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://reviews.local:8080/api/review/ws", nil)
	assert.True(t, isOriginAllowed(req, nil))

	req.Header.Set("Origin", "http://reviews.local:3000")
	assert.True(t, isOriginAllowed(req, nil))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, isOriginAllowed(req, nil))
	assert.True(t, isOriginAllowed(req, []string{"evil.example"}))
	assert.False(t, isOriginAllowed(req, []string{"other.example"}))
}

func TestTruncateCloseReason(t *testing.T) {
	assert.Equal(t, "short", truncateCloseReason("short"))

	ascii := strings.Repeat("a", 200)
	assert.Len(t, truncateCloseReason(ascii), 123)

	// 122 ASCII bytes followed by a three-byte rune straddle the limit.
	mixed := strings.Repeat("a", 122) + "€€€"
	got := truncateCloseReason(mixed)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 122), got)
}
