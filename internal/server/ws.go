package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"docreview/internal/workflow"

	"github.com/gorilla/websocket"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 4096
	wsWriteTimeout    = 10 * time.Second
	wsRequestTimeout  = 30 * time.Second
)

type wsEventFrame struct {
	Type     string            `json:"type"`
	Node     string            `json:"node"`
	Kind     workflow.NodeKind `json:"kind"`
	Fragment workflow.Fragment `json:"fragment"`
	HTML     renderedFeedback  `json:"html"`
}

type wsDoneFrame struct {
	Type   string           `json:"type"`
	Report *workflow.Report `json:"report"`
}

type wsErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// handleReviewWS reads one review request from the socket and streams every
// node event as it completes, followed by a done or error frame.
func (s *Server) handleReviewWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, s.allowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var req reviewRequest
	_ = conn.SetReadDeadline(time.Now().Add(wsRequestTimeout))
	if err := conn.ReadJSON(&req); err != nil {
		s.writeWSError(conn, &apiError{Status: http.StatusBadRequest, Message: "invalid review request: " + err.Error()})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	if apiErr := req.validate(); apiErr != nil {
		s.writeWSError(conn, apiErr)
		return
	}

	ctx, cancel := s.reviewContext(r.Context())
	defer cancel()

	// A client that goes away cancels the review.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()
	defer func() {
		_ = conn.Close()
		<-readerDone
	}()

	report, err := s.runReview(ctx, req, func(ev workflow.NodeEvent) error {
		html, err := renderFragment(ev.Fragment)
		if err != nil {
			return err
		}
		return writeWSJSON(conn, wsEventFrame{
			Type:     "event",
			Node:     ev.Node,
			Kind:     ev.Kind,
			Fragment: ev.Fragment,
			HTML:     html,
		})
	})
	if err != nil {
		s.log.Warn("websocket review failed: %v", err)
		s.writeWSError(conn, toAPIError(err))
		return
	}

	if err := writeWSJSON(conn, wsDoneFrame{Type: "done", Report: report}); err != nil {
		return
	}
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "review complete"), deadline)
}

func writeWSJSON(conn *websocket.Conn, payload any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}

// writeWSError sends an error envelope followed by a close frame.
func (s *Server) writeWSError(conn *websocket.Conn, apiErr *apiError) {
	deadline := time.Now().Add(wsWriteTimeout)
	_ = writeWSJSON(conn, wsErrorFrame{Type: "error", Message: apiErr.Message, Status: apiErr.Status})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCodeForStatus(apiErr.Status), truncateCloseReason(apiErr.Message)), deadline)
}

func closeCodeForStatus(status int) int {
	switch {
	case status == http.StatusBadRequest:
		return websocket.CloseProtocolError
	case status == http.StatusServiceUnavailable:
		return websocket.CloseTryAgainLater
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}

func truncateCloseReason(reason string) string {
	const maxReasonBytes = 123
	if len(reason) <= maxReasonBytes {
		return reason
	}
	// Back up to a rune boundary so the reason stays valid UTF-8.
	cut := maxReasonBytes
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

// isOriginAllowed accepts same-host origins, or only the configured ones
// when a list is given. Requests without an Origin header are allowed.
func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return false
	}
	originHost := parsed.Hostname()

	if len(allowed) > 0 {
		for _, a := range allowed {
			if strings.EqualFold(origin, a) || strings.EqualFold(originHost, a) {
				return true
			}
		}
		return false
	}

	requestHost := r.Host
	if u, err := url.Parse("http://" + r.Host); err == nil {
		requestHost = u.Hostname()
	}
	return strings.EqualFold(originHost, requestHost)
}
