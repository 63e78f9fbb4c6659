// Package notifier posts job progress and terminal status back to the
// caller-supplied callback URL. It is injected into the Job Executor as
// an explicit collaborator.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"mediaworker/pkg/result"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "MediaQueue/1.0"
)

// Notifier is the capability the Job Executor depends on to reach the
// caller. A failing POST is logged, never propagated as a job failure;
// the job's terminal state is already decided by the time a callback
// fires.
type Notifier interface {
	Progress(ctx context.Context, callbackURL string, p ProgressPayload)
	Success(ctx context.Context, callbackURL string, s SuccessPayload)
	Failure(ctx context.Context, callbackURL string, f FailurePayload)
}

// ProgressPayload mirrors the outbound progress callback shape.
type ProgressPayload struct {
	PostID       string  `json:"postId"`
	Progress     float64 `json:"progress"`
	Message      string  `json:"message"`
	Attempt      int     `json:"attempt"`
	Status       string  `json:"status"`
	Type         string  `json:"type"`
	CurrentMedia int     `json:"currentMedia"`
	TotalMedia   int     `json:"totalMedia"`
}

// SuccessPayload mirrors the terminal success callback shape.
type SuccessPayload struct {
	PostID         string              `json:"postId"`
	MediaResults   []result.ItemResult `json:"mediaResults"`
	TotalProcessed int                 `json:"totalProcessed"`
	Attempt        int                 `json:"attempt"`
	Status         string              `json:"status"`
	Progress       int                 `json:"progress"`
	Message        string              `json:"message"`
}

// FailurePayload mirrors the terminal failure callback shape.
type FailurePayload struct {
	PostID   string `json:"postId"`
	Error    string `json:"error"`
	Attempt  int    `json:"attempt"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// HTTPNotifier is the default Notifier, a plain net/http client.
type HTTPNotifier struct {
	client *http.Client
}

// New returns an HTTPNotifier posting with the given timeout; timeout <= 0
// falls back to the 10s default.
func New(timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPNotifier{client: &http.Client{Timeout: timeout}}
}

func (n *HTTPNotifier) Progress(ctx context.Context, callbackURL string, p ProgressPayload) {
	p.Status = "processing"
	p.Type = "progress"
	n.post(ctx, callbackURL, p)
}

func (n *HTTPNotifier) Success(ctx context.Context, callbackURL string, s SuccessPayload) {
	s.Status = "success"
	n.post(ctx, callbackURL, s)
}

func (n *HTTPNotifier) Failure(ctx context.Context, callbackURL string, f FailurePayload) {
	f.Status = "failed"
	n.post(ctx, callbackURL, f)
}

func (n *HTTPNotifier) post(ctx context.Context, callbackURL string, payload any) {
	if callbackURL == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Warn("callback payload marshal failed", "url", callbackURL, "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		log.Warn("callback request build failed", "url", callbackURL, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		log.Warn("callback post failed", "url", callbackURL, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		log.Warn("callback returned non-2xx", "url", callbackURL, "status", resp.StatusCode)
	}
}
