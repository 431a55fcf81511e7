package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/widgetly-platform/widgetly/internal/metrics"
)

// ErrAssistantFailed is returned when the assistant service answers with an error.
var ErrAssistantFailed = errors.New("assistant call failed")

// Assistant is the external conversational service behind the widget.
type Assistant interface {
	CreateThread(ctx context.Context, clientID string) (string, error)
	Reply(ctx context.Context, threadID, message string) (string, error)
}

// HTTPAssistant calls the assistant service over HTTP.
type HTTPAssistant struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPAssistant creates an assistant client with the given call timeout.
func NewHTTPAssistant(baseURL, apiKey string, timeout time.Duration) *HTTPAssistant {
	return &HTTPAssistant{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type threadRequest struct {
	ClientID string `json:"client_id"`
}

type threadResponse struct {
	ID string `json:"id"`
}

type replyRequest struct {
	Message string `json:"message"`
}

type replyResponse struct {
	Reply string `json:"reply"`
}

func (a *HTTPAssistant) CreateThread(ctx context.Context, clientID string) (string, error) {
	var resp threadResponse
	if err := a.post(ctx, "create_thread", "/v1/threads", threadRequest{ClientID: clientID}, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: empty thread id", ErrAssistantFailed)
	}
	return resp.ID, nil
}

func (a *HTTPAssistant) Reply(ctx context.Context, threadID, message string) (string, error) {
	var resp replyResponse
	path := "/v1/threads/" + url.PathEscape(threadID) + "/replies"
	if err := a.post(ctx, "reply", path, replyRequest{Message: message}, &resp); err != nil {
		return "", err
	}
	return resp.Reply, nil
}

func (a *HTTPAssistant) post(ctx context.Context, op, path string, in, out any) (err error) {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.AssistantCallDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAssistantFailed, op, err)
	}
	defer resp.Body.Close()

	status = strconv.Itoa(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s: unexpected status %d", ErrAssistantFailed, op, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decoding response: %w", ErrAssistantFailed, op, err)
	}
	return nil
}
