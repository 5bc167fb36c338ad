package simulate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/types"
)

const (
	maxEventsPerRequest = 500
	maxReplyBytes       = 4 << 20
)

// startRequest mirrors the body of POST /sessions.
type startRequest struct {
	SessionID       string   `json:"session_id,omitempty"`
	MockID          string   `json:"mock_id"`
	UserEmail       string   `json:"user_email,omitempty"`
	GenerateID      bool     `json:"generate_id,omitempty"`
	IntervalMS      int      `json:"interval_ms,omitempty"`
	DisabledSignals []string `json:"disabled_signals,omitempty"`
}

type errorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client talks to the proctor HTTP API.
type Client struct {
	base string
	hc   *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{base: baseURL, hc: &http.Client{Timeout: timeout}}
}

// do sends body as JSON and decodes a reply with the wanted status into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any, want int) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode != want {
		var e errorReply
		if json.Unmarshal(raw, &e) == nil && e.Message != "" {
			return fmt.Errorf("%w: %s %s: %d %s", ErrUnexpectedReply, method, path, resp.StatusCode, e.Message)
		}
		return fmt.Errorf("%w: %s %s: %d", ErrUnexpectedReply, method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", ErrUnexpectedReply, method, path, err)
	}
	return nil
}

func sessionPath(id, suffix string) string {
	return "/sessions/" + url.PathEscape(id) + suffix
}

// Health checks that the server answers its health probe.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, http.StatusOK)
}

// StartSession starts or restarts a session.
func (c *Client) StartSession(ctx context.Context, s *Session) (model.Aggregate, error) {
	req := startRequest{
		SessionID:       s.ID,
		MockID:          s.MockID,
		UserEmail:       s.UserEmail,
		GenerateID:      s.GenerateID,
		IntervalMS:      s.IntervalMS,
		DisabledSignals: s.DisabledSignals,
	}
	var agg model.Aggregate
	err := c.do(ctx, http.MethodPost, "/sessions", req, &agg, http.StatusCreated)
	return agg, err
}

// PushEvents sends events in request-sized batches and sums the outcomes.
func (c *Client) PushEvents(ctx context.Context, id string, events []model.InputEvent) (types.PushResult, error) {
	var total types.PushResult
	for start := 0; start < len(events); start += maxEventsPerRequest {
		end := min(start+maxEventsPerRequest, len(events))
		body := struct {
			Events []model.InputEvent `json:"events"`
		}{Events: events[start:end]}

		var res types.PushResult
		if err := c.do(ctx, http.MethodPost, sessionPath(id, "/events"), body, &res, http.StatusAccepted); err != nil {
			return total, err
		}
		total.Accepted += res.Accepted
		total.Duplicates += res.Duplicates
		total.Dropped += res.Dropped
	}
	return total, nil
}

// Observe posts camera and audio readings.
func (c *Client) Observe(ctx context.Context, id string, obs *types.Observation) error {
	return c.do(ctx, http.MethodPost, sessionPath(id, "/observations"), obs, nil, http.StatusAccepted)
}

// Answer attaches a risk snapshot to a question.
func (c *Client) Answer(ctx context.Context, id, questionID string) (model.AnswerSnapshot, error) {
	body := map[string]string{"question_id": questionID}
	var snap model.AnswerSnapshot
	err := c.do(ctx, http.MethodPost, sessionPath(id, "/answers"), body, &snap, http.StatusCreated)
	return snap, err
}

// Risk reads the live score.
func (c *Client) Risk(ctx context.Context, id string) (model.LiveRisk, error) {
	var live model.LiveRisk
	err := c.do(ctx, http.MethodGet, sessionPath(id, "/risk"), nil, &live, http.StatusOK)
	return live, err
}

// End closes a session.
func (c *Client) End(ctx context.Context, id string) (model.Aggregate, error) {
	var agg model.Aggregate
	err := c.do(ctx, http.MethodPost, sessionPath(id, "/end"), nil, &agg, http.StatusOK)
	return agg, err
}

// Top lists the riskiest sessions.
func (c *Client) Top(ctx context.Context, n int) ([]types.Entry, error) {
	var entries []types.Entry
	err := c.do(ctx, http.MethodGet, "/sessions/top?limit="+strconv.Itoa(n), nil, &entries, http.StatusOK)
	return entries, err
}
