// Package inference talks to the remote handheld device detection service.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

const breakerName = "device-inference"

// Client posts frames to the detection service behind a circuit breaker.
// Every failure degrades to a "nothing detected" result.
type Client struct {
	base       *url.URL
	http       *http.Client
	logger     logger.Logger
	timeout    time.Duration
	tripAfter  uint32
	openFor    time.Duration
	detectPath string
	healthPath string

	cb *gobreaker.CircuitBreaker[model.DeviceResult]
}

type detectRequest struct {
	Image string `json:"image"`
}

type detection struct {
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
	ClassName  string    `json:"class_name"`
	AreaRatio  float64   `json:"area_ratio"`
}

type detectResponse struct {
	MobileDetected  bool        `json:"mobile_detected"`
	Detections      []detection `json:"detections"`
	Confidence      float64     `json:"confidence"`
	TotalDetections int         `json:"total_detections"`
	Error           string      `json:"error,omitempty"`
}

// New creates a client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if baseURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		return nil, ErrInvalidConfig
	}
	c := &Client{
		base:       u,
		timeout:    defaultTimeout,
		tripAfter:  defaultTripAfter,
		openFor:    defaultOpenTimeout,
		detectPath: defaultDetectPath,
		healthPath: defaultHealthPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("inference")
	}
	if c.http == nil {
		c.http = &http.Client{}
	}

	c.cb = gobreaker.NewCircuitBreaker[model.DeviceResult](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: defaultHalfOpenCalls,
		Timeout:     c.openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.tripAfter
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			c.logger.Info(context.Background(), "inference breaker state change",
				logger.String("from", from.String()), logger.String("to", to.String()))
			metrics.UpdateBreakerState(int(to))
		},
	})
	metrics.UpdateBreakerState(int(gobreaker.StateClosed))
	return c, nil
}

// Detect classifies one frame. On any failure it returns a degraded result
// together with the cause.
func (c *Client) Detect(ctx context.Context, image []byte) (model.DeviceResult, error) {
	res, err := c.cb.Execute(func() (model.DeviceResult, error) {
		return c.detect(ctx, image)
	})
	switch {
	case err == nil:
		metrics.RecordInferenceCall("success")
		return res, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordInferenceCall("rejected")
		return model.DeviceResult{Degraded: true}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		metrics.RecordInferenceCall("error")
		c.logger.Warn(ctx, "device inference failed", logger.Error(err))
		return model.DeviceResult{Degraded: true}, err
	}
}

func (c *Client) detect(ctx context.Context, image []byte) (model.DeviceResult, error) {
	body, err := json.Marshal(detectRequest{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return model.DeviceResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.detectPath), bytes.NewReader(body))
	if err != nil {
		return model.DeviceResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.DeviceResult{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.DeviceResult{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.DeviceResult{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out detectResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return model.DeviceResult{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	return toResult(out), nil
}

func toResult(r detectResponse) model.DeviceResult {
	res := model.DeviceResult{
		Detected:   r.MobileDetected,
		Confidence: r.Confidence,
		Boxes:      make([]model.DeviceBox, 0, len(r.Detections)),
	}
	for _, d := range r.Detections {
		b := model.DeviceBox{Class: d.ClassName, Confidence: d.Confidence, AreaRatio: d.AreaRatio}
		if len(d.BBox) == 4 {
			b.Box = model.Box{X: d.BBox[0], Y: d.BBox[1], Width: d.BBox[2] - d.BBox[0], Height: d.BBox[3] - d.BBox[1]}
		}
		res.Boxes = append(res.Boxes, b)
	}
	return res
}

// Health probes the service. It does not go through the breaker.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.healthPath), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// State reports the breaker state: closed, half-open or open.
func (c *Client) State() string {
	return c.cb.State().String()
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}
