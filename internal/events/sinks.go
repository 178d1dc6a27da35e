package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/devcarbon/internal/model"
	"github.com/sells-group/devcarbon/internal/resilience"
)

// ResultSaver persists calculation results.
type ResultSaver interface {
	SaveResult(ctx context.Context, r *model.CarbonCalculationResult) error
}

// StoreSink persists each completed result.
type StoreSink struct {
	saver ResultSaver
}

// NewStoreSink creates a StoreSink writing to saver.
func NewStoreSink(saver ResultSaver) *StoreSink {
	return &StoreSink{saver: saver}
}

// Name implements Sink.
func (s *StoreSink) Name() string { return "store" }

// Handle implements Sink.
func (s *StoreSink) Handle(ctx context.Context, e Event) error {
	if e.Type != CalculationCompleted {
		return nil
	}
	r := e.Result
	if err := s.saver.SaveResult(ctx, &r); err != nil {
		return eris.Wrapf(err, "events: store result %s", r.ID)
	}
	return nil
}

// WebhookSink POSTs each event as JSON to a URL, retrying transient failures.
type WebhookSink struct {
	url    string
	client *http.Client
	retry  resilience.RetryConfig
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithWebhookClient sets the HTTP client used for deliveries.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(s *WebhookSink) { s.client = c }
}

// WithWebhookRetry overrides the delivery retry policy.
func WithWebhookRetry(cfg resilience.RetryConfig) WebhookOption {
	return func(s *WebhookSink) { s.retry = cfg }
}

// NewWebhookSink creates a WebhookSink posting to url.
func NewWebhookSink(url string, timeout time.Duration, opts ...WebhookOption) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		retry:  resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = resilience.RetryLogger(s.Name(), url)
	}
	return s
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Handle implements Sink.
func (s *WebhookSink) Handle(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "events: marshal webhook payload")
	}
	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.post(ctx, payload)
	})
}

func (s *WebhookSink) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "events: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return resilience.TransportError("events: webhook", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	return resilience.ResponseError("events: webhook", resp)
}
