package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/akkaui/payments/internal/circuitbreaker"
	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/httputil"
	"github.com/akkaui/payments/internal/metrics"
)

// RetryConfig holds callback retry configuration.
type RetryConfig struct {
	MaxAttempts     int           // Maximum attempts (default: 5)
	InitialInterval time.Duration // Initial backoff interval (default: 1s)
	MaxInterval     time.Duration // Maximum backoff interval (default: 5m)
	Multiplier      float64       // Backoff multiplier (default: 2.0)
	Timeout         time.Duration // Per-attempt timeout (default: 10s)
}

// DefaultRetryConfig returns the defaults used when nothing is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2.0,
		Timeout:         10 * time.Second,
	}
}

func retryConfigFrom(cfg config.CallbacksConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.Retry.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval.Duration > 0 {
		rc.InitialInterval = cfg.Retry.InitialInterval.Duration
	}
	if cfg.Retry.MaxInterval.Duration > 0 {
		rc.MaxInterval = cfg.Retry.MaxInterval.Duration
	}
	if cfg.Retry.Multiplier > 0 {
		rc.Multiplier = cfg.Retry.Multiplier
	}
	if cfg.Timeout.Duration > 0 {
		rc.Timeout = cfg.Timeout.Duration
	}
	if !cfg.Retry.Enabled {
		rc.MaxAttempts = 1
	}
	return rc
}

// RetryableClient posts payment events asynchronously with exponential backoff.
type RetryableClient struct {
	cfg        config.CallbacksConfig
	retryCfg   RetryConfig
	httpClient *http.Client
	logger     zerolog.Logger
	tmpl       *template.Template
	breakers   *circuitbreaker.Manager
	metrics    *metrics.Metrics
	sleep      func(time.Duration)
}

// RetryOption customizes the retry client.
type RetryOption func(*RetryableClient)

func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(c *RetryableClient) { c.logger = logger }
}

func WithRetryConfig(cfg RetryConfig) RetryOption {
	return func(c *RetryableClient) { c.retryCfg = cfg }
}

func WithMetrics(m *metrics.Metrics) RetryOption {
	return func(c *RetryableClient) { c.metrics = m }
}

// WithCircuitBreaker routes deliveries through the callbacks breaker.
func WithCircuitBreaker(m *circuitbreaker.Manager) RetryOption {
	return func(c *RetryableClient) { c.breakers = m }
}

// NewRetryableClient returns a NoopNotifier when no URL is configured.
// A body template that fails to parse is an error: a silently wrong payload
// is worse than refusing to start.
func NewRetryableClient(cfg config.CallbacksConfig, opts ...RetryOption) (Notifier, error) {
	if cfg.PaymentCompletedURL == "" {
		return NoopNotifier{}, nil
	}

	client := &RetryableClient{
		cfg:      cfg,
		retryCfg: retryConfigFrom(cfg),
		logger:   zerolog.Nop(),
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(client)
	}
	client.httpClient = httputil.NewClient(client.retryCfg.Timeout)

	if cfg.BodyTemplate != "" {
		tmpl, err := template.New("callback").Parse(cfg.BodyTemplate)
		if err != nil {
			return nil, fmt.Errorf("callbacks: parse body template: %w", err)
		}
		client.tmpl = tmpl
	}
	return client, nil
}

func (c *RetryableClient) PaymentCompleted(ctx context.Context, event PaymentEvent) {
	c.dispatch(event, EventPaymentCompleted)
}

func (c *RetryableClient) PaymentFailed(ctx context.Context, event PaymentEvent) {
	c.dispatch(event, EventPaymentFailed)
}

// dispatch prepares the event synchronously so the EventID is fixed before
// the first attempt, then delivers in the background.
func (c *RetryableClient) dispatch(event PaymentEvent, eventType string) {
	if c == nil {
		return
	}
	PrepareEvent(&event, eventType)

	go func() {
		payload, err := renderPayload(c.tmpl, event)
		if err != nil {
			c.logger.Error().Err(err).Str("event_id", event.EventID).Msg("callbacks.render_failed")
			return
		}
		if err := c.sendWithRetry(context.Background(), payload, event.EventType); err != nil {
			c.logger.Error().
				Err(err).
				Str("event_id", event.EventID).
				Str("transaction_id", event.TransactionID).
				Msg("callbacks.delivery_failed")
		}
	}()
}

func renderPayload(tmpl *template.Template, event PaymentEvent) ([]byte, error) {
	if tmpl == nil {
		return marshalEvent(event)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, event); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *RetryableClient) sendWithRetry(ctx context.Context, payload []byte, eventType string) error {
	var lastErr error
	interval := c.retryCfg.InitialInterval
	start := time.Now()

	for attempt := 1; attempt <= c.retryCfg.MaxAttempts; attempt++ {
		_, err := c.breakers.Execute(circuitbreaker.ServiceCallbacks, func() (interface{}, error) {
			reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
			defer cancel()
			return nil, c.sendHTTP(reqCtx, payload)
		})
		if err == nil {
			c.metrics.ObserveCallback(eventType, "success", time.Since(start), attempt)
			if attempt > 1 {
				c.logger.Info().Int("attempt", attempt).Str("event_type", eventType).Msg("callbacks.delivered_after_retry")
			}
			return nil
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.retryCfg.MaxAttempts).
			Str("event_type", eventType).
			Dur("next_retry", interval).
			Msg("callbacks.attempt_failed")

		if attempt < c.retryCfg.MaxAttempts {
			c.sleep(interval)
			interval = time.Duration(float64(interval) * c.retryCfg.Multiplier)
			if interval > c.retryCfg.MaxInterval {
				interval = c.retryCfg.MaxInterval
			}
		}
	}

	c.metrics.ObserveCallback(eventType, "failed", time.Since(start), c.retryCfg.MaxAttempts)
	return fmt.Errorf("callback failed after %d attempts: %w", c.retryCfg.MaxAttempts, lastErr)
}

func (c *RetryableClient) sendHTTP(ctx context.Context, payload []byte) error {
	req, err := newRequest(ctx, c.cfg, payload)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, c.cfg.PaymentCompletedURL)
	}
	return nil
}
