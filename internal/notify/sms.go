package notify

import (
	"context"
	"math/rand"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"tvbridge/internal/metrics"
)

// AttemptRecorder persists every delivery attempt for the diagnostics
// dashboard. Implemented by the diag repository.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, refID int64, attempt int, outcome, errText string)
}

// Notifier is what the webhook pipeline depends on.
type Notifier interface {
	Send(ctx context.Context, refID int64, to, text string) error
}

// providerError carries the HTTP status for retryability classification.
type providerError struct {
	StatusCode int
	Body       string
}

func (e *providerError) Error() string {
	return "sms provider returned " + http.StatusText(e.StatusCode) + ": " + e.Body
}

// SMSSender delivers texts through an HTTP SMS gateway with exponential
// backoff. Retries are driven here, not by the HTTP client, so every attempt
// can be recorded individually.
type SMSSender struct {
	client      *resty.Client
	providerURL string
	apiKey      string
	from        string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	recorder    AttemptRecorder
	logger      zerolog.Logger
}

type Config struct {
	ProviderURL string
	APIKey      string
	From        string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func NewSMSSender(cfg Config, recorder AttemptRecorder, logger zerolog.Logger) *SMSSender {
	client := resty.New()
	client.SetTimeout(10 * time.Second)
	// Attempts are managed by Send; the client itself must not retry.
	client.SetRetryCount(0)

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 15 * time.Second
	}

	return &SMSSender{
		client:      client,
		providerURL: cfg.ProviderURL,
		apiKey:      cfg.APIKey,
		from:        cfg.From,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		recorder:    recorder,
		logger:      logger.With().Str("component", "sms").Logger(),
	}
}

// Send attempts delivery up to maxAttempts times. Retryable failures wait
// base * 2^attempt plus jitter, capped at maxDelay; anything else fails
// immediately.
func (s *SMSSender) Send(ctx context.Context, refID int64, to, text string) error {
	if s.providerURL == "" {
		return errors.New("sms provider not configured")
	}

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.attempt(ctx, to, text)
		if err == nil {
			s.record(ctx, refID, attempt+1, "delivered", "")
			metrics.SMSAttemptsTotal.WithLabelValues("delivered").Inc()
			s.logger.Info().Str("to", to).Int("attempt", attempt+1).Msg("sms delivered")
			return nil
		}
		lastErr = err

		if !Retryable(err) {
			s.record(ctx, refID, attempt+1, "failed", err.Error())
			metrics.SMSAttemptsTotal.WithLabelValues("failed").Inc()
			s.logger.Error().Err(err).Str("to", to).Msg("sms failed, not retryable")
			return err
		}

		if attempt == s.maxAttempts-1 {
			s.record(ctx, refID, attempt+1, "failed", err.Error())
			metrics.SMSAttemptsTotal.WithLabelValues("failed").Inc()
			break
		}

		s.record(ctx, refID, attempt+1, "retrying", err.Error())
		metrics.SMSAttemptsTotal.WithLabelValues("retrying").Inc()

		delay := s.Backoff(attempt)
		s.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("sms attempt failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return errors.Wrapf(lastErr, "sms delivery failed after %d attempts", s.maxAttempts)
}

func (s *SMSSender) attempt(ctx context.Context, to, text string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+s.apiKey).
		SetBody(map[string]string{
			"from": s.from,
			"to":   to,
			"text": text,
		}).
		Post(s.providerURL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &providerError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// Backoff returns base * 2^attempt plus up to one base of jitter, capped at
// maxDelay.
func (s *SMSSender) Backoff(attempt int) time.Duration {
	delay := s.baseDelay << uint(attempt)
	if delay > s.maxDelay || delay <= 0 {
		delay = s.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(s.baseDelay)))
	if delay+jitter > s.maxDelay {
		return s.maxDelay
	}
	return delay + jitter
}

func (s *SMSSender) record(ctx context.Context, refID int64, attempt int, outcome, errText string) {
	if s.recorder != nil {
		s.recorder.RecordAttempt(ctx, refID, attempt, outcome, errText)
	}
}

// Retryable reports whether a delivery error is worth another attempt:
// provider statuses 408/429/500/502/503/504, net timeouts and connection
// resets qualify; everything else is terminal.
func Retryable(err error) bool {
	var pe *providerError
	if errors.As(err, &pe) {
		switch pe.StatusCode {
		case http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if os.IsTimeout(err) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return false
}

var _ Notifier = (*SMSSender)(nil)
