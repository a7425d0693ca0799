package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// StatusError is returned when the completion endpoint answers with a non-2xx status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm endpoint returned %s", e.Status)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	switch e.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// errorKind maps a status to the error_type metric label.
func (e *StatusError) errorKind() string {
	switch e.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "auth"
	case http.StatusTooManyRequests:
		return "rate_limit"
	case http.StatusRequestTimeout:
		return "timeout"
	}
	if e.Code >= 500 {
		return "server_error"
	}
	return "http_error"
}

// ResilientClientConfig controls the breaker and the retry policy around
// completion requests. Zero MaxRetries means a single attempt.
type ResilientClientConfig struct {
	EnableCircuitBreaker bool
	MaxFailures          uint32
	CircuitTimeout       time.Duration

	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxRetryAfter caps how long a Retry-After header may delay the next attempt.
	MaxRetryAfter time.Duration
}

func DefaultResilientClientConfig() ResilientClientConfig {
	return ResilientClientConfig{
		EnableCircuitBreaker: true,
		MaxFailures:          5,
		CircuitTimeout:       30 * time.Second,
		MaxRetries:           3,
		InitialInterval:      500 * time.Millisecond,
		MaxInterval:          5 * time.Second,
		MaxRetryAfter:        10 * time.Second,
	}
}

// ResilientClient sends completion requests through a circuit breaker and an
// exponential backoff retry loop.
type ResilientClient struct {
	hc      *http.Client
	breaker *gobreaker.CircuitBreaker
	cfg     ResilientClientConfig
	logger  *zap.Logger
}

// NewResilientClient builds the client. A nil logger is allowed.
func NewResilientClient(timeout time.Duration, cfg ResilientClientConfig, logger *zap.Logger) *ResilientClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &ResilientClient{
		hc:     &http.Client{Timeout: timeout},
		cfg:    cfg,
		logger: logger,
	}
	if cfg.EnableCircuitBreaker {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "llm-api",
			MaxRequests: 1,
			Timeout:     cfg.CircuitTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
			// a 4xx is the caller's fault, not the endpoint's
			IsSuccessful: func(err error) bool {
				var se *StatusError
				if errors.As(err, &se) {
					return !se.Retryable()
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("⚡ circuit breaker state changed",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to))
				if to == gobreaker.StateOpen {
					RecordError("circuit_open")
				}
			},
		})
	}
	return c
}

// Do sends req and returns a 2xx response, or an error once the retry budget
// is spent, the breaker is open, or the failure is permanent.
func (c *ResilientClient) Do(req *http.Request) (*http.Response, error) {
	body, err := drainBody(req)
	if err != nil {
		return nil, err
	}
	if c.breaker == nil {
		return c.retry(req, body)
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.retry(req, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		RecordError("circuit_open")
		return nil, fmt.Errorf("circuit breaker is open: %w", err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*http.Response), nil
}

func (c *ResilientClient) retry(req *http.Request, body []byte) (*http.Response, error) {
	var resp *http.Response
	delays := c.newBackOff()
	op := func() error {
		var err error
		resp, err = c.attempt(req, body)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		delays.observe(err)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(delays, uint64(max(c.cfg.MaxRetries, 0))),
		req.Context(),
	)
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("🔁 retrying llm request", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ResilientClient) newBackOff() *retryAfterBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.InitialInterval
	exp.MaxInterval = c.cfg.MaxInterval
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	return &retryAfterBackOff{BackOff: exp, cap: c.cfg.MaxRetryAfter}
}

func (c *ResilientClient) attempt(req *http.Request, body []byte) (*http.Response, error) {
	if body != nil {
		req.Body = io.NopCloser(bytes.NewReader(body))
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			RecordError("timeout")
		} else {
			RecordError("connection")
		}
		return nil, err
	}
	if resp.StatusCode < 300 {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
	se := &StatusError{Code: resp.StatusCode, Status: resp.Status}
	RecordError(se.errorKind())
	if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
		return nil, &retryAfterError{StatusError: se, wait: d}
	}
	return nil, se
}

// retryable decides whether an attempt's error is transient.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return body, nil
}

// retryAfterError carries a server-requested delay to the backoff policy.
type retryAfterError struct {
	*StatusError
	wait time.Duration
}

func (e *retryAfterError) Unwrap() error { return e.StatusError }

func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0), true
	}
	return 0, false
}

// retryAfterBackOff prefers the delay the server asked for, when one was given.
type retryAfterBackOff struct {
	backoff.BackOff
	cap  time.Duration
	next time.Duration
	set  bool
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop || !b.set {
		return d
	}
	b.set = false
	if b.cap > 0 && b.next > b.cap {
		return b.cap
	}
	return b.next
}

func (b *retryAfterBackOff) observe(err error) {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		b.next, b.set = ra.wait, true
	}
}
