package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig bounds retries of upstream calls.
type RetryConfig struct {
	MaxAttempts int           // Maximum number of attempts, including the first
	InitialWait time.Duration // Wait before the first retry, doubled each time
	MaxWait     time.Duration // Cap on the wait between retries
}

// DefaultRetryConfig returns the retry policy used for model calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     5 * time.Second,
	}
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		return fmt.Sprintf("upstream returned %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, body)
}

// IsRetryableError reports whether err is a transient upstream failure:
// rate limiting, 5xx responses, network timeouts and dropped connections.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *StatusError
	if stderrors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}

	var ne net.Error
	if stderrors.As(err, &ne) && ne.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"timeout",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// RetryWithBackoff runs operation until it succeeds, fails with a
// non-retryable error, exhausts cfg.MaxAttempts or ctx ends.
func RetryWithBackoff[T any](ctx context.Context, cfg RetryConfig, log logrus.FieldLogger, name string, operation func(ctx context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	wait := cfg.InitialWait

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err = operation(ctx)
		if err == nil {
			if attempt > 1 {
				log.WithField("attempt", attempt).Debugf("%s succeeded after retry", name)
			}
			return result, nil
		}
		if !IsRetryableError(err) {
			return result, err
		}
		if attempt == cfg.MaxAttempts {
			log.WithError(err).Warnf("%s failed after %d attempts", name, cfg.MaxAttempts)
			return result, fmt.Errorf("max retries exceeded (%d attempts): %w", cfg.MaxAttempts, err)
		}

		log.WithError(err).WithField("attempt", attempt).Debugf("%s failed, retrying in %v", name, wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return result, ctx.Err()
		case <-t.C:
		}

		wait *= 2
		if cfg.MaxWait > 0 && wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
	}
	return result, err
}
