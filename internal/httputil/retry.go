package httputil

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/EikeiDev/apkupdateross/internal/logging"
)

var log = logging.L("httputil")

// RetryConfig controls how a request is repeated after transient failures.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64 // ±fraction of delay to randomize
}

// DefaultRetryConfig returns the settings used for catalog downloads.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

// StatusError is returned when the final response carried a retryable status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed after retries with status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Get issues a GET with retries on connection errors and retryable statuses.
// Any other response, successful or not, is returned to the caller unread.
func Get(ctx context.Context, client *http.Client, url string, headers http.Header, cfg RetryConfig) (*http.Response, error) {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := applyJitter(delay, cfg.JitterFrac)
			log.Debug("retrying download", "attempt", attempt, "delay", wait, logging.KeyURL, url)

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}

			delay = time.Duration(float64(delay) * cfg.BackoffFactor)
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, vals := range headers {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}

		resp.Body.Close()
		lastErr = &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	log.Warn("all retries exhausted", logging.KeyURL, url, "attempts", cfg.MaxRetries+1, "error", lastErr)
	return nil, lastErr
}

func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	jitter := float64(d) * frac * (2*rand.Float64() - 1)
	if result := time.Duration(float64(d) + jitter); result > 0 {
		return result
	}
	return 0
}
