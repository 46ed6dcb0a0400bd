package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mleitner/leadenrich/internal/config"

	"golang.org/x/time/rate"
)

// baseClient is the shared rate-limited, retrying HTTP transport under the
// Apollo and Lusha clients. A token is acquired before every request
// (including retries); acquisition suspends the caller rather than
// failing, unless the context deadline cannot be met.
type baseClient struct {
	name    string
	baseURL string
	headers map[string]string
	http    *http.Client
	limiter *rate.Limiter
	retry   config.RetrySettings
}

func newBaseClient(name string, settings config.ProviderSettings, retry config.RetrySettings, timeout time.Duration) *baseClient {
	burst := settings.Burst
	if burst <= 0 {
		burst = 1
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &baseClient{
		name:    name,
		baseURL: settings.BaseURL,
		headers: map[string]string{},
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(settings.Rate), burst),
		retry:   retry,
	}
}

// doJSON performs one rate-limited request with retries, decoding a 2xx
// response body into out. The returned int is the last HTTP status seen
// (zero when the request never reached the provider).
func (c *baseClient) doJSON(ctx context.Context, method, path string, query url.Values, body any, out any) (int, error) {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode %s request: %w", c.name, err)
		}
		payload = encoded
	}

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			// rate.Limiter refuses when the deadline cannot cover the
			// token wait; the batch was never sent.
			return 0, fmt.Errorf("%s: %w", c.name, ErrRateLimitTimeout)
		}

		status, err := c.once(ctx, method, path, query, payload, out)
		if err == nil {
			return status, nil
		}
		if !retryable(err) || attempt >= c.retry.MaxAttempts {
			return status, err
		}

		wait := c.backoff(err, attempt)
		log.Printf("[%s] retrying %s %s (attempt %d/%d) after %s: %v",
			c.name, method, path, attempt, c.retry.MaxAttempts, wait, err)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return status, ctx.Err()
		}
	}
}

func (c *baseClient) once(ctx context.Context, method, path string, query url.Values, payload []byte, out any) (int, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build %s request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, &Error{
			Provider:   c.name,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    string(snippet),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode %s response: %w", c.name, err)
		}
	}
	return resp.StatusCode, nil
}

// backoff picks the sleep before the next attempt: a 429 honors the
// provider's Retry-After hint, everything else backs off exponentially
// with jitter.
func (c *baseClient) backoff(err error, attempt int) time.Duration {
	var pe *Error
	if errors.As(err, &pe) && pe.StatusCode == 429 && pe.RetryAfter > 0 {
		return pe.RetryAfter
	}

	sleep := c.retry.BackoffBase
	for i := 1; i < attempt && sleep < c.retry.BackoffMax; i++ {
		sleep *= 2
	}
	if sleep > c.retry.BackoffMax {
		sleep = c.retry.BackoffMax
	}
	if c.retry.Jitter > 0 {
		j := 1 + (rand.Float64()*2-1)*c.retry.Jitter
		sleep = time.Duration(float64(sleep) * j)
	}
	return sleep
}

func retryable(err error) bool {
	if IsTransient(err) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
