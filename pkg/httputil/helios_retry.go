package httputil

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// RetryPolicy controls retries against provider APIs. Base delay doubles per
// attempt up to MaxDelay, with a small random jitter added to each wait so
// concurrent workers do not retry in lockstep.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterMin   time.Duration
	JitterMax   time.Duration
}

// DefaultRetryPolicy returns the policy used for Gmail and Calendar calls.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		JitterMin:   250 * time.Millisecond,
		JitterMax:   750 * time.Millisecond,
	}
}

// Delay returns the wait before the given attempt (0-based), jitter included.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	return d + p.jitter()
}

func (p *RetryPolicy) jitter() time.Duration {
	span := p.JitterMax - p.JitterMin
	if span <= 0 {
		return p.JitterMin
	}
	return p.JitterMin + time.Duration(rand.Int63n(int64(span)))
}

// RetryAfter parses a Retry-After header value in seconds. Returns false when
// the header is absent or unparseable.
func RetryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// Retryable reports whether an HTTP status warrants a retry.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Wait sleeps for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn with retries per the policy. fn reports the HTTP status it saw
// (0 when no response) and any Retry-After hint; a 429 hint overrides the
// computed backoff.
func Do(ctx context.Context, p *RetryPolicy, fn func() (status int, retryAfter time.Duration, err error)) error {
	if p == nil {
		p = DefaultRetryPolicy()
	}
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		status, hint, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if status != 0 && !Retryable(status) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := p.Delay(attempt)
		if status == http.StatusTooManyRequests && hint > 0 {
			delay = hint + p.jitter()
		}
		if werr := Wait(ctx, delay); werr != nil {
			return werr
		}
	}
	return lastErr
}
