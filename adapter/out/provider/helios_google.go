// Package provider implements Google API adapters for mail and calendar.
package provider

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"helios_server/pkg/apperr"
	"helios_server/pkg/httputil"
	"helios_server/pkg/logger"
)

// GoogleConfig holds the single-account OAuth credentials the adapters run
// under. RefreshToken belongs to the owner's account.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	ProjectID    string
}

// newBreaker builds the circuit breaker shared by the Google adapters:
// trips on 5 consecutive failures or a 60% failure rate over at least
// 10 requests, stays open 30s.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
}

// apiStatus extracts the HTTP status and any Retry-After hint from a Google
// API error. Status 0 means no HTTP response was seen.
func apiStatus(err error) (int, time.Duration) {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return 0, 0
	}
	if hint, ok := httputil.RetryAfter(http.Header(apiErr.Header)); ok {
		return apiErr.Code, hint
	}
	return apiErr.Code, 0
}

// wrapGoogleError maps a Google API failure onto the application error
// vocabulary.
func wrapGoogleError(service string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.UpstreamUnavailable(service, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return apperr.Unauthorized(service + " token rejected")
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") || strings.Contains(apiErr.Message, "rateLimitExceeded") {
				return apperr.RateLimited(service)
			}
			return apperr.Forbidden(service + " access denied")
		case 404:
			return apperr.NotFound(service + " resource")
		case 429:
			return apperr.RateLimited(service)
		}
		if apiErr.Code >= 500 {
			return apperr.UpstreamUnavailable(service, err)
		}
	}
	return apperr.UpstreamUnavailable(service, err)
}

// staticToken returns the refresh-token seed the oauth2 token source renews
// from.
func staticToken(cfg *GoogleConfig) *oauth2.Token {
	return &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}
}
