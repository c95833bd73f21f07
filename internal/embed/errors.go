package embed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
)

// statusError classifies a non-2xx provider response. Rate limits and server
// errors are retryable; anything else is a rejection.
func statusError(provider ProviderType, status int, body string) error {
	msg := fmt.Sprintf("%s API error (status %d): %s", provider, status, body)
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return hserrors.NetworkError(msg, nil).
			WithDetail("provider", string(provider)).
			WithDetail("status", fmt.Sprint(status))
	}
	he := hserrors.New(hserrors.ErrCodeProviderRejected, msg, nil).
		WithDetail("provider", string(provider)).
		WithDetail("status", fmt.Sprint(status))
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		he = he.WithSuggestion("Check embedding.api_key or the provider's API key environment variable")
	}
	return he
}

// transportError classifies a failure to reach the provider.
func transportError(provider ProviderType, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return hserrors.New(hserrors.ErrCodeNetworkTimeout,
			fmt.Sprintf("%s request timed out", provider), err).
			WithDetail("provider", string(provider))
	}
	return hserrors.NetworkError(fmt.Sprintf("%s request failed", provider), err).
		WithDetail("provider", string(provider))
}

func (c Config) retryConfig() hserrors.RetryConfig {
	rc := hserrors.DefaultRetryConfig()
	rc.MaxRetries = c.maxRetries()
	rc.Jitter = true
	if c.RetryDelay > 0 {
		rc.InitialDelay = c.RetryDelay
		rc.MaxDelay = 16 * c.RetryDelay
	}
	return rc
}

// emptyResultError reports a 2xx response that carried no vectors.
func emptyResultError(provider ProviderType) error {
	return hserrors.New(hserrors.ErrCodeEmbeddingFailed,
		fmt.Sprintf("no embedding returned from %s", provider), nil)
}
