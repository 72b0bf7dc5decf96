// Package health issues readiness checks against a deployed service's
// HTTP endpoint.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/atvirokodosprendimai/restitch/internal/deploy"
)

// HTTPProbe performs a single GET against an endpoint and interprets the
// response. Any connection error, timeout, or non-2xx status is a failed
// check with a detail string; a probe never returns a raw error.
type HTTPProbe struct {
	client         *http.Client
	requestTimeout time.Duration
}

// NewHTTPProbe creates a probe whose individual checks are bounded by
// requestTimeout. The request timeout must stay strictly below the
// orchestrator's poll interval so probes never overlap.
func NewHTTPProbe(requestTimeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		client:         &http.Client{Timeout: requestTimeout},
		requestTimeout: requestTimeout,
	}
}

// RequestTimeout returns the per-check bound.
func (p *HTTPProbe) RequestTimeout() time.Duration { return p.requestTimeout }

// Check issues one readiness check. Success is an HTTP 2xx within the
// request timeout. Successive checks are independent; no state is carried
// between them.
func (p *HTTPProbe) Check(ctx context.Context, endpoint string) deploy.ProbeResult {
	result := deploy.ProbeResult{CheckedAt: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		result.Detail = fmt.Sprintf("invalid endpoint: %v", err)
		return result
	}

	resp, err := p.client.Do(req)
	if err != nil {
		result.Detail = fmt.Sprintf("request failed: %v", err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Detail = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result
	}

	result.Success = true
	result.Detail = fmt.Sprintf("status %d", resp.StatusCode)
	return result
}
