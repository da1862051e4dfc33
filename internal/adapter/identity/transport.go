package identity

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/tabconsole/internal/adapter/metrics"
	"github.com/pscheid92/tabconsole/internal/platform/correlation"
	"github.com/pscheid92/tabconsole/internal/platform/version"
)

const breakerComponent = "identity"

// breakerTransport trips after repeated network failures or 5xx responses from the identity
// service. 4xx responses are answers, not failures.
type breakerTransport struct {
	next http.RoundTripper
	cb   circuitbreaker.CircuitBreaker[any]
}

func newBreakerTransport(next http.RoundTripper, m *metrics.CircuitBreakerMetrics) *breakerTransport {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(5).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", breakerComponent,
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			if m != nil {
				m.Observe(breakerComponent, e.NewState)
			}
		}).
		Build()

	return &breakerTransport{next: next, cb: cb}
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.cb.TryAcquirePermit() {
		return nil, fmt.Errorf("identity service unavailable: %w", circuitbreaker.ErrOpen)
	}

	req = req.Clone(req.Context())
	correlation.Inject(req.Context(), req)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		t.cb.RecordError(err)
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		t.cb.RecordError(fmt.Errorf("status %d", resp.StatusCode))
	} else {
		t.cb.RecordSuccess()
	}
	return resp, nil
}

func (t *breakerTransport) State() circuitbreaker.State {
	return t.cb.State()
}
