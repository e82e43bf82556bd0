package usecase

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

// Default dispatch gate settings.
const (
	defaultGateMaxFailures uint32        = 5
	defaultGateTimeout     time.Duration = 30 * time.Second
	defaultGateInterval    time.Duration = 60 * time.Second
)

// DispatchGate guards auto-dispatch per agent with a circuit breaker.
// Repeated hard failures open the agent's circuit; while open, the
// engine downgrades auto-dispatch to a recommendation instead of
// sending more work to an agent that keeps dying.
type DispatchGate struct {
	cfg    config.BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

// NewDispatchGate creates a gate. Zero-valued config fields fall back
// to defaults.
func NewDispatchGate(cfg config.BreakerConfig, logger *slog.Logger) *DispatchGate {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultGateMaxFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultGateTimeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultGateInterval
	}
	return &DispatchGate{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

func (g *DispatchGate) breaker(agentID string) *gobreaker.CircuitBreaker[struct{}] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[agentID]; ok {
		return cb
	}
	maxFailures := g.cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "dispatch:" + agentID,
		MaxRequests: 1, // one probe in half-open state
		Interval:    g.cfg.Interval,
		Timeout:     g.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("dispatch breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	g.breakers[agentID] = cb
	return cb
}

// Allow reports whether auto-dispatch to agentID is currently permitted.
// A denied dispatch returns ErrDispatchBlocked. State inspection only:
// outcomes are fed through Report, never through Allow, so permission
// checks cannot reset the failure streak.
func (g *DispatchGate) Allow(agentID string) error {
	if g.breaker(agentID).State() == gobreaker.StateOpen {
		return domain.NewDomainError("DispatchGate.Allow", domain.ErrDispatchBlocked,
			fmt.Sprintf("agent %q circuit open", agentID))
	}
	return nil
}

// Report feeds an attempt outcome into the agent's breaker. Success and
// partial close the loop; failure counts against the agent. Rejections
// are capability signals, not health signals, and are not counted.
func (g *DispatchGate) Report(agentID string, outcome domain.Outcome) {
	cb := g.breaker(agentID)
	switch outcome {
	case domain.OutcomeFailure:
		cb.Execute(func() (struct{}, error) {
			return struct{}{}, fmt.Errorf("agent %s attempt failed", agentID)
		})
	case domain.OutcomeSuccess, domain.OutcomePartial:
		cb.Execute(func() (struct{}, error) {
			return struct{}{}, nil
		})
	}
}
