package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"jirareporter.app/reporter/internal/model"
)

type BreakerConfig struct {
	ConsecutiveFailures uint32
	Timeout             time.Duration
}

// BreakerGateway fails fast for Jira endpoints that keep failing. Each Jira URL
// gets its own breaker so one broken tenant doesn't block the others.
type BreakerGateway struct {
	next Gateway
	cfg  BreakerConfig

	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewBreakerGateway(next Gateway, cfg BreakerConfig) *BreakerGateway {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &BreakerGateway{
		next:     next,
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (g *BreakerGateway) breaker(url string) *gobreaker.CircuitBreaker {
	g.mu.RLock()
	cb, ok := g.breakers[url]
	g.mu.RUnlock()
	if ok {
		return cb
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, ok = g.breakers[url]; ok {
		return cb
	}

	threshold := g.cfg.ConsecutiveFailures
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "jira:" + url,
		MaxRequests: 1,
		Timeout:     g.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !Transient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("jira circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})
	g.breakers[url] = cb
	return cb
}

// State returns the breaker state for url. Unknown urls are closed.
func (g *BreakerGateway) State(url string) gobreaker.State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if cb, ok := g.breakers[url]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

func (g *BreakerGateway) execute(url string, fn func() (any, error)) (any, error) {
	result, err := g.breaker(url).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &Error{Message: "jira circuit open", Err: err}
	}
	return result, err
}

func (g *BreakerGateway) CreateIssue(ctx context.Context, cfg model.IntegrationConfig, summary, description string, labels []string) (int64, error) {
	result, err := g.execute(cfg.URL, func() (any, error) {
		return g.next.CreateIssue(ctx, cfg, summary, description, labels)
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

func (g *BreakerGateway) GetDescription(ctx context.Context, cfg model.IntegrationConfig, issueID int64) (string, error) {
	result, err := g.execute(cfg.URL, func() (any, error) {
		return g.next.GetDescription(ctx, cfg, issueID)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (g *BreakerGateway) UpdateDescription(ctx context.Context, cfg model.IntegrationConfig, issueID int64, description string) error {
	_, err := g.execute(cfg.URL, func() (any, error) {
		return nil, g.next.UpdateDescription(ctx, cfg, issueID, description)
	})
	return err
}

func (g *BreakerGateway) DeleteIssue(ctx context.Context, cfg model.IntegrationConfig, issueID int64) error {
	_, err := g.execute(cfg.URL, func() (any, error) {
		return nil, g.next.DeleteIssue(ctx, cfg, issueID)
	})
	return err
}
