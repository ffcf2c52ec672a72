// Package gate parks executions until external data matches a trigger expression.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukex/orchestron/pkg/expression"
)

// Registration is the predicate an execution waits on.
type Registration struct {
	ExecutionID string
	ActionID    string
	TriggerID   string
	Expression  *expression.Expression
	CreatedAt   time.Time
}

// Release is returned when submitted data matches a registration.
// The registration is removed before Release is returned.
type Release struct {
	Registration

	Data any
}

type Gate struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*Registration
}

func New(logger *slog.Logger) *Gate {
	return &Gate{
		logger:  logger.With("module", "trigger_gate"),
		pending: make(map[string]*Registration),
	}
}

// Register parks executionID behind registration, replacing any earlier entry.
func (g *Gate) Register(executionID string, registration Registration) error {
	if registration.Expression == nil {
		return fmt.Errorf("failed to register %s: %w", executionID, expression.ErrEmptyExpression)
	}

	registration.ExecutionID = executionID
	if registration.CreatedAt.IsZero() {
		registration.CreatedAt = time.Now()
	}

	g.mu.Lock()
	g.pending[executionID] = &registration
	g.mu.Unlock()

	g.logger.Info("Execution parked awaiting data",
		"execution_id", executionID, "action_id", registration.ActionID, "trigger_id", registration.TriggerID)

	return nil
}

// Submit evaluates data against the registration of executionID. An unknown
// execution is reported and ignored. A non-match or an evaluation error keeps
// the execution parked.
func (g *Gate) Submit(ctx context.Context, executionID string, data any) (*Release, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	registration, exists := g.pending[executionID]
	if !exists {
		g.logger.WarnContext(ctx, "Trigger data for execution without a registered gate", "execution_id", executionID)

		return nil, false, nil
	}

	matched, err := registration.Expression.Match(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to evaluate trigger %s for %s: %w", registration.TriggerID, executionID, err)
	}

	if !matched {
		g.logger.DebugContext(ctx, "Trigger data did not match", "execution_id", executionID, "trigger_id", registration.TriggerID)

		return nil, false, nil
	}

	delete(g.pending, executionID)

	return &Release{Registration: *registration, Data: data}, true, nil
}

// Remove drops the registration of executionID. It reports whether one existed.
func (g *Gate) Remove(executionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, exists := g.pending[executionID]
	delete(g.pending, executionID)

	return exists
}

// Pending lists the parked execution ids in order.
func (g *Gate) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Registration returns a copy of the registration of executionID.
func (g *Gate) Registration(executionID string) (Registration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	registration, exists := g.pending[executionID]
	if !exists {
		return Registration{}, false
	}

	return *registration, true
}
