package behavior

import (
	"context"
	"time"

	"github.com/Method-Security/bioma/actor"
)

// ActionNode is a leaf performing actual work when ticked.
type ActionNode interface {
	Execute(ctx context.Context) (Status, error)
}

// Action wraps a leaf node into an actor-servable behavior.
type Action[N ActionNode] struct {
	Node N
}

// NewAction wraps a leaf node.
func NewAction[N ActionNode](node N) Action[N] {
	return Action[N]{Node: node}
}

// Tick implements Ticker by delegating to the leaf.
func (a Action[N]) Tick(ctx context.Context,
	_ actor.Sender) (Status, error) {

	return a.Node.Execute(ctx)
}

// Wait pauses for the configured duration when ticked and always returns
// success after the delay has elapsed.
type Wait struct {
	Duration time.Duration `json:"duration"`
}

// Execute sleeps for the configured duration.
func (w Wait) Execute(ctx context.Context) (Status, error) {
	timer := time.NewTimer(w.Duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return StatusFailure, ctx.Err()
	case <-timer.C:
		return StatusSuccess, nil
	}
}
