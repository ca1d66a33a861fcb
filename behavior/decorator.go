package behavior

import (
	"context"

	"github.com/Method-Security/bioma/actor"
)

// TickFunc ticks a decorator's child and returns its status.
type TickFunc func(ctx context.Context) (Status, error)

// DecoratorNode transforms the outcome of exactly one child. The node
// decides how often the child is ticked.
type DecoratorNode interface {
	Decorate(ctx context.Context, tick TickFunc) (Status, error)
}

// Decorator wraps a decorator node and its child into an actor-servable
// behavior.
type Decorator[N DecoratorNode] struct {
	Child actor.ID `json:"child"`
	Node  N        `json:"node"`
}

// NewDecorator wraps a decorator node around a child.
func NewDecorator[N DecoratorNode](node N, child actor.ID) Decorator[N] {
	return Decorator[N]{Child: child, Node: node}
}

// Tick implements Ticker by handing the node a tick function bound to the
// child.
func (d Decorator[N]) Tick(ctx context.Context,
	from actor.Sender) (Status, error) {

	tick := func(tctx context.Context) (Status, error) {
		return tickChild(tctx, from, d.Child)
	}

	return d.Node.Decorate(ctx, tick)
}

// Invert swaps success and failure; running passes through.
type Invert struct{}

// Decorate implements DecoratorNode.
func (Invert) Decorate(ctx context.Context, tick TickFunc) (Status, error) {
	status, err := tick(ctx)
	if err != nil {
		return StatusFailure, err
	}

	switch status {
	case StatusSuccess:
		return StatusFailure, nil
	case StatusFailure:
		return StatusSuccess, nil
	default:
		return status, nil
	}
}

// Repeat ticks its child up to Times times, stopping early on the first
// non-success status.
type Repeat struct {
	Times int `json:"times"`
}

// Decorate implements DecoratorNode.
func (r Repeat) Decorate(ctx context.Context, tick TickFunc) (Status, error) {
	times := r.Times
	if times < 1 {
		times = 1
	}

	for i := 0; i < times; i++ {
		status, err := tick(ctx)
		if err != nil {
			return StatusFailure, err
		}
		if status != StatusSuccess {
			return status, nil
		}
	}

	return StatusSuccess, nil
}
