package behavior

import (
	"context"

	"github.com/Method-Security/bioma/actor"
)

// CompositeNode combines the outcomes of an ordered list of children.
type CompositeNode interface {
	Combine(ctx context.Context, from actor.Sender,
		children []actor.ID) (Status, error)
}

// Composite wraps a composite node and its children into an actor-servable
// behavior.
type Composite[N CompositeNode] struct {
	Children []actor.ID `json:"children"`
	Node     N          `json:"node"`
}

// NewComposite wraps a composite node around an ordered child list.
func NewComposite[N CompositeNode](node N,
	children ...actor.ID) Composite[N] {

	return Composite[N]{Children: children, Node: node}
}

// Tick implements Ticker.
func (c Composite[N]) Tick(ctx context.Context,
	from actor.Sender) (Status, error) {

	return c.Node.Combine(ctx, from, c.Children)
}

// Sequence ticks children in order and stops at the first child that does
// not succeed, returning that child's status. All children succeeding
// yields success.
type Sequence struct{}

// Combine implements CompositeNode.
func (Sequence) Combine(ctx context.Context, from actor.Sender,
	children []actor.ID) (Status, error) {

	for _, child := range children {
		status, err := tickChild(ctx, from, child)
		if err != nil {
			return StatusFailure, err
		}
		if status != StatusSuccess {
			return status, nil
		}
	}

	return StatusSuccess, nil
}

// Fallback ticks children in order and stops at the first child that does
// not fail, returning that child's status. All children failing yields
// failure.
type Fallback struct{}

// Combine implements CompositeNode.
func (Fallback) Combine(ctx context.Context, from actor.Sender,
	children []actor.ID) (Status, error) {

	for _, child := range children {
		status, err := tickChild(ctx, from, child)
		if err != nil {
			return StatusFailure, err
		}
		if status != StatusFailure {
			return status, nil
		}
	}

	return StatusFailure, nil
}

// Parallel ticks all children concurrently on the engine's worker pool. Any
// failure wins over running, running wins over success.
type Parallel struct{}

// Combine implements CompositeNode.
func (Parallel) Combine(ctx context.Context, from actor.Sender,
	children []actor.ID) (Status, error) {

	statuses := make([]Status, len(children))

	group := from.Engine().Tasks().NewGroup()
	for i, child := range children {
		i, child := i, child

		group.SubmitErr(func() error {
			status, err := tickChild(ctx, from, child)
			if err != nil {
				return err
			}

			statuses[i] = status

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return StatusFailure, err
	}

	combined := StatusSuccess
	for _, status := range statuses {
		switch status {
		case StatusFailure:
			return StatusFailure, nil
		case StatusRunning:
			combined = StatusRunning
		}
	}

	return combined, nil
}
