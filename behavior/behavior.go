// Package behavior composes actors into behavior trees. Nodes are regular
// actors driven by a Tick message and answering with a Status; the actor
// transport carries every tick, so a tree may span processes sharing a
// database.
package behavior

import (
	"context"
	"fmt"

	"github.com/Method-Security/bioma/actor"
)

// Status is the result of evaluating a node for one tick.
type Status uint8

const (
	// StatusSuccess means the node completed its work.
	StatusSuccess Status = iota

	// StatusFailure means the node cannot complete its work.
	StatusFailure

	// StatusRunning means the node needs more ticks to finish.
	StatusRunning
)

// String renders the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusRunning:
		return "running"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status as its name so frames stay readable in
// debug dumps.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes a status name.
func (s *Status) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"success"`:
		*s = StatusSuccess
	case `"failure"`:
		*s = StatusFailure
	case `"running"`:
		*s = StatusRunning
	default:
		return fmt.Errorf("unknown behavior status %s", data)
	}

	return nil
}

// Tick is the evaluation signal passed down a behavior tree.
type Tick struct{}

func init() {
	actor.RegisterMessage[Tick]("behavior.tick")

	// The stock node shapes ship pre-registered so trees built from them
	// restore across processes without extra wiring.
	actor.Register[Action[Wait]]("behavior.action.wait")
	actor.Register[Decorator[Invert]]("behavior.decorator.invert")
	actor.Register[Decorator[Repeat]]("behavior.decorator.repeat")
	actor.Register[Composite[Sequence]]("behavior.composite.sequence")
	actor.Register[Composite[Fallback]]("behavior.composite.fallback")
	actor.Register[Composite[Parallel]]("behavior.composite.parallel")
}

// Ticker is the load-bearing node contract: one tick in, one status out.
type Ticker interface {
	Tick(ctx context.Context, from actor.Sender) (Status, error)
}

// Serve runs a node's receive loop: every Tick frame is answered with one
// Status reply. It returns when ctx ends or on a runtime error.
func Serve[N Ticker](ctx context.Context, c *actor.Context[N]) error {
	frames, err := c.Recv(ctx)
	if err != nil {
		return err
	}

	for frame := range frames {
		_, err := actor.Handle(ctx, c, frame,
			func(hctx context.Context, _ Tick) error {
				status, err := (*c.State()).Tick(hctx, c)
				if err != nil {
					return err
				}

				return c.Reply(hctx, status)
			},
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// tickChild sends one Tick over the actor transport and awaits the child's
// Status.
func tickChild(ctx context.Context, from actor.Sender,
	child actor.ID) (Status, error) {

	return actor.SendAndWaitReply[Status](
		ctx, from, child, Tick{}, actor.DefaultSendOptions(),
	)
}
