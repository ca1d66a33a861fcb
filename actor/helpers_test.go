package actor_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/Method-Security/bioma/actor"
)

// Test actor and message types shared across the suite. Tags are bound once
// per process; repeated registration of the same pair is a no-op.

type testActor struct {
	Count int `json:"count"`
}

type statefulActor struct {
	Count int `json:"count"`
}

type errorActor struct{}

type streamingActor struct{}

type testMessage struct {
	Content string `json:"content"`
}

type testResponse struct {
	Content string `json:"content"`
	Count   int    `json:"count"`
}

type incrementCount struct{}

type triggerError struct{}

type silentMessage struct{}

type streamRequest struct {
	Count int `json:"count"`
}

type streamResponse struct {
	Part    int    `json:"part"`
	Content string `json:"content"`
}

func init() {
	actor.Register[testActor]("test.actor")
	actor.Register[statefulActor]("test.stateful")
	actor.Register[errorActor]("test.error")
	actor.Register[streamingActor]("test.streamer")

	actor.RegisterMessage[testMessage]("test.message")
	actor.RegisterMessage[incrementCount]("test.increment")
	actor.RegisterMessage[triggerError]("test.trigger_error")
	actor.RegisterMessage[silentMessage]("test.silent")
	actor.RegisterMessage[streamRequest]("test.stream_request")
}

// errFake is the handler error surfaced by errorActor.
var errFake = errors.New("fake error")

// runTestActor handles testMessage frames, counting them and echoing the
// content back. Unknown messages are ignored.
func runTestActor(ctx context.Context, c *actor.Context[testActor]) error {
	frames, err := c.Recv(ctx)
	if err != nil {
		return err
	}

	for frame := range frames {
		_, err := actor.Handle(ctx, c, frame,
			func(hctx context.Context, msg testMessage) error {
				c.State().Count++

				return c.Reply(hctx, testResponse{
					Content: "Received: " + msg.Content,
					Count:   c.State().Count,
				})
			},
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// runStatefulActor handles incrementCount frames and saves its state after
// every frame.
func runStatefulActor(ctx context.Context,
	c *actor.Context[statefulActor]) error {

	frames, err := c.Recv(ctx)
	if err != nil {
		return err
	}

	for frame := range frames {
		_, err := actor.Handle(ctx, c, frame,
			func(hctx context.Context, _ incrementCount) error {
				c.State().Count++

				return c.Reply(hctx, c.State().Count)
			},
		)
		if err != nil {
			return err
		}

		if err := c.Save(ctx); err != nil {
			return err
		}
	}

	return nil
}

// runErrorActor fails every triggerError frame, and consumes silentMessage
// frames without a single reply.
func runErrorActor(ctx context.Context, c *actor.Context[errorActor]) error {
	frames, err := c.Recv(ctx)
	if err != nil {
		return err
	}

	for frame := range frames {
		handled, err := actor.Handle(ctx, c, frame,
			func(hctx context.Context, _ triggerError) error {
				return errFake
			},
		)
		if err != nil {
			return err
		}
		if handled {
			continue
		}

		_, err = actor.Handle(ctx, c, frame,
			func(hctx context.Context, _ silentMessage) error {
				// No replies on purpose.
				return nil
			},
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// runStreamingActor answers streamRequest frames with the requested number
// of numbered parts.
func runStreamingActor(ctx context.Context,
	c *actor.Context[streamingActor]) error {

	frames, err := c.Recv(ctx)
	if err != nil {
		return err
	}

	for frame := range frames {
		_, err := actor.Handle(ctx, c, frame,
			func(hctx context.Context, msg streamRequest) error {
				for i := 1; i <= msg.Count; i++ {
					err := c.Reply(hctx, streamResponse{
						Part: i,
						Content: fmt.Sprintf(
							"Message part %d", i,
						),
					})
					if err != nil {
						return err
					}
				}

				return nil
			},
		)
		if err != nil {
			return err
		}
	}

	return nil
}
