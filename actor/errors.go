package actor

import (
	"errors"
	"fmt"
)

var (
	// ErrActorAlreadyExists is returned when spawning with the default
	// exists policy and a record for the id is already present.
	ErrActorAlreadyExists = errors.New("actor already exists")

	// ErrActorNotFound is returned when an operation expects an actor
	// record that does not exist, e.g. a Save on an actor whose record
	// was deleted or a reply destined for a sender that was killed.
	ErrActorNotFound = errors.New("actor not found")

	// ErrUnhealthyActor is returned by the pre-send health gate.
	ErrUnhealthyActor = errors.New("actor is unhealthy")

	// ErrReplyTimeout is returned by a reply stream when no progress was
	// made within the configured timeout.
	ErrReplyTimeout = errors.New("reply timeout")

	// ErrTagNotRegistered is returned when a type was never registered
	// with the tag registry.
	ErrTagNotRegistered = errors.New("tag not registered")

	// ErrTagMismatch is returned when an id's tag does not match the
	// registered tag of the type it is used with.
	ErrTagMismatch = errors.New("id tag does not match registered tag")

	// ErrRecvAlreadyStarted is returned when Recv is called more than
	// once on the same context.
	ErrRecvAlreadyStarted = errors.New("recv stream already started")

	// ErrNoCurrentFrame is returned by Reply when no frame is being
	// handled on the context.
	ErrNoCurrentFrame = errors.New("no frame is being handled")

	// ErrUnsupportedEndpoint is returned for endpoints the embedded
	// store cannot serve.
	ErrUnsupportedEndpoint = errors.New("unsupported store endpoint")
)

// HandlerError is the error terminal of a reply stream: the recipient's
// handler failed and its display string was carried back to the sender.
type HandlerError struct {
	// Display is the handler error's display string as written into the
	// terminal frame.
	Display string
}

// Error returns the error message.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler error: %s", e.Display)
}
