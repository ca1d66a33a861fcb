package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Method-Security/bioma/internal/db"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ExistsPolicy decides what Spawn does when a record for the id already
// exists.
type ExistsPolicy uint8

const (
	// ExistsError fails the spawn with ErrActorAlreadyExists. This is
	// the default.
	ExistsError ExistsPolicy = iota

	// ExistsReset deletes the existing record together with its pending
	// frames, replies and health row, then creates a fresh record.
	ExistsReset

	// ExistsRestore rehydrates the actor's state from the existing
	// record, discarding the initial state passed to Spawn. When no
	// record exists the actor is created from the initial state.
	ExistsRestore
)

// String renders the policy for log lines.
func (p ExistsPolicy) String() string {
	switch p {
	case ExistsError:
		return "error"
	case ExistsReset:
		return "reset"
	case ExistsRestore:
		return "restore"
	default:
		return "unknown"
	}
}

// SpawnOptions tunes a single spawn.
type SpawnOptions struct {
	// Exists selects the behavior on an id conflict.
	Exists ExistsPolicy

	// Health, when set, starts a heartbeat task for the actor.
	Health fn.Option[HealthConfig]
}

// DefaultSpawnOptions returns the defaults: error on conflict, no health
// monitoring.
func DefaultSpawnOptions() SpawnOptions {
	return SpawnOptions{}
}

// WithExists returns a copy of the options with the exists policy set.
func (o SpawnOptions) WithExists(p ExistsPolicy) SpawnOptions {
	o.Exists = p
	return o
}

// WithHealth returns a copy of the options with health monitoring enabled.
func (o SpawnOptions) WithHealth(cfg HealthConfig) SpawnOptions {
	o.Health = fn.Some(cfg)
	return o
}

// Context is an actor's handle to the runtime: its identity, its state
// snapshot, its mailbox stream and its reply helpers. The state is owned
// exclusively by the actor's task; Save persists a snapshot of it.
type Context[S any] struct {
	engine *Engine
	id     ID
	state  *S

	// recvStarted guards the one-subscription-per-context rule.
	recvStarted bool

	// current is the frame being dispatched by Handle. Actors that fan
	// out handlers must use ReplyTo with an explicit frame instead.
	current *Frame

	// healthCancel stops the heartbeat task, when one was started.
	healthCancel context.CancelFunc
}

// Spawn materializes a recipient: it binds the id to a durable actor record
// per the exists policy and returns the actor's context. The actor type S
// must be registered and the id's tag must match S's registered tag.
func Spawn[S any](ctx context.Context, engine *Engine, id ID, initial S,
	opts SpawnOptions) (*Context[S], error) {

	tag, ok := defaultRegistry.actorTag(typeOf[S]())
	if !ok {
		return nil, fmt.Errorf("%w: actor type %v",
			ErrTagNotRegistered, typeOf[S]())
	}
	if id.Tag != tag {
		return nil, fmt.Errorf("%w: id %s, registered tag %q",
			ErrTagMismatch, id, tag)
	}

	state := initial
	c := &Context[S]{
		engine: engine,
		id:     id,
		state:  &state,
	}

	blob, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal initial state: %w", err)
	}

	row := db.ActorRow{
		Ref:       id.ref(),
		State:     blob,
		CreatedAt: time.Now().UnixNano(),
	}

	switch opts.Exists {
	case ExistsError:
		err := engine.store.CreateActor(ctx, row)
		if db.IsUniqueConstraintError(err) {
			return nil, fmt.Errorf("%w: %s",
				ErrActorAlreadyExists, id)
		}
		if err != nil {
			return nil, fmt.Errorf("create actor: %w", err)
		}

	case ExistsReset:
		if err := engine.store.PurgeActor(ctx, id.ref()); err != nil {
			return nil, fmt.Errorf("reset actor: %w", err)
		}
		if err := engine.store.CreateActor(ctx, row); err != nil {
			return nil, fmt.Errorf("create actor: %w", err)
		}

	case ExistsRestore:
		existing, err := engine.store.GetActor(ctx, id.ref())
		switch {
		case errors.Is(err, db.ErrNotFound):
			if err := engine.store.CreateActor(
				ctx, row,
			); err != nil {
				return nil, fmt.Errorf("create actor: %w",
					err)
			}

		case err != nil:
			return nil, fmt.Errorf("restore actor: %w", err)

		default:
			if err := json.Unmarshal(
				existing.State, &state,
			); err != nil {
				return nil, fmt.Errorf("restore state of "+
					"%s: %w", id, err)
			}
		}

	default:
		return nil, fmt.Errorf("unknown exists policy %d", opts.Exists)
	}

	if opts.Health.IsSome() {
		c.healthCancel = engine.startHealthMonitor(
			ctx, id, opts.Health.UnwrapOr(HealthConfig{}),
		)
	}

	actorsSpawned.Inc()

	engine.log.DebugContext(ctx, "Spawned actor",
		"id", id, "exists_policy", opts.Exists)

	return c, nil
}

// ID returns the actor's id.
func (c *Context[S]) ID() ID {
	return c.id
}

// Engine returns the shared engine handle.
func (c *Context[S]) Engine() *Engine {
	return c.engine
}

// State returns the actor's in-memory state. The state is exclusively owned
// by the actor task; nothing is shared until Save snapshots it.
func (c *Context[S]) State() *S {
	return c.state
}

// Recv starts the incoming-frame stream for this actor's mailbox. It may be
// called once per context; the channel closes when ctx is cancelled.
//
// Frames are delivered in the store's insertion order for this recipient.
// Whether they are handled serially or concurrently is decided by the shape
// of the caller's receive loop.
func (c *Context[S]) Recv(ctx context.Context) (<-chan *Frame, error) {
	if c.recvStarted {
		return nil, fmt.Errorf("%w: %s", ErrRecvAlreadyStarted, c.id)
	}
	c.recvStarted = true

	frames := make(chan *Frame)
	signal, unsub := c.engine.store.Hub().Subscribe(
		db.RequestTopic(c.id.ref()),
	)

	c.engine.tasks.Submit(func() {
		defer close(frames)
		defer unsub()

		var watermark int64
		for {
			rows, err := c.engine.store.RequestsAfter(
				ctx, c.id.ref(), watermark,
			)
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				c.engine.log.WarnContext(ctx,
					"Mailbox poll failed",
					"id", c.id, "err", err)
			}

			for i := range rows {
				frame := frameFromRow(rows[i])

				select {
				case frames <- frame:
					watermark = rows[i].RowID
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-signal:
			case <-time.After(pollBackstop):
			}
		}
	})

	return frames, nil
}

// frameFromRow converts a stored request into an incoming frame.
func frameFromRow(row db.RequestRow) *Frame {
	return &Frame{
		RequestID: row.RequestID,
		Sender:    idFromRef(row.Sender),
		Recipient: idFromRef(row.Recipient),
		Tag:       row.MessageTag,
		Payload:   json.RawMessage(row.Payload),
		CreatedAt: time.Unix(0, row.CreatedAt),
		rowID:     row.RowID,
	}
}

// Reply appends a reply frame to the request currently being handled. Only
// valid while inside a Handle dispatch; handlers that fan out must use
// ReplyTo.
func (c *Context[S]) Reply(ctx context.Context, value any) error {
	if c.current == nil {
		return ErrNoCurrentFrame
	}

	return c.ReplyTo(ctx, c.current, value)
}

// ReplyTo appends a reply frame to an explicit request frame.
func (c *Context[S]) ReplyTo(ctx context.Context, f *Frame,
	value any) error {

	// A reply destined for a sender that no longer exists is an error;
	// the frames would never be consumed.
	_, err := c.engine.store.GetActor(ctx, f.Sender.ref())
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: reply destined for %s",
			ErrActorNotFound, f.Sender)
	}
	if err != nil {
		return fmt.Errorf("look up reply target: %w", err)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}

	err = c.engine.store.InsertReply(ctx, db.ReplyRow{
		ReplyID:   uuid.NewString(),
		RequestID: f.RequestID,
		Sender:    c.id.ref(),
		Recipient: f.Sender.ref(),
		Seq:       f.nextReplySeq(),
		Kind:      db.ReplyChunk,
		Payload:   payload,
		CreatedAt: time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}

	repliesSent.Inc()

	return nil
}

// finishFrame writes the terminal frame for a handled request and deletes
// the request row. The frame is considered handled once the terminal is
// durable; a crash in between may redeliver the request on restart.
func (c *Context[S]) finishFrame(ctx context.Context, f *Frame,
	handlerErr error) error {

	row := db.ReplyRow{
		ReplyID:   uuid.NewString(),
		RequestID: f.RequestID,
		Sender:    c.id.ref(),
		Recipient: f.Sender.ref(),
		Seq:       f.nextReplySeq(),
		Kind:      db.ReplyDone,
		CreatedAt: time.Now().UnixNano(),
	}
	if handlerErr != nil {
		row.Kind = db.ReplyError
		row.Error = handlerErr.Error()
		handlerErrors.Inc()
	}

	if err := c.engine.store.InsertReply(ctx, row); err != nil {
		return fmt.Errorf("insert terminal reply: %w", err)
	}

	if err := c.engine.store.DeleteRequest(
		ctx, f.RequestID,
	); err != nil {
		return fmt.Errorf("acknowledge request: %w", err)
	}

	return nil
}

// Handle dispatches the frame to h when its payload decodes as M. On return
// the runtime writes the terminal frame: end-of-stream when h returned nil,
// an error terminal carrying the error's display string otherwise. The
// request row is deleted either way.
//
// The first return value reports whether the frame was consumed. The error
// covers runtime failures only; a handler error terminates that one request
// and is carried to the sender, the actor continues.
func Handle[M any, S any](ctx context.Context, c *Context[S], f *Frame,
	h func(context.Context, M) error) (bool, error) {

	msg, ok := As[M](f)
	if !ok {
		return false, nil
	}

	c.current = f
	handlerErr := h(ctx, msg)
	c.current = nil

	if err := c.finishFrame(ctx, f, handlerErr); err != nil {
		return true, err
	}

	return true, nil
}

// Save serializes the actor's current state into its record. Persistence is
// opt-in: the actor's receive loop decides if and when to call it.
func (c *Context[S]) Save(ctx context.Context) error {
	blob, err := json.Marshal(c.state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	err = c.engine.store.UpdateActorState(ctx, c.id.ref(), blob)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrActorNotFound, c.id)
	}

	return err
}

// Kill deletes the actor record and cancels its health task. Subsequent
// health checks report the actor unhealthy and sends with the health gate
// fail.
func (c *Context[S]) Kill(ctx context.Context) error {
	if c.healthCancel != nil {
		c.healthCancel()
		c.healthCancel = nil
	}

	if err := c.engine.store.DeleteActor(ctx, c.id.ref()); err != nil {
		return fmt.Errorf("kill %s: %w", c.id, err)
	}

	actorsKilled.Inc()

	c.engine.log.DebugContext(ctx, "Killed actor", "id", c.id)

	return nil
}

// Health reports this actor's own health per the staleness predicate.
func (c *Context[S]) Health(ctx context.Context) (bool, error) {
	return c.engine.CheckHealth(ctx, c.id)
}

// CheckActorHealth applies the health predicate to a different actor.
func (c *Context[S]) CheckActorHealth(ctx context.Context,
	other ID) (bool, error) {

	return c.engine.CheckHealth(ctx, other)
}
