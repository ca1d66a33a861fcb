package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Method-Security/bioma/internal/db"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// pollBackstop bounds how long a subscription waits before re-polling its
// watermark query even without a hub wakeup. The hub makes in-process
// delivery effectively instant; the backstop covers writers in other
// processes sharing a database file.
const pollBackstop = 250 * time.Millisecond

// SendOptions tunes a single send.
type SendOptions struct {
	// CheckHealth consults the health predicate before inserting the
	// request and fails the send with ErrUnhealthyActor when it reports
	// the recipient unhealthy. The gate is advisory: a recipient dying
	// between check and insert surfaces as a normal timeout.
	CheckHealth bool

	// Timeout bounds the gap between successive replies, not the total
	// duration. None means wait forever.
	Timeout fn.Option[time.Duration]
}

// DefaultSendOptions returns the zero configuration: no health gate, no
// timeout.
func DefaultSendOptions() SendOptions {
	return SendOptions{}
}

// WithTimeout returns a copy of the options with the reply gap timeout set.
func (o SendOptions) WithTimeout(d time.Duration) SendOptions {
	o.Timeout = fn.Some(d)
	return o
}

// WithCheckHealth returns a copy of the options with the pre-send health
// gate enabled.
func (o SendOptions) WithCheckHealth() SendOptions {
	o.CheckHealth = true
	return o
}

// Sender is the capability needed to originate a request: an identity plus
// the engine handle. Every actor context is a Sender; Relay exists for
// callers that need nothing more.
type Sender interface {
	// ID returns the sender's actor id.
	ID() ID

	// Engine returns the shared engine handle.
	Engine() *Engine
}

// Send writes a durable request frame addressed to the recipient and
// returns the stream of replies. The message type M must be registered.
//
// The returned stream is lazy: nothing is read from the store until the
// first call to Next. The subscription on the request is armed before the
// frame is written, so no reply can be missed.
func Send[M any](ctx context.Context, from Sender, to ID, msg M,
	opts SendOptions) (*ReplyStream, error) {

	engine := from.Engine()

	tag, err := messageTagOf[M]()
	if err != nil {
		return nil, err
	}

	if opts.CheckHealth {
		healthy, err := engine.CheckHealth(ctx, to)
		if err != nil {
			return nil, err
		}
		if !healthy {
			return nil, fmt.Errorf("%w: %s", ErrUnhealthyActor, to)
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %q payload: %w", tag, err)
	}

	requestID := uuid.NewString()

	// Arm the reply subscription before the request becomes visible.
	signal, unsub := engine.store.Hub().Subscribe(db.ReplyTopic(requestID))

	err = engine.store.InsertRequest(ctx, db.RequestRow{
		RequestID:  requestID,
		Sender:     from.ID().ref(),
		Recipient:  to.ref(),
		MessageTag: tag,
		Payload:    payload,
		CreatedAt:  time.Now().UnixNano(),
	})
	if err != nil {
		unsub()
		return nil, fmt.Errorf("insert request: %w", err)
	}

	framesSent.WithLabelValues(tag).Inc()

	engine.log.DebugContext(ctx, "Sent request",
		"request_id", requestID,
		"from", from.ID(),
		"to", to,
		"message_tag", tag,
	)

	return &ReplyStream{
		engine:    engine,
		requestID: requestID,
		signal:    signal,
		unsub:     unsub,
		timeout:   opts.Timeout,
	}, nil
}

// ReplyStream yields the replies of a single request in sequence order
// until the terminal frame. Dropping the stream via Close cancels the
// subscription; the recipient's handler still runs to completion.
type ReplyStream struct {
	engine    *Engine
	requestID string

	signal  <-chan struct{}
	unsub   func()
	timeout fn.Option[time.Duration]

	lastSeq int64
	pending []db.ReplyRow
	done    bool

	closeOnce sync.Once
}

// Next returns the next reply payload. It returns io.EOF once the
// end-of-stream marker is observed, a *HandlerError when the recipient's
// handler failed, and ErrReplyTimeout when the configured gap timeout
// elapses without progress.
func (s *ReplyStream) Next(ctx context.Context) (json.RawMessage, error) {
	if s.done {
		return nil, io.EOF
	}

	// The gap timer covers the wait for this one reply.
	var deadline <-chan time.Time
	if s.timeout.IsSome() {
		timer := time.NewTimer(s.timeout.UnwrapOr(0))
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if len(s.pending) == 0 {
			rows, err := s.engine.store.RepliesAfter(
				ctx, s.requestID, s.lastSeq,
			)
			if err != nil {
				return nil, err
			}
			s.pending = rows
		}

		if len(s.pending) > 0 {
			row := s.pending[0]
			s.pending = s.pending[1:]
			s.lastSeq = row.Seq

			switch row.Kind {
			case db.ReplyChunk:
				return json.RawMessage(row.Payload), nil

			case db.ReplyDone:
				s.finish()
				return nil, io.EOF

			case db.ReplyError:
				s.finish()
				return nil, &HandlerError{Display: row.Error}

			default:
				return nil, fmt.Errorf("unknown reply "+
					"kind %q", row.Kind)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-s.signal:
			// New replies are durable, loop around and fetch.

		case <-time.After(pollBackstop):
			// Backstop poll for out-of-process writers.

		case <-deadline:
			s.finish()
			return nil, fmt.Errorf("%w: request %s",
				ErrReplyTimeout, s.requestID)
		}
	}
}

// finish tears down the subscription and marks the stream exhausted.
func (s *ReplyStream) finish() {
	s.done = true
	s.closeOnce.Do(s.unsub)
}

// Close cancels the subscription. Safe to call multiple times and after the
// stream already ended.
func (s *ReplyStream) Close() {
	s.closeOnce.Do(s.unsub)
	s.done = true
}

// NextAs decodes the next reply payload into R.
func NextAs[R any](ctx context.Context, s *ReplyStream) (R, error) {
	var reply R

	raw, err := s.Next(ctx)
	if err != nil {
		return reply, err
	}

	if err := json.Unmarshal(raw, &reply); err != nil {
		return reply, fmt.Errorf("decode reply: %w", err)
	}

	return reply, nil
}

// SendAndWaitReply sends the message, awaits the first reply and discards
// the remainder of the stream, still consuming the terminal marker. An
// empty stream (terminal before any reply) surfaces the terminal's error,
// or io.EOF for a clean end-of-stream.
func SendAndWaitReply[R any, M any](ctx context.Context, from Sender, to ID,
	msg M, opts SendOptions) (R, error) {

	var reply R

	stream, err := Send(ctx, from, to, msg, opts)
	if err != nil {
		return reply, err
	}
	defer stream.Close()

	reply, err = NextAs[R](ctx, stream)
	if err != nil {
		return reply, err
	}

	// Drain the rest of the stream up to the terminal so the request is
	// fully consumed before the subscription is dropped.
	for {
		if _, err := stream.Next(ctx); err != nil {
			break
		}
	}

	return reply, nil
}
