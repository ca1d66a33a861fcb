package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	prand "math/rand"
	"os"
	"path/filepath"
	"time"
)

const (
	// defaultNumTxRetries is the default number of attempts made for a
	// write transaction that keeps failing with a serialization error.
	defaultNumTxRetries = 10

	// defaultInitialRetryDelay is the delay before the first retry.
	defaultInitialRetryDelay = 25 * time.Millisecond

	// defaultMaxRetryDelay is the cap on the retry delay.
	defaultMaxRetryDelay = time.Second
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// ActorRef addresses an actor record by its (tag, path) pair.
type ActorRef struct {
	Tag  string
	Path string
}

// String renders the ref the way it appears in log lines.
func (r ActorRef) String() string {
	return r.Tag + ":" + r.Path
}

// ActorRow is a persisted actor record.
type ActorRow struct {
	Ref       ActorRef
	State     []byte
	CreatedAt int64
}

// RequestRow is a durable request frame. RowID reflects insertion order and
// drives watermark-based delivery to the recipient.
type RequestRow struct {
	RowID      int64
	RequestID  string
	Sender     ActorRef
	Recipient  ActorRef
	MessageTag string
	Payload    []byte
	CreatedAt  int64
}

// ReplyKind discriminates payload frames from the two terminal frames.
type ReplyKind string

const (
	// ReplyChunk carries one payload of a streaming response.
	ReplyChunk ReplyKind = "chunk"

	// ReplyDone is the end-of-stream marker.
	ReplyDone ReplyKind = "done"

	// ReplyError is the error terminal carrying the handler's error text.
	ReplyError ReplyKind = "error"
)

// ReplyRow is a durable reply frame, ordered per request by Seq.
type ReplyRow struct {
	ReplyID   string
	RequestID string
	Sender    ActorRef
	Recipient ActorRef
	Seq       int64
	Kind      ReplyKind
	Payload   []byte
	Error     string
	CreatedAt int64
}

// HealthRow is the heartbeat record of a monitored actor. Timestamps and
// intervals are stored as nanoseconds.
type HealthRow struct {
	Ref            ActorRef
	LastHeartbeat  int64
	UpdateInterval int64
}

// Store provides durable storage for actor records, frames and health rows,
// plus the notification hub that backs the live-query subscriptions.
type Store struct {
	db  *sql.DB
	hub *Hub
	log *slog.Logger
}

// newStore wraps an open database handle.
func newStore(sqlDB *sql.DB, log *slog.Logger) *Store {
	return &Store{
		db:  sqlDB,
		hub: NewHub(),
		log: log,
	}
}

// Hub returns the notification hub fed by this store's writes.
func (s *Store) Hub() *Hub {
	return s.hub
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the store with a round trip.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// randRetryDelay returns a random retry delay between -50% and +50% of the
// configured delay that is doubled for each attempt and capped at a max
// value.
func randRetryDelay(attempt int) time.Duration {
	halfDelay := defaultInitialRetryDelay / 2
	randDelay := prand.Int63n(int64(defaultInitialRetryDelay)) //nolint:gosec

	// 50% plus 0%-100% gives us the range of 50%-150%.
	initialDelay := halfDelay + time.Duration(randDelay)

	if attempt == 0 {
		return initialDelay
	}

	// Doubling the delay n times is the same as multiplying by 2^n. The
	// power is limited to 32 to avoid overflows.
	factor := time.Duration(math.Pow(2, math.Min(float64(attempt), 32)))
	actualDelay := initialDelay * factor //nolint:durationcheck

	if actualDelay > defaultMaxRetryDelay {
		return defaultMaxRetryDelay
	}

	return actualDelay
}

// WithTx runs txBody inside a write transaction, retrying with randomized
// exponential backoff when the database reports a serialization conflict.
func (s *Store) WithTx(ctx context.Context,
	txBody func(tx *sql.Tx) error) error {

	for attempt := 0; attempt < defaultNumTxRetries; attempt++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return MapSQLError(err)
		}

		err = txBody(tx)
		if err == nil {
			err = tx.Commit()
			if err == nil {
				return nil
			}
		} else {
			_ = tx.Rollback()
		}

		err = MapSQLError(err)
		if !IsSerializationError(err) {
			return err
		}

		delay := randRetryDelay(attempt)
		s.log.DebugContext(ctx, "Retrying tx after serialization error",
			"attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return ErrRetriesExceeded
}

//
// Actor records.
//

// CreateActor inserts a new actor record. A unique constraint violation
// means a record for the ref already exists.
func (s *Store) CreateActor(ctx context.Context, row ActorRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actors (tag, path, state, created_at)
		VALUES (?, ?, ?, ?)`,
		row.Ref.Tag, row.Ref.Path, row.State, row.CreatedAt,
	)

	return MapSQLError(err)
}

// GetActor fetches the actor record for the given ref.
func (s *Store) GetActor(ctx context.Context,
	ref ActorRef) (*ActorRow, error) {

	row := s.db.QueryRowContext(ctx, `
		SELECT state, created_at FROM actors
		WHERE tag = ? AND path = ?`,
		ref.Tag, ref.Path,
	)

	actor := ActorRow{Ref: ref}
	err := row.Scan(&actor.State, &actor.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, MapSQLError(err)
	}

	return &actor, nil
}

// UpdateActorState overwrites the serialized state blob of an actor.
func (s *Store) UpdateActorState(ctx context.Context, ref ActorRef,
	state []byte) error {

	res, err := s.db.ExecContext(ctx, `
		UPDATE actors SET state = ? WHERE tag = ? AND path = ?`,
		state, ref.Tag, ref.Path,
	)
	if err != nil {
		return MapSQLError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return MapSQLError(err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteActor removes the actor record together with its health row. Pending
// frames are left behind on purpose: redelivery semantics on respawn belong
// to the caller.
func (s *Store) DeleteActor(ctx context.Context, ref ActorRef) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM actors WHERE tag = ? AND path = ?`,
			ref.Tag, ref.Path,
		)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM health
			WHERE actor_tag = ? AND actor_path = ?`,
			ref.Tag, ref.Path,
		)

		return err
	})
}

// PurgeActor removes the actor record plus every request addressed to it,
// every reply it produced, and its health row. Used by the Reset spawn mode.
func (s *Store) PurgeActor(ctx context.Context, ref ActorRef) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmts := []struct {
			query string
			args  []any
		}{
			{`DELETE FROM actors WHERE tag = ? AND path = ?`,
				[]any{ref.Tag, ref.Path}},
			{`DELETE FROM requests
				WHERE recipient_tag = ? AND recipient_path = ?`,
				[]any{ref.Tag, ref.Path}},
			{`DELETE FROM replies
				WHERE sender_tag = ? AND sender_path = ?`,
				[]any{ref.Tag, ref.Path}},
			{`DELETE FROM health
				WHERE actor_tag = ? AND actor_path = ?`,
				[]any{ref.Tag, ref.Path}},
		}

		for _, stmt := range stmts {
			if _, err := tx.ExecContext(
				ctx, stmt.query, stmt.args...,
			); err != nil {
				return err
			}
		}

		return nil
	})
}

// ListActors returns all actor records, oldest first.
func (s *Store) ListActors(ctx context.Context) ([]ActorRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag, path, state, created_at FROM actors
		ORDER BY created_at, tag, path`,
	)
	if err != nil {
		return nil, MapSQLError(err)
	}
	defer rows.Close()

	var actors []ActorRow
	for rows.Next() {
		var a ActorRow
		err := rows.Scan(
			&a.Ref.Tag, &a.Ref.Path, &a.State, &a.CreatedAt,
		)
		if err != nil {
			return nil, MapSQLError(err)
		}
		actors = append(actors, a)
	}

	return actors, rows.Err()
}

//
// Request frames.
//

// InsertRequest writes a durable request frame and wakes any subscription on
// the recipient's mailbox.
func (s *Store) InsertRequest(ctx context.Context, row RequestRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (request_id, sender_tag, sender_path,
			recipient_tag, recipient_path, message_tag, payload,
			created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.RequestID, row.Sender.Tag, row.Sender.Path,
		row.Recipient.Tag, row.Recipient.Path, row.MessageTag,
		row.Payload, row.CreatedAt,
	)
	if err != nil {
		return MapSQLError(err)
	}

	s.hub.Notify(RequestTopic(row.Recipient))

	return nil
}

// RequestsAfter returns the request frames addressed to the recipient with a
// row id greater than the watermark, in insertion order.
func (s *Store) RequestsAfter(ctx context.Context, recipient ActorRef,
	afterRowID int64) ([]RequestRow, error) {

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, sender_tag, sender_path, message_tag,
			payload, created_at
		FROM requests
		WHERE recipient_tag = ? AND recipient_path = ? AND id > ?
		ORDER BY id`,
		recipient.Tag, recipient.Path, afterRowID,
	)
	if err != nil {
		return nil, MapSQLError(err)
	}
	defer rows.Close()

	var reqs []RequestRow
	for rows.Next() {
		r := RequestRow{Recipient: recipient}
		err := rows.Scan(
			&r.RowID, &r.RequestID, &r.Sender.Tag, &r.Sender.Path,
			&r.MessageTag, &r.Payload, &r.CreatedAt,
		)
		if err != nil {
			return nil, MapSQLError(err)
		}
		reqs = append(reqs, r)
	}

	return reqs, rows.Err()
}

// DeleteRequest acknowledges a handled request by removing its row.
func (s *Store) DeleteRequest(ctx context.Context, requestID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM requests WHERE request_id = ?`, requestID,
	)

	return MapSQLError(err)
}

//
// Reply frames.
//

// InsertReply writes a reply frame and wakes the subscription waiting on its
// request.
func (s *Store) InsertReply(ctx context.Context, row ReplyRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replies (reply_id, request_id, sender_tag,
			sender_path, recipient_tag, recipient_path, seq, kind,
			payload, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ReplyID, row.RequestID, row.Sender.Tag, row.Sender.Path,
		row.Recipient.Tag, row.Recipient.Path, row.Seq,
		string(row.Kind), row.Payload, row.Error, row.CreatedAt,
	)
	if err != nil {
		return MapSQLError(err)
	}

	s.hub.Notify(ReplyTopic(row.RequestID))

	return nil
}

// RepliesAfter returns the reply frames for a request with a sequence number
// greater than the watermark, in sequence order.
func (s *Store) RepliesAfter(ctx context.Context, requestID string,
	afterSeq int64) ([]ReplyRow, error) {

	rows, err := s.db.QueryContext(ctx, `
		SELECT reply_id, sender_tag, sender_path, recipient_tag,
			recipient_path, seq, kind, payload, error, created_at
		FROM replies
		WHERE request_id = ? AND seq > ?
		ORDER BY seq`,
		requestID, afterSeq,
	)
	if err != nil {
		return nil, MapSQLError(err)
	}
	defer rows.Close()

	var replies []ReplyRow
	for rows.Next() {
		r := ReplyRow{RequestID: requestID}
		var kind string
		err := rows.Scan(
			&r.ReplyID, &r.Sender.Tag, &r.Sender.Path,
			&r.Recipient.Tag, &r.Recipient.Path, &r.Seq, &kind,
			&r.Payload, &r.Error, &r.CreatedAt,
		)
		if err != nil {
			return nil, MapSQLError(err)
		}
		r.Kind = ReplyKind(kind)
		replies = append(replies, r)
	}

	return replies, rows.Err()
}

//
// Health records.
//

// UpsertHealth writes a heartbeat, creating the health row on first write.
func (s *Store) UpsertHealth(ctx context.Context, row HealthRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO health (actor_tag, actor_path, last_heartbeat,
			update_interval)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (actor_tag, actor_path) DO UPDATE SET
			last_heartbeat = excluded.last_heartbeat,
			update_interval = excluded.update_interval`,
		row.Ref.Tag, row.Ref.Path, row.LastHeartbeat,
		row.UpdateInterval,
	)

	return MapSQLError(err)
}

// GetHealth fetches the heartbeat record for the given ref.
func (s *Store) GetHealth(ctx context.Context,
	ref ActorRef) (*HealthRow, error) {

	row := s.db.QueryRowContext(ctx, `
		SELECT last_heartbeat, update_interval FROM health
		WHERE actor_tag = ? AND actor_path = ?`,
		ref.Tag, ref.Path,
	)

	health := HealthRow{Ref: ref}
	err := row.Scan(&health.LastHeartbeat, &health.UpdateInterval)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, MapSQLError(err)
	}

	return &health, nil
}

// DeleteHealth removes the heartbeat record for the given ref.
func (s *Store) DeleteHealth(ctx context.Context, ref ActorRef) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM health WHERE actor_tag = ? AND actor_path = ?`,
		ref.Tag, ref.Path,
	)

	return MapSQLError(err)
}

//
// Diagnostics.
//

// DumpTo snapshots the database into a standalone file at the given path
// using VACUUM INTO. Works for both file-backed and in-memory databases.
func (s *Store) DumpTo(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create dump directory: %w", err)
	}

	// VACUUM INTO refuses to overwrite an existing file.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	_, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path)

	return MapSQLError(err)
}
