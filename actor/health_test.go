package actor_test

import (
	"context"
	"testing"
	"time"

	"github.com/Method-Security/bioma/actor"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitoringEnabled(t *testing.T) {
	t.Parallel()

	engine, err := actor.Test()
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()
	actorCtx, abort := context.WithCancel(ctx)
	defer abort()

	interval := 50 * time.Millisecond
	opts := actor.DefaultSpawnOptions().WithHealth(actor.HealthConfig{
		UpdateInterval: interval,
	})

	id := actor.IDOf[testActor]("/health-test")
	c, err := actor.Spawn(actorCtx, engine, id, testActor{}, opts)
	require.NoError(t, err)

	go func() {
		_ = runTestActor(actorCtx, c)
	}()

	relay := spawnRelay(t, ctx, engine)

	// Healthy right after spawn.
	healthy, err := relay.CheckActorHealth(ctx, id)
	require.NoError(t, err)
	require.True(t, healthy)

	// Still healthy while the heartbeat task keeps beating, well past a
	// single interval.
	time.Sleep(4 * interval)
	healthy, err = relay.CheckActorHealth(ctx, id)
	require.NoError(t, err)
	require.True(t, healthy)

	// Abort the actor. Once the last heartbeat is older than three
	// intervals the staleness predicate flips.
	abort()
	require.Eventually(t, func() bool {
		healthy, err := relay.CheckActorHealth(ctx, id)
		require.NoError(t, err)

		return !healthy
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHealthMonitoringDisabled(t *testing.T) {
	t.Parallel()

	engine, err := actor.Test()
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()

	id := actor.IDOf[testActor]("/health-disabled")
	_, err = actor.Spawn(
		ctx, engine, id, testActor{}, actor.DefaultSpawnOptions(),
	)
	require.NoError(t, err)

	relay := spawnRelay(t, ctx, engine)

	// No health record means monitoring is disabled and the actor is
	// assumed healthy while its record exists, no matter how long ago it
	// was spawned.
	healthy, err := relay.CheckActorHealth(ctx, id)
	require.NoError(t, err)
	require.True(t, healthy)

	time.Sleep(300 * time.Millisecond)

	healthy, err = relay.CheckActorHealth(ctx, id)
	require.NoError(t, err)
	require.True(t, healthy)
}

func TestHealthCheckBeforeSend(t *testing.T) {
	t.Parallel()

	engine, err := actor.Test()
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()
	actorCtx, abort := context.WithCancel(ctx)
	defer abort()

	interval := 50 * time.Millisecond
	spawnOpts := actor.DefaultSpawnOptions().WithHealth(
		actor.HealthConfig{UpdateInterval: interval},
	)

	id := actor.IDOf[testActor]("/health-check")
	c, err := actor.Spawn(actorCtx, engine, id, testActor{}, spawnOpts)
	require.NoError(t, err)

	go func() {
		_ = runTestActor(actorCtx, c)
	}()

	relay := spawnRelay(t, ctx, engine)
	sendOpts := actor.DefaultSendOptions().
		WithCheckHealth().
		WithTimeout(5 * time.Second)

	// The gated send passes while the heartbeat is fresh.
	resp, err := actor.SendAndWaitReply[testResponse](
		ctx, relay, id, testMessage{Content: "Health check test"},
		sendOpts,
	)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Count)

	// Abort and wait out the staleness threshold: the gate must reject
	// before anything is inserted.
	abort()
	time.Sleep(time.Duration(actor.HeartbeatStaleFactor+2) * interval)

	_, err = actor.SendAndWaitReply[testResponse](
		ctx, relay, id, testMessage{Content: "after death"}, sendOpts,
	)
	require.ErrorIs(t, err, actor.ErrUnhealthyActor)
}

func TestHealthGateOnKilledActor(t *testing.T) {
	t.Parallel()

	engine, err := actor.Test()
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()

	id := actor.IDOf[testActor]("/killed")
	c, err := actor.Spawn(
		ctx, engine, id, testActor{}, actor.DefaultSpawnOptions(),
	)
	require.NoError(t, err)

	require.NoError(t, c.Kill(ctx))

	relay := spawnRelay(t, ctx, engine)

	// A send to a killed actor with the gate enabled fails immediately,
	// without inserting a request.
	_, err = actor.Send(
		ctx, relay, id, testMessage{Content: "dead letter"},
		actor.DefaultSendOptions().WithCheckHealth(),
	)
	require.ErrorIs(t, err, actor.ErrUnhealthyActor)
}

func TestHealthRecordPersistence(t *testing.T) {
	t.Parallel()

	engine, err := actor.Test()
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()

	interval := 50 * time.Millisecond
	opts := actor.DefaultSpawnOptions().WithHealth(actor.HealthConfig{
		UpdateInterval: interval,
	})

	id := actor.IDOf[testActor]("/health-persist")

	// First spawn, then abort its heartbeat task.
	firstCtx, abortFirst := context.WithCancel(ctx)
	_, err = actor.Spawn(firstCtx, engine, id, testActor{}, opts)
	require.NoError(t, err)

	time.Sleep(2 * interval)
	abortFirst()

	// Respawn with the same id: the heartbeat row is refreshed and the
	// actor reports healthy again.
	secondCtx, stop := context.WithCancel(ctx)
	defer stop()

	_, err = actor.Spawn(
		secondCtx, engine, id, testActor{},
		opts.WithExists(actor.ExistsRestore),
	)
	require.NoError(t, err)

	relay := spawnRelay(t, ctx, engine)

	healthy, err := relay.CheckActorHealth(ctx, id)
	require.NoError(t, err)
	require.True(t, healthy)
}
