package actor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Method-Security/bioma/actor"
	"github.com/stretchr/testify/require"
)

func TestEngineConnect(t *testing.T) {
	t.Parallel()

	engine, err := actor.Test()
	require.NoError(t, err)
	defer engine.Close()

	require.True(t, engine.Health(context.Background()))
}

func TestEngineDefaults(t *testing.T) {
	t.Parallel()

	opts := actor.DefaultOptions()
	require.Equal(t, "memory", opts.Endpoint)
	require.Equal(t, "dev", opts.Namespace)
	require.Equal(t, "bioma", opts.Database)
	require.Equal(t, "root", opts.Username)
	require.Equal(t, "root", opts.Password)
	require.Contains(t, opts.OutputDir, ".output")
}

func TestEngineFileEndpoint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	opts := actor.DefaultOptions()
	opts.Endpoint = dir

	ctx := context.Background()

	engine, err := actor.Connect(ctx, opts)
	require.NoError(t, err)
	defer engine.Close()

	require.True(t, engine.Health(ctx))

	// The database file lands under <endpoint>/<namespace>/.
	_, err = os.Stat(filepath.Join(dir, "dev", "bioma.db"))
	require.NoError(t, err)
}

func TestEngineUnsupportedEndpoint(t *testing.T) {
	t.Parallel()

	opts := actor.DefaultOptions()
	opts.Endpoint = "ws://localhost:8000"

	_, err := actor.Connect(context.Background(), opts)
	require.ErrorIs(t, err, actor.ErrUnsupportedEndpoint)
}

func TestEngineResetIdempotent(t *testing.T) {
	t.Parallel()

	engine, err := actor.Test()
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()

	id := actor.IDOf[testActor]("/reset-me")
	_, err = actor.Spawn(
		ctx, engine, id, testActor{}, actor.DefaultSpawnOptions(),
	)
	require.NoError(t, err)

	// Reset twice in a row: the bootstrap must be idempotent.
	require.NoError(t, engine.Reset(ctx))
	require.NoError(t, engine.Reset(ctx))

	// The record is gone, so spawning the same id works again.
	_, err = actor.Spawn(
		ctx, engine, id, testActor{}, actor.DefaultSpawnOptions(),
	)
	require.NoError(t, err)
}

func TestEngineDebugDump(t *testing.T) {
	t.Parallel()

	opts := actor.DefaultOptions()
	opts.OutputDir = t.TempDir()

	engine, err := actor.TestWithOptions(opts)
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()

	_, err = actor.Spawn(
		ctx, engine, actor.IDOf[testActor]("/dumped"), testActor{},
		actor.DefaultSpawnOptions(),
	)
	require.NoError(t, err)

	path, err := engine.DebugDump(ctx, "engine_test")
	require.NoError(t, err)
	require.Equal(
		t, filepath.Join(opts.OutputDir, "debug", "engine_test.db"),
		path,
	)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NotZero(t, info.Size())
}

func TestEngineListActors(t *testing.T) {
	t.Parallel()

	engine, err := actor.Test()
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()

	first := actor.IDOf[testActor]("/one")
	second := actor.IDOf[statefulActor]("/two")

	for _, spawn := range []func() error{
		func() error {
			_, err := actor.Spawn(
				ctx, engine, first, testActor{},
				actor.DefaultSpawnOptions(),
			)
			return err
		},
		func() error {
			_, err := actor.Spawn(
				ctx, engine, second, statefulActor{},
				actor.DefaultSpawnOptions(),
			)
			return err
		},
	} {
		require.NoError(t, spawn())
	}

	ids, err := engine.ListActors(ctx)
	require.NoError(t, err)
	require.Contains(t, ids, first)
	require.Contains(t, ids, second)
}

func TestEngineLocalStoreDir(t *testing.T) {
	t.Parallel()

	opts := actor.DefaultOptions()
	opts.LocalStoreDir = filepath.Join(t.TempDir(), "store")

	engine, err := actor.TestWithOptions(opts)
	require.NoError(t, err)
	defer engine.Close()

	dir, err := engine.LocalStoreDir()
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
