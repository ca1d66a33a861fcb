package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Method-Security/bioma/internal/db"
	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
)

const (
	// connectInitialDelay is the delay before the first connect retry.
	connectInitialDelay = time.Second

	// connectMaxDelay caps the doubling connect retry delay.
	connectMaxDelay = 10 * time.Second
)

// Options configures an Engine.
type Options struct {
	// Endpoint is "memory" for an in-process store, or a directory under
	// which the database files live. Network endpoints belong to an
	// external store driver and are rejected.
	Endpoint string

	// Namespace and Database select a logical partition.
	Namespace string
	Database  string

	// Username and Password are root credentials. The embedded store has
	// no authentication; they are accepted for config compatibility.
	Username string
	Password string

	// OutputDir is the root for debug dumps and other artifacts.
	OutputDir string

	// LocalStoreDir is the prefix handed to the blob store collaborator.
	LocalStoreDir string

	// HuggingFaceCacheDir is the model cache path exposed to actors. The
	// runtime never touches it.
	HuggingFaceCacheDir string
}

// DefaultOptions returns the default engine configuration: an in-memory
// store with artifacts under the project root's .output directory.
func DefaultOptions() Options {
	root := findProjectRoot()
	output := filepath.Join(root, ".output")

	return Options{
		Endpoint:      db.MemoryEndpoint,
		Namespace:     "dev",
		Database:      "bioma",
		Username:      "root",
		Password:      "root",
		OutputDir:     output,
		LocalStoreDir: filepath.Join(output, "store"),
		HuggingFaceCacheDir: filepath.Join(
			output, "cache", "huggingface", "hub",
		),
	}
}

// findProjectRoot walks up from the current directory looking for a go.mod
// or .git marker and falls back to the current working directory.
func findProjectRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}

	dir := cwd
	for {
		for _, marker := range []string{"go.mod", ".git"} {
			if _, err := os.Stat(
				filepath.Join(dir, marker),
			); err == nil {
				return dir
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return cwd
		}
		dir = parent
	}
}

// Engine is the entry point of the runtime. It owns the store connection,
// the schema bootstrap, the background task pool and the tag registry. The
// handle is cheap to share: every actor context holds the same *Engine.
type Engine struct {
	store *db.Store
	opts  Options
	tasks pond.Pool
	log   *slog.Logger
}

// Connect opens the store at opts.Endpoint, selects (namespace, database)
// and runs the schema bootstrap. Connection attempts are retried forever
// with exponential backoff doubling from 1s to a 10s cap, logging each
// attempt; it fails only when the endpoint is unsupported, the bootstrap
// reports a non-recoverable schema error, or the context is cancelled.
func Connect(ctx context.Context, opts Options) (*Engine, error) {
	log := slog.Default()
	log.InfoContext(ctx, "Engine connecting",
		"endpoint", opts.Endpoint,
		"namespace", opts.Namespace,
		"database", opts.Database,
		"username", opts.Username,
	)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = connectInitialDelay
	policy.MaxInterval = connectMaxDelay
	policy.Multiplier = 2
	// Retry forever; only the context bounds the attempts.
	policy.MaxElapsedTime = 0

	var engine *Engine
	op := func() error {
		var err error
		engine, err = attemptConnect(opts, log)
		if err != nil {
			// Neither a schema error nor a rejected endpoint will
			// heal by reconnecting.
			if db.IsSchemaError(err) ||
				errors.Is(err, ErrUnsupportedEndpoint) {

				return backoff.Permanent(err)
			}

			log.WarnContext(ctx, "Failed to connect, retrying",
				"endpoint", opts.Endpoint, "err", err)

			return err
		}

		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, err
	}

	return engine, nil
}

// Test returns an engine backed by a private in-memory store. Unlike
// Connect it makes a single attempt.
func Test() (*Engine, error) {
	return TestWithOptions(DefaultOptions())
}

// TestWithOptions is Test with explicit options; the endpoint is forced to
// memory.
func TestWithOptions(opts Options) (*Engine, error) {
	opts.Endpoint = db.MemoryEndpoint
	return attemptConnect(opts, slog.Default())
}

// attemptConnect performs a single open-and-bootstrap attempt.
func attemptConnect(opts Options, log *slog.Logger) (*Engine, error) {
	if err := validateEndpoint(opts.Endpoint); err != nil {
		return nil, err
	}

	store, err := db.Open(db.Config{
		Endpoint:  opts.Endpoint,
		Namespace: opts.Namespace,
		Database:  opts.Database,
	}, log)
	if err != nil {
		return nil, err
	}

	return &Engine{
		store: store,
		opts:  opts,
		tasks: pond.NewPool(runtime.NumCPU() * 2),
		log:   log,
	}, nil
}

// validateEndpoint rejects endpoints that require an external store driver.
func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%w: empty endpoint", ErrUnsupportedEndpoint)
	}

	for _, scheme := range []string{"ws://", "wss://", "http://",
		"https://"} {

		if strings.HasPrefix(endpoint, scheme) {
			return fmt.Errorf("%w: %s", ErrUnsupportedEndpoint,
				endpoint)
		}
	}

	return nil
}

// Reset drops and recreates the database, reapplying the schema. In-flight
// frames are not preserved.
func (e *Engine) Reset(ctx context.Context) error {
	e.log.InfoContext(ctx, "Resetting engine database",
		"namespace", e.opts.Namespace, "database", e.opts.Database)

	return e.store.Reset(ctx)
}

// Health reports whether the store answers a round-trip ping. This is
// engine-level health, distinct from per-actor health.
func (e *Engine) Health(ctx context.Context) bool {
	return e.store.Ping(ctx) == nil
}

// Close stops the background task pool and closes the store.
func (e *Engine) Close() error {
	e.tasks.StopAndWait()
	return e.store.Close()
}

// Options returns the engine configuration.
func (e *Engine) Options() Options {
	return e.opts
}

// Tasks returns the engine's background worker pool. Behavior-tree
// composites use it to fan out parallel ticks.
func (e *Engine) Tasks() pond.Pool {
	return e.tasks
}

// Registry returns the tag registry.
func (e *Engine) Registry() *Registry {
	return defaultRegistry
}

// OutputDir returns the root directory for artifacts.
func (e *Engine) OutputDir() string {
	return e.opts.OutputDir
}

// LocalStoreDir returns the prefix for the blob store collaborator,
// creating it on first use.
func (e *Engine) LocalStoreDir() (string, error) {
	if err := os.MkdirAll(e.opts.LocalStoreDir, 0700); err != nil {
		return "", fmt.Errorf("create local store dir: %w", err)
	}

	return e.opts.LocalStoreDir, nil
}

// HuggingFaceCacheDir returns the model cache path exposed to actors.
func (e *Engine) HuggingFaceCacheDir() string {
	return e.opts.HuggingFaceCacheDir
}

// DebugDump snapshots the database into output_dir/debug/<label>.db. This
// is a diagnostic aid, not part of runtime correctness.
func (e *Engine) DebugDump(ctx context.Context, label string) (string, error) {
	path := filepath.Join(e.opts.OutputDir, "debug", label+".db")

	if err := e.store.DumpTo(ctx, path); err != nil {
		return "", fmt.Errorf("debug dump: %w", err)
	}

	e.log.DebugContext(ctx, "Exported debug dump", "path", path)

	return path, nil
}

// ListActors returns every persisted actor id, oldest first.
func (e *Engine) ListActors(ctx context.Context) ([]ID, error) {
	rows, err := e.store.ListActors(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]ID, len(rows))
	for i, row := range rows {
		ids[i] = idFromRef(row.Ref)
	}

	return ids, nil
}
