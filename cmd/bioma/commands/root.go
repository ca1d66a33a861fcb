package commands

import (
	"context"
	"time"

	"github.com/Method-Security/bioma/actor"
	"github.com/spf13/cobra"
)

var (
	// endpoint is the store endpoint ("memory" or a directory).
	endpoint string

	// namespace and database select the logical partition.
	namespace string
	database  string

	// outputDir is the root for debug dumps.
	outputDir string

	// connectTimeout bounds the engine connect retry loop.
	connectTimeout time.Duration
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "bioma",
	Short: "Operations CLI for the bioma actor runtime",
	Long: `Inspect and maintain a bioma actor database.

The runtime itself is a library; this CLI only covers operational chores:
pinging the store, resetting a database, dumping it for debugging and
listing persisted actors.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaults := actor.DefaultOptions()

	// Global flags.
	rootCmd.PersistentFlags().StringVar(
		&endpoint, "endpoint", defaults.Endpoint,
		"Store endpoint: 'memory' or a directory",
	)
	rootCmd.PersistentFlags().StringVar(
		&namespace, "namespace", defaults.Namespace,
		"Logical namespace",
	)
	rootCmd.PersistentFlags().StringVar(
		&database, "database", defaults.Database,
		"Logical database",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputDir, "output-dir", defaults.OutputDir,
		"Root directory for debug dumps",
	)
	rootCmd.PersistentFlags().DurationVar(
		&connectTimeout, "connect-timeout", 30*time.Second,
		"How long to keep retrying the store connection",
	)

	// Add subcommands.
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(actorsCmd)
}

// connectEngine opens the engine with the global flag values.
func connectEngine(ctx context.Context) (*actor.Engine, context.CancelFunc,
	error) {

	opts := actor.DefaultOptions()
	opts.Endpoint = endpoint
	opts.Namespace = namespace
	opts.Database = database
	opts.OutputDir = outputDir

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)

	engine, err := actor.Connect(ctx, opts)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	return engine, cancel, nil
}
