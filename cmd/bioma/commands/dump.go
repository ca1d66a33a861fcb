package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <label>",
	Short: "Export a debug snapshot of the database",
	Long: `Snapshot the current database into a standalone file under
<output-dir>/debug/ keyed by the given label.`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func runDump(cmd *cobra.Command, args []string) error {
	engine, cancel, err := connectEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer cancel()
	defer engine.Close()

	path, err := engine.DebugDump(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Println(path)

	return nil
}
