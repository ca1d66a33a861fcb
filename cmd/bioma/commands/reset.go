package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the database",
	Long: `Drop every table of the selected (namespace, database) pair and
reapply the schema. In-flight frames are not preserved.`,
	RunE: runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	engine, cancel, err := connectEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer cancel()
	defer engine.Close()

	if err := engine.Reset(cmd.Context()); err != nil {
		return err
	}

	fmt.Printf("reset %s/%s\n", namespace, database)

	return nil
}
