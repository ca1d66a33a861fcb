package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var actorsCmd = &cobra.Command{
	Use:   "actors",
	Short: "List persisted actors",
	Long:  `List every actor record in the database, oldest first.`,
	RunE:  runActors,
}

func runActors(cmd *cobra.Command, args []string) error {
	engine, cancel, err := connectEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer cancel()
	defer engine.Close()

	ids, err := engine.ListActors(cmd.Context())
	if err != nil {
		return err
	}

	for _, id := range ids {
		fmt.Println(id)
	}

	return nil
}
