package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check store connectivity",
	Long:  `Connect to the store and run an engine-level health round trip.`,
	RunE:  runPing,
}

func runPing(cmd *cobra.Command, args []string) error {
	engine, cancel, err := connectEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer cancel()
	defer engine.Close()

	if !engine.Health(cmd.Context()) {
		return fmt.Errorf("store did not answer the health ping")
	}

	fmt.Println("ok")

	return nil
}
