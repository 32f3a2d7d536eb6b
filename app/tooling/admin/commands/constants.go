package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func constantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "constants",
		Short: "Print the genesis and consensus constants in effect.",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGenesis()
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			return enc.Encode(g)
		},
	}
}
