package commands

import (
	"fmt"
	"strconv"

	"github.com/ardanlabs/fullnode/foundation/blockchain/reward"
	"github.com/spf13/cobra"
)

func rewardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rewards <height>...",
		Short: "Print the block rewards paid at the heights.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGenesis()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, arg := range args {
				height, err := strconv.ParseUint(arg, 10, 32)
				if err != nil {
					return fmt.Errorf("height %q: %w", arg, err)
				}
				h := uint32(height)

				fmt.Fprintf(out, "Height: %d  Total: %d  Pool: %d  Farmer: %d\n", h, reward.Total(h), reward.Pool(g.Constants, h), reward.BaseFarmer(g.Constants, h))
			}

			return nil
		},
	}
}
