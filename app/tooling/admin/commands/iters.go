package commands

import (
	"fmt"

	"github.com/ardanlabs/fullnode/foundation/blockchain/pot"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

func itersCmd() *cobra.Command {
	var (
		ssi        uint64
		spIndex    uint8
		required   uint64
		quality    string
		ccSP       string
		size       uint8
		difficulty uint64
	)

	cmd := &cobra.Command{
		Use:   "iters",
		Short: "Print the signage and infusion point iterations of a proof.",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGenesis()
			if err != nil {
				return err
			}
			c := g.Constants

			if ssi == 0 {
				ssi = c.SubSlotItersStarting
			}
			if difficulty == 0 {
				difficulty = c.DifficultyStarting
			}

			out := cmd.OutOrStdout()

			if quality != "" {
				q, err := hexutil.Decode(quality)
				if err != nil {
					return fmt.Errorf("quality: %w", err)
				}
				cc, err := hexutil.Decode(ccSP)
				if err != nil {
					return fmt.Errorf("cc-sp: %w", err)
				}

				required = pot.IterationsQuality(c, common.BytesToHash(q), size, difficulty, common.BytesToHash(cc))
				fmt.Fprintf(out, "Required: %d\n", required)
			}

			overflow, err := pot.IsOverflowBlock(c, spIndex)
			if err != nil {
				return err
			}

			spIters, err := pot.SPIters(c, ssi, spIndex)
			if err != nil {
				return err
			}

			ipIters, err := pot.IPIters(c, ssi, spIndex, required)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "SubSlotIters: %d  SPInterval: %d  Overflow: %t\n", ssi, pot.SPIntervalIters(c, ssi), overflow)
			fmt.Fprintf(out, "SP: %d  IP: %d\n", spIters, ipIters)

			return nil
		},
	}

	cmd.Flags().Uint64Var(&ssi, "ssi", 0, "Sub-slot iterations, the starting value when zero.")
	cmd.Flags().Uint8Var(&spIndex, "sp", 0, "Signage point index.")
	cmd.Flags().Uint64Var(&required, "required", 1, "Required iterations of the proof.")
	cmd.Flags().StringVar(&quality, "quality", "", "Hex quality string, computes the required iterations.")
	cmd.Flags().StringVar(&ccSP, "cc-sp", "0x00", "Hex challenge chain signage point output hash.")
	cmd.Flags().Uint8Var(&size, "k", 32, "Plot size.")
	cmd.Flags().Uint64Var(&difficulty, "difficulty", 0, "Difficulty, the starting value when zero.")

	return cmd
}
