// Package commands contains the admin tooling commands.
package commands

import (
	"fmt"

	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/spf13/cobra"
)

var (
	genesisPath string
	network     string
)

// NewRootCmd constructs the admin command with every subcommand attached.
func NewRootCmd(build string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "admin",
		Short:        "Administrative tooling for the full node",
		Version:      build,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&genesisPath, "genesis", "g", "", "Path to a genesis file, overrides the network.")
	rootCmd.PersistentFlags().StringVarP(&network, "network", "n", "mainnet", "Built in network: mainnet or testnet.")

	rootCmd.AddCommand(rewardsCmd())
	rootCmd.AddCommand(itersCmd())
	rootCmd.AddCommand(constantsCmd())

	return rootCmd
}

// Execute runs the admin command against the process arguments.
func Execute(build string) error {
	return NewRootCmd(build).Execute()
}

// loadGenesis returns the genesis named by the flags.
func loadGenesis() (genesis.Genesis, error) {
	if genesisPath != "" {
		return genesis.Load(genesisPath)
	}

	switch network {
	case "mainnet":
		return genesis.Default(), nil
	case "testnet":
		return genesis.Testnet(), nil
	}

	return genesis.Genesis{}, fmt.Errorf("unknown network %q", network)
}
