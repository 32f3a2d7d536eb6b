// This program performs administrative tasks against the consensus
// constants of a full node network.
package main

import (
	"os"

	"github.com/ardanlabs/fullnode/app/tooling/admin/commands"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {
	if err := commands.Execute(build); err != nil {
		os.Exit(1)
	}
}
