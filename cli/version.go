package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the broker release version, overridable at build time via
// -ldflags "-X operandi.gwdg.de/broker/cli.Version=...".
var Version = "0.5.0"

func init() {
	RootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the broker version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("operandi-broker %s\n", Version)
	},
}
