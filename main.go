// Package main is the entry point of the OPERANDI broker binary. It
// executes the cobra command tree and maps errors to the documented exit
// codes: 0 on clean shutdown, 2 on URL validation failure, 1 on any
// unexpected fatal error.
package main

import (
	"os"

	"operandi.gwdg.de/broker/cli"
	"operandi.gwdg.de/broker/common"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		common.Logger.Error(err.Error())
		os.Exit(cli.ExitCode(err))
	}
}
