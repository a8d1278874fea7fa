package main

import (
	"os"

	"github.com/upkeephq/upkeep/cmd/upkeep/upkeepcli"
)

func main() {
	cli := upkeepcli.NewCLI(nil)
	if err := cli.BaseCommandSet().Execute(); err != nil {
		os.Exit(1)
	}
}
