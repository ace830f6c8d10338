package main

import (
	"os"

	"github.com/yndnr/authpersist/internal/cli/command"
)

func main() {
	if err := command.App().Run(os.Args); err != nil {
		command.PrintError(err)
		os.Exit(1)
	}
}
