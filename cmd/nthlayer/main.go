package main

import (
	"os"

	"github.com/nthlayer/nthlayer/cmd/nthlayer/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
