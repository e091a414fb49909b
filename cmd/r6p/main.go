package main

import (
	"os"

	"github.com/TheusHen/r6p/cmd/r6p/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
