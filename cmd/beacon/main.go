package main

import (
	"fmt"
	"os"

	"beacon/cmd/beacon/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "beacon:", err)
		os.Exit(1)
	}
}
