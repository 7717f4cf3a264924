package main

import (
	"os"

	"github.com/use-agent/browserpool/cmd/browserpool/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
