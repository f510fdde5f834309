package main

import (
	"os"

	"github.com/enermesh/telemetrix/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
