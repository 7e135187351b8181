package main

import (
	"os"

	"github.com/dividat/refractometer/src/refractometer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
