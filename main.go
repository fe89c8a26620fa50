package main

import (
	"os"

	"github.com/spigell/form-filler/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
