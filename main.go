package main

import (
	"os"

	"github.com/matrixise/hotwallet-tracker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
