package main

import (
	"os"

	"github.com/vbp1/mongoclone/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
