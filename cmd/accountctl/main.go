package main

import (
	"os"

	"github.com/bnema/accountctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
