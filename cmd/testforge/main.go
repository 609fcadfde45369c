package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ppiankov/testforge/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		// failures were already reported by the run
		if !errors.Is(err, cli.ErrTestsFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
