package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/roach88/runlog/internal/cli"
)

func main() {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
