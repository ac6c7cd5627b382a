package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/lucasnoah/postfactory/internal/cli"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	// A missing .env is fine; variables may come from the environment.
	_ = godotenv.Load()

	cli.SetVersion(Version)
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
