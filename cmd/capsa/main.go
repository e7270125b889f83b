package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/capsa-dev/capsa/internal/cli"
)

func main() {
	// Optional .env for local overrides such as CAPSA_DB.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "capsa: %v\n", err)
		os.Exit(1)
	}
}
