package main

import (
	"context"
	"os"

	"github.com/olympisai/trafficgen/internal/cli"
)

// Main is the entry point for the application.
// It's exported to make it testable.
func Main() int {
	return cli.ExitCode(cli.Execute(context.Background()))
}

func main() {
	os.Exit(Main())
}
