// Command ghostctl is the operator CLI for a ghostwriter server.
package main

import (
	"os"

	"github.com/sakif/ghostwriter/internal/cli"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
