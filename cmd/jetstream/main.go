// Command jetstream serves and edits synchronized object graphs.
package main

import (
	"os"

	"github.com/mesh-intelligence/jetstream/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
