// pygraph - Static code graph builder for Python projects.
//
// pygraph parses a Python source tree into a graph of modules, classes,
// functions and methods joined by contains, inherits, calls, instantiates
// and imports edges, and serves it to the CLI, exporters and MCP clients.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/pygraph/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
