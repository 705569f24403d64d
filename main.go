// relcount keeps cached relationship counts on graph nodes.
//
// Counts are kept per relationship type, direction and property values, and
// are compacted into more general descriptors once a node holds too many.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/relcount-go/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
