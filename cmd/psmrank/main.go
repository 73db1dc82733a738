// psmrank - Semi-supervised PSM rescoring tool
package main

import (
	"fmt"
	"os"

	"github.com/ChrisMcGann/psmrank/cmd/psmrank/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
