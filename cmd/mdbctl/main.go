// Command mdbctl is the entrypoint binary; all real logic lives in the cmd
// package's cobra command tree.
package main

import (
	"fmt"
	"os"

	"github.com/itbees/mdbctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
