// The main package for the analyzer executable.
package main

import (
	"github.com/RyoUmeyama/kickstarter-market-analyzer/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
