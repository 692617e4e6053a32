// The main package for the scrapeline executable.
package main

import (
	"github.com/scrapeline/scrapeline/cmd"
)

// main is the entry point of the operator CLI.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
