// The main package for the scraperd executable.
package main

import (
	"github.com/venturescope/scraperd/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
