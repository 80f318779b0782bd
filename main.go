// The main package for the bestseller-crawler executable.
package main

import (
	"github.com/JakeFAU/bestseller-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
