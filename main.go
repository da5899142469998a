// The main package for the anttpgw executable.
package main

import (
	"github.com/JakeFAU/anttp-gateway/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
