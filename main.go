// The main package for the workbench executable.
package main

import (
	"github.com/JakeFAU/workbench-tasks/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
