// The main package for the sitemirror executable.
package main

import (
	"github.com/JakeFAU/sitemirror/cmd"
)

func main() {
	cmd.Execute()
}
