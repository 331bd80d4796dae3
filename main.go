// The main package for the sentinel executable.
package main

import (
	"github.com/JakeFAU/municipal-sentinel/cmd"
)

func main() {
	cmd.Execute()
}
