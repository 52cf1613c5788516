// The main package for the socket executable.
package main

import (
	"github.com/JakeFAU/contractor-socket/cmd"
)

func main() {
	cmd.Execute()
}
