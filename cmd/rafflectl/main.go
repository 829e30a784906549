// Command rafflectl is the operator client of a raffled daemon.
package main

import (
	"os"

	"github.com/R3E-Network/neoraffle/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
