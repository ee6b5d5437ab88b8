// Package main is the entry point for bastion.
package main

import (
	"os"

	"bastion/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
