// Package main provides the entry point for the docfusion CLI.
package main

import (
	"os"

	"github.com/docfusion/docfusion/cmd/docfusion/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
