// Package main provides the entry point for the smartnotes CLI.
package main

import (
	"os"

	"github.com/davidzhangbj/smart-notes/cmd/smartnotes/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
