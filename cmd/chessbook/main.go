// Package main provides the chessbook CLI tool for analyzing chess game
// archives and exporting ranked selections of the analyzed games.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
