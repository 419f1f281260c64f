// Package main provides the shelf CLI for browsing and lending the library
// inventory kept in Airtable, and for serving it over HTTP.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
