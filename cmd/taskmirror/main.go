// Command taskmirror keeps a local task document synchronized with a
// remote hosted page database. The local store is the source of truth; the
// remote database is a presentation and collaboration mirror.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
