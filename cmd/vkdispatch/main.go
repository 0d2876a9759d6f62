// Command vkdispatch is a small demonstration CLI around the vkdispatch
// library: it loads credentials from a YAML config, submits method calls
// given on the command line, and prints their results.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vkdispatch:", err)
		os.Exit(1)
	}
}
