// Command autoagent serves and runs analyze/execute/supervise agent loops.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
