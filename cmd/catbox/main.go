// Command catbox runs one program under the supervised execution engine
// and reports its resource usage and termination cause.
package main

import (
	"os"

	"github.com/ehrlich-b/catbox/internal/sandbox"
)

func main() {
	// Before anything else: is this process the re-exec'd child prelude,
	// not a normal CLI invocation? See sandbox.ReExecSentinel.
	if len(os.Args) > 1 && os.Args[1] == sandbox.ReExecSentinel {
		sandbox.ChildMain(os.Args[2:])
		return
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
