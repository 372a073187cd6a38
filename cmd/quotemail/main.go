package main

import (
	"fmt"
	"os"

	quotemailcmd "github.com/americaro/quotemail/pkg/cmd"
)

func main() {
	root := quotemailcmd.NewRootCommand(quotemailcmd.DefaultConfig())
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "quotemail: %v\n", err)
		os.Exit(1)
	}
}
