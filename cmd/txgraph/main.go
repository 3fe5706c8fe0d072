// Command txgraph manages a transactional property graph stored in SQLite
// or PostgreSQL.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/txgraph/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "txgraph:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
