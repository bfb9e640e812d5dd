// Command meetwatch relays calendar meeting events to chat.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/meetwatch/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "meetwatch:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
