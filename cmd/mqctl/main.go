package main

import (
	"errors"
	"os"

	"github.com/moroshma/mqsim/internal/cli"
)

// Exit codes
const (
	exitError       = 1
	exitStatusError = 2
)

func main() {
	if err := cli.NewRootCommand(cli.DialGRPC).Execute(); err != nil {
		var statusErr *cli.StatusError
		if errors.As(err, &statusErr) {
			os.Exit(exitStatusError)
		}
		os.Exit(exitError)
	}
}
