// Command rubrica grades anonymized exam scans against versioned rubrics.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rubrica-app/rubrica/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	// ExitErrors were already reported in the selected output format.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.GetExitCode(err))
}
