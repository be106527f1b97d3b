// Package main provides the vaultsync CLI application.
package main

import (
	"fmt"
	"os"

	"github.com/forest6511/vaultsync/internal/cli"
)

func main() {
	err := rootCmd.Execute()
	if cerr := closeApp(); err == nil {
		err = cerr
	}
	if err != nil {
		msg, hint := cli.ErrorMessage(err)
		fmt.Fprintln(os.Stderr, msg)
		if hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
		os.Exit(1)
	}
}
