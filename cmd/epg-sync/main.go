package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/epgsync/epg-sync/internal/aggregate"
	"github.com/epgsync/epg-sync/internal/config"
	"github.com/epgsync/epg-sync/internal/validate"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode maps the error taxonomy to process exit codes: 2 configuration,
// 3 aggregation produced no usable inputs, 4 validation gate, 1 anything
// else.
func exitCode(err error) int {
	switch {
	case errors.Is(err, config.ErrConfig):
		return 2
	case errors.Is(err, aggregate.ErrNoInputs):
		return 3
	case errors.Is(err, validate.ErrInvalid):
		return 4
	}
	return 1
}
