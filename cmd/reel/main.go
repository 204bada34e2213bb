package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"reel/internal/failure"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, describeError(err))
		}
		os.Exit(1)
	}
}

// describeError appends a reload hint when local state may have diverged.
func describeError(err error) string {
	if failure.ReloadRequired(err) {
		return err.Error() + "\nLocal state may be out of date; run `reel storyboard show` to reload."
	}
	return err.Error()
}
