// Command watchsync keeps movie and TV collections (favorites, watchlist,
// watched, custom lists and settings) on this device and, when a shared
// PostgreSQL database is configured, in sync across every device signed in
// as the same user.
//
// Usage:
//
//	watchsync setup                         # interactive config wizard
//	watchsync login <token>                 # bind this device to a user
//	watchsync add favorites movie 603 The Matrix
//	watchsync list watchlist
//	watchsync sync                          # reload every collection now
//	watchsync daemon                        # background retry and schedule
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
