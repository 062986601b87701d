// Command statefuse runs the market-state decision engine and exposes its
// administrative operations.
//
// Usage:
//
//	statefuse run --config config.yaml
//	statefuse cycle
//	statefuse strategy set mean_reversion
//	statefuse validate-transition BULL BEAR
//
// Without --config the built-in defaults are used: three simulated sources
// and a WAL-backed store under ./wal.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd(nil).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
