// Command bmc is a command line client for memcached servers speaking the binary protocol.
//
// Configuration comes from flags, then BMC_* environment variables, then a .env file:
//
//	BMC_SERVERS=10.0.0.1:11211,10.0.0.2:11211 bmc get mykey
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
