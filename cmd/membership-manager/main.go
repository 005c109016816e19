// Package main is the entry point for the Citus membership manager.
package main

import (
	"os"

	"github.com/citusdata/membership-manager/cmd/membership-manager/app"
	"github.com/citusdata/membership-manager/internal/logger"
)

func main() {
	defer logger.Sync()
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
