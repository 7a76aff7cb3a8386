// Package main runs recording cleanup against the imogine data directory.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	maintenancecmd "github.com/louisbranch/imogine/internal/cmd/maintenance"
	"github.com/louisbranch/imogine/internal/platform/config"
)

func main() {
	cfg, err := maintenancecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[MAINTENANCE] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := maintenancecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("maintenance failed: %v", err)
	}
}
