// Package main runs an interactive settings session against the simulated
// bridge and prints every change.
//
// It reads config from env/flags and runs until SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "gitlab.com/gomidi/midi/v2/drivers/portmididrv"

	"gitlab.com/gomidi/midi/v2"

	"github.com/shaban/syssetting/internal/cmd/syssettingctl"
)

func main() {
	cfg, err := syssettingctl.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[syssettingctl] ")
	defer midi.CloseDriver()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := syssettingctl.Run(ctx, cfg, os.Stdout); err != nil {
		log.Fatalf("run: %v", err)
	}
}
