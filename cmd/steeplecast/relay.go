package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/steeplecast/steeplecast/internal/logging"
	"github.com/steeplecast/steeplecast/internal/relay/config"
	"github.com/steeplecast/steeplecast/relay"
)

func runRelay(args []string) error {
	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	cfg := config.DefineFlags(fs)
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	if level, err := logging.ParseLevel(*logLevel); err == nil {
		logging.SetLevel(level)
	}

	logging.PrintBanner("relay", version, cfg.Addr)

	srv, err := relay.NewServer(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx)
}
