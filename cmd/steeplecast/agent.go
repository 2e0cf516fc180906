package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/steeplecast/steeplecast/agent"
	agentconfig "github.com/steeplecast/steeplecast/internal/agent/config"
	"github.com/steeplecast/steeplecast/internal/logging"
)

// agentFlags defines the agent flag set and returns the override map
// for config layering: only flags the user actually set override the
// config file.
func agentFlags(fs *flag.FlagSet) (func() map[string]any, *string, *bool) {
	token := fs.String("token", "", "venue bearer token")
	relay := fs.String("relay", "", "relay base URL (e.g. wss://relay.example)")
	name := fs.String("name", "", "venue display name")
	switcherIP := fs.String("switcher-ip", "", "switcher address")
	streamerURL := fs.String("streamer-url", "", "streamer WebSocket URL")
	streamerPassword := fs.String("streamer-password", "", "streamer password")
	macrohostURL := fs.String("macrohost-url", "", "macro host base URL")
	previewSource := fs.String("preview-source", "", "streamer source for preview frames")
	configPath := fs.String("config", "", "config file path (default ~/.church-av/config.json)")
	watchdog := fs.Bool("watchdog", true, "enable the telemetry watchdog")
	noWatchdog := fs.Bool("no-watchdog", false, "disable the telemetry watchdog")

	overrides := func() map[string]any {
		o := make(map[string]any)
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "token":
				o["token"] = *token
			case "relay":
				o["relay"] = *relay
			case "name":
				o["name"] = *name
			case "switcher-ip":
				o["switcherIp"] = *switcherIP
			case "streamer-url":
				o["streamerUrl"] = *streamerURL
			case "streamer-password":
				o["streamerPassword"] = *streamerPassword
			case "macrohost-url":
				o["macrohostUrl"] = *macrohostURL
			case "preview-source":
				o["previewSource"] = *previewSource
			case "watchdog":
				o["watchdog"] = *watchdog
			}
		})
		if *noWatchdog {
			o["watchdog"] = false
		}
		return o
	}
	return overrides, configPath, noWatchdog
}

func runAgent(args []string) error {
	if len(args) > 0 && args[0] == "setup" {
		return runSetup(args[1:])
	}

	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	overrides, configPath, _ := agentFlags(fs)
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

	cfg, err := agentconfig.Load(*configPath, overrides())
	if err != nil {
		return err
	}

	logging.PrintBanner("agent", version, cfg.Relay)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return agent.Run(ctx, cfg)
}
