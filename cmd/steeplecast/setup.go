package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"

	agentconfig "github.com/steeplecast/steeplecast/internal/agent/config"
	"github.com/steeplecast/steeplecast/internal/logging"
)

// runSetup writes the agent config file from flags, sealing secrets,
// and prints the Telegram deep link for TD registration.
func runSetup(args []string) error {
	fs := flag.NewFlagSet("agent setup", flag.ExitOnError)
	overrides, configPath, _ := agentFlags(fs)
	registrationCode := fs.String("registration-code", "", "venue registration code to show TDs")
	botUsername := fs.String("bot", "", "Telegram bot username for the registration QR")
	_ = fs.Parse(args)

	cfg, err := agentconfig.Load(*configPath, overrides())
	if err != nil {
		return err
	}
	if cfg.Token == "" {
		return fmt.Errorf("a venue token is required: steeplecast agent setup -token ... -relay ...")
	}
	if cfg.Relay == "" {
		return fmt.Errorf("a relay URL is required")
	}

	path := *configPath
	if path == "" {
		path = agentconfig.DefaultPath()
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintf(os.Stderr, "config written to %s (secrets sealed)\n", path)

	if *botUsername != "" && *registrationCode != "" {
		deepLink := fmt.Sprintf("https://t.me/%s?start=%s",
			url.PathEscape(*botUsername), url.QueryEscape(*registrationCode))
		fmt.Fprintf(os.Stderr, "TDs register by scanning:\n  %s\n\n", deepLink)
		logging.PrintQRCode(deepLink)
		fmt.Fprintf(os.Stderr, "or by sending the bot: /register %s\n", *registrationCode)
	}
	return nil
}
