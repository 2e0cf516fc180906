package logging

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/mdp/qrterminal/v3"
)

// ANSI color codes.
const (
	reset = "\033[0m"
	bold  = "\033[1m"
	cyan  = "\033[36m"
	green = "\033[32m"
	amber = "\033[33m"
	dim   = "\033[2m"
)

var logoLines = [6]string{
	`  ____  _                 _     ___         _   `,
	` / ___|| |_ ___ ___ _ __ | | ___/ __|__ _ __| |_ `,
	` \___ \| __/ _ \ _ \ '_ \| |/ _ \ |  / _` + "`" + ` / __| __|`,
	`  ___) | ||  __/  __/ |_) | |  __/ |_| (_| \__ \ |_ `,
	` |____/ \__\___|\___| .__/|_|\___\___|\__,_|___/\__|`,
	`                    |_|                             `,
}

// PrintBanner prints the ASCII logo with the running mode and
// version below it. Colors are used only when stderr is a TTY.
func PrintBanner(mode, ver, addr string) {
	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	modeColor := green
	if mode == "agent" {
		modeColor = amber
	}

	for i := 0; i < 6; i++ {
		if color {
			fmt.Fprintf(os.Stderr, "%s%s%s\n", bold+cyan, logoLines[i], reset)
		} else {
			fmt.Fprintln(os.Stderr, logoLines[i])
		}
	}

	if color {
		fmt.Fprintf(os.Stderr, "\n  %s%s%s   %sversion%s %s   %saddr%s %s\n\n",
			bold+modeColor, mode, reset, dim, reset, ver, dim, reset, addr)
	} else {
		fmt.Fprintf(os.Stderr, "\n  %s   version %s   addr %s\n\n", mode, ver, addr)
	}
}

// PrintQRCode prints a QR code for the given URL to stderr (TTY only).
// Used by `agent setup` to hand the Telegram bot deep link to a phone.
func PrintQRCode(url string) {
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return
	}
	qrterminal.GenerateWithConfig(url, qrterminal.Config{
		Level:          qrterminal.L,
		Writer:         os.Stderr,
		QuietZone:      1,
		HalfBlocks:     true,
		BlackChar:      qrterminal.BLACK_BLACK,
		WhiteChar:      qrterminal.WHITE_WHITE,
		BlackWhiteChar: qrterminal.BLACK_WHITE,
		WhiteBlackChar: qrterminal.WHITE_BLACK,
	})
	fmt.Fprintln(os.Stderr)
}
