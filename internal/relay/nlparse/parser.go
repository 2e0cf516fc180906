// Package nlparse maps free-text operator messages to typed commands.
// A fixed, ordered pattern table is tried in declaration order; the
// first match wins. More specific phrasings are listed before the
// generic ones that would shadow them.
package nlparse

import (
	"regexp"
	"strconv"
	"strings"
)

// Parsed is the typed command envelope produced from text.
type Parsed struct {
	Command string
	Params  map[string]any
}

// extractor turns regexp capture groups into command params.
type extractor func(groups []string) map[string]any

type pattern struct {
	re      *regexp.Regexp
	command string
	extract extractor
}

func pat(expr, command string, extract extractor) pattern {
	return pattern{
		re:      regexp.MustCompile(`(?i)^` + expr + `$`),
		command: command,
		extract: extract,
	}
}

func noParams([]string) map[string]any { return nil }

func intParam(name string, group int) extractor {
	return func(groups []string) map[string]any {
		n, _ := strconv.Atoi(groups[group])
		return map[string]any{name: n}
	}
}

func strParam(name string, group int) extractor {
	return func(groups []string) map[string]any {
		return map[string]any{name: strings.TrimSpace(groups[group])}
	}
}

// patterns is the ordered table. Ordering matters: e.g. the preview
// variants of camera switching must precede the bare "camera N" rule.
var patterns = []pattern{
	// Switching — preview first so "preview to camera 2" never falls
	// through to the program rule.
	pat(`(?:change |set |put )?preview (?:to )?(?:camera |cam |input )?(\d+)`, "switcher.setPreview", intParam("input", 1)),
	pat(`(?:change |set |switch |put )?program (?:to )?(?:camera |cam |input )?(\d+)`, "switcher.setProgram", intParam("input", 1)),
	pat(`(?:switch to |go to |take )?(?:camera|cam) (\d+)`, "switcher.setProgram", intParam("input", 1)),
	pat(`(?:do a |run the )?cut`, "switcher.cut", noParams),
	pat(`(?:do an |run the |take the )?auto(?: ?transition)?`, "switcher.auto", noParams),
	pat(`fade to black|ftb`, "switcher.fadeToBlack", noParams),
	pat(`run macro (\d+)`, "switcher.runMacro", intParam("macro", 1)),
	pat(`(?:set )?aux (\d+) (?:to )?(?:input )?(\d+)`, "switcher.setAux", func(g []string) map[string]any {
		aux, _ := strconv.Atoi(g[1])
		input, _ := strconv.Atoi(g[2])
		return map[string]any{"aux": aux, "input": input}
	}),

	// Recording / streaming on the switcher.
	pat(`start recording`, "switcher.startRecording", noParams),
	pat(`stop recording`, "switcher.stopRecording", noParams),

	// Streamer.
	pat(`(?:start|go) (?:live|stream(?:ing)?)`, "streamer.startStream", noParams),
	pat(`(?:stop|end) (?:the )?(?:live|stream(?:ing)?)`, "streamer.stopStream", noParams),
	pat(`(?:reduce|lower|drop) (?:the )?bitrate(?: by (\d+)%?)?`, "streamer.reduceBitrate", func(g []string) map[string]any {
		percent := 20
		if g[1] != "" {
			percent, _ = strconv.Atoi(g[1])
		}
		return map[string]any{"percent": percent}
	}),
	pat(`set (?:the )?bitrate (?:to )?(\d+)(?: ?kbps)?`, "streamer.setBitrate", intParam("kbps", 1)),
	pat(`(?:take|grab) a screenshot`, "streamer.screenshot", noParams),
	pat(`stream(?:er)? status`, "streamer.status", noParams),

	// Router. "route output 3 to input 5" before the loose form.
	pat(`route (?:output )?(\d+) (?:to|from) (?:input )?(\d+)`, "router.route", func(g []string) map[string]any {
		output, _ := strconv.Atoi(g[1])
		input, _ := strconv.Atoi(g[2])
		return map[string]any{"output": output, "input": input}
	}),
	pat(`(?:list |show )(?:router )?inputs`, "router.listInputs", noParams),
	pat(`(?:list |show )(?:router )?outputs`, "router.listOutputs", noParams),

	// Mixer. Channel rules precede the master rules' looser text.
	pat(`(?:un ?mute) (?:channel|ch) (\d+)`, "mixer.unmuteChannel", intParam("channel", 1)),
	pat(`mute (?:channel|ch) (\d+)`, "mixer.muteChannel", intParam("channel", 1)),
	pat(`(?:set )?(?:channel|ch) (\d+) fader (?:to )?([\d.]+)`, "mixer.setFader", func(g []string) map[string]any {
		ch, _ := strconv.Atoi(g[1])
		level, _ := strconv.ParseFloat(g[2], 64)
		return map[string]any{"channel": ch, "level": level}
	}),
	pat(`(?:un ?mute) (?:the )?(?:main|master)(?: mix)?`, "mixer.unmuteMain", noParams),
	pat(`mute (?:the )?(?:main|master)(?: mix)?`, "mixer.muteMain", noParams),
	pat(`(?:set )?(?:main|master) fader (?:to )?([\d.]+)`, "mixer.setMainFader", func(g []string) map[string]any {
		level, _ := strconv.ParseFloat(g[1], 64)
		return map[string]any{"level": level}
	}),

	// Slides.
	pat(`next slide|slide next|advance(?: the)? slides?`, "slides.next", noParams),
	pat(`previous slide|slide back|go back a slide`, "slides.previous", noParams),
	pat(`(?:go to |jump to )slide (\d+)`, "slides.goToSlide", intParam("index", 1)),
	pat(`slides? status`, "slides.status", noParams),

	// Visual clip server.
	pat(`play (?:clip |video )?(.+?)(?: clip)?`, "visual.playClip", strParam("name", 1)),
	pat(`stop all (?:clips|videos)`, "visual.stopAll", noParams),

	// Macro host.
	pat(`(?:press|push|hit) (?:the )?(.+?)(?: button)?`, "macrohost.press", strParam("name", 1)),

	// Preview streaming.
	pat(`start (?:the )?preview`, "preview.start", noParams),
	pat(`stop (?:the )?preview`, "preview.stop", noParams),

	// System.
	pat(`(?:run (?:the )?)?pre[- ]?service check`, "system.preServiceCheck", noParams),
	pat(`status|how(?:'s| is) (?:it|everything) (?:going|looking)\??`, "system.status", noParams),
	pat(`uptime`, "system.uptime", noParams),
}

// Parse maps one trimmed text line to a command, or nil when the
// text is ambiguous or unrecognized.
func Parse(text string) *Parsed {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	for _, p := range patterns {
		if groups := p.re.FindStringSubmatch(text); groups != nil {
			return &Parsed{Command: p.command, Params: p.extract(groups)}
		}
	}
	return nil
}

// Commands returns the distinct command names the parser can emit.
// Used to assert parser output stays a subset of the registry.
func Commands() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range patterns {
		if !seen[p.command] {
			seen[p.command] = true
			out = append(out, p.command)
		}
	}
	return out
}
