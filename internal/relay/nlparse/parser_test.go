package nlparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreviewBeforeProgram(t *testing.T) {
	p := Parse("change preview to camera 3")
	require.NotNil(t, p)
	require.Equal(t, "switcher.setPreview", p.Command)
	require.Equal(t, 3, p.Params["input"])

	p = Parse("camera 3")
	require.NotNil(t, p)
	require.Equal(t, "switcher.setProgram", p.Command)
}

func TestBasicSwitching(t *testing.T) {
	cases := map[string]string{
		"cut":               "switcher.cut",
		"do a cut":          "switcher.cut",
		"auto":              "switcher.auto",
		"take the auto":     "switcher.auto",
		"fade to black":     "switcher.fadeToBlack",
		"ftb":               "switcher.fadeToBlack",
		"run macro 4":       "switcher.runMacro",
		"set aux 1 to 5":    "switcher.setAux",
		"start recording":   "switcher.startRecording",
		"stop recording":    "switcher.stopRecording",
	}
	for text, want := range cases {
		p := Parse(text)
		require.NotNil(t, p, "text %q", text)
		require.Equal(t, want, p.Command, "text %q", text)
	}
}

func TestStreamerCommands(t *testing.T) {
	p := Parse("go live")
	require.NotNil(t, p)
	require.Equal(t, "streamer.startStream", p.Command)

	p = Parse("reduce the bitrate by 30%")
	require.NotNil(t, p)
	require.Equal(t, "streamer.reduceBitrate", p.Command)
	require.Equal(t, 30, p.Params["percent"])

	p = Parse("lower bitrate")
	require.NotNil(t, p)
	require.Equal(t, 20, p.Params["percent"], "default reduction")

	p = Parse("set bitrate to 4500 kbps")
	require.NotNil(t, p)
	require.Equal(t, "streamer.setBitrate", p.Command)
	require.Equal(t, 4500, p.Params["kbps"])
}

func TestRouterAndMixer(t *testing.T) {
	p := Parse("route output 3 to input 5")
	require.NotNil(t, p)
	require.Equal(t, "router.route", p.Command)
	require.Equal(t, 3, p.Params["output"])
	require.Equal(t, 5, p.Params["input"])

	p = Parse("mute channel 12")
	require.NotNil(t, p)
	require.Equal(t, "mixer.muteChannel", p.Command)
	require.Equal(t, 12, p.Params["channel"])

	p = Parse("unmute channel 12")
	require.NotNil(t, p)
	require.Equal(t, "mixer.unmuteChannel", p.Command)

	p = Parse("mute the main")
	require.NotNil(t, p)
	require.Equal(t, "mixer.muteMain", p.Command)

	p = Parse("set main fader to 0.75")
	require.NotNil(t, p)
	require.Equal(t, 0.75, p.Params["level"])
}

func TestSlidesAndClips(t *testing.T) {
	p := Parse("next slide")
	require.NotNil(t, p)
	require.Equal(t, "slides.next", p.Command)

	p = Parse("go to slide 7")
	require.NotNil(t, p)
	require.Equal(t, 7, p.Params["index"])

	p = Parse("play welcome loop")
	require.NotNil(t, p)
	require.Equal(t, "visual.playClip", p.Command)
	require.Equal(t, "welcome loop", p.Params["name"])
}

func TestAmbiguousReturnsNil(t *testing.T) {
	require.Nil(t, Parse(""))
	require.Nil(t, Parse("what do you think about the weather"))
	require.Nil(t, Parse("mute"))
}

func TestCaseInsensitive(t *testing.T) {
	p := Parse("FADE TO BLACK")
	require.NotNil(t, p)
	require.Equal(t, "switcher.fadeToBlack", p.Command)
}
