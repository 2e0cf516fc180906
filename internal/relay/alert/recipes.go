package alert

// Recipe holds the per-type operator guidance and optional auto-fix.
type Recipe struct {
	LikelyCause string
	Steps       []string

	// AutoFix, when set, is dispatched before notification. The
	// command's success determines the persisted autoResolved flag.
	AutoFixCommand string
	AutoFixParams  map[string]any
}

// recipes is the per-type guidance table. Types without an entry get
// a generic message and no auto-fix.
var recipes = map[string]Recipe{
	"stream_stopped": {
		LikelyCause: "The encoder stopped pushing to the streaming platform.",
		Steps: []string{
			"Check the streamer application is still running",
			"Verify the internet uplink is up",
			"Restart the stream from the streamer",
		},
	},
	"bitrate_low": {
		LikelyCause: "Upload bandwidth dropped below what the encoder needs.",
		Steps: []string{
			"Check for other heavy uploads on the venue network",
			"Lower the stream bitrate if congestion persists",
		},
		AutoFixCommand: "streamer.reduceBitrate",
		AutoFixParams:  map[string]any{"percent": 20},
	},
	"fps_low": {
		LikelyCause: "The encoding machine cannot keep up with the frame rate.",
		Steps: []string{
			"Close unused applications on the streaming PC",
			"Check CPU temperature and throttling",
		},
		AutoFixCommand: "streamer.reduceBitrate",
		AutoFixParams:  map[string]any{"percent": 20},
	},
	"cpu_high": {
		LikelyCause: "The streaming machine is overloaded.",
		Steps: []string{
			"Close unused applications",
			"Reduce the output resolution if load stays high",
		},
	},
	"switcher_disconnected": {
		LikelyCause: "The video switcher dropped off the network.",
		Steps: []string{
			"Check the switcher's power and network cable",
			"Power-cycle the switcher if it does not come back",
		},
	},
	"streamer_disconnected": {
		LikelyCause: "The streamer application closed or its machine went offline.",
		Steps: []string{
			"Check the streaming PC is on and awake",
			"Relaunch the streamer application",
		},
	},
	"audio_silence": {
		LikelyCause: "Master audio has been silent while streaming.",
		Steps: []string{
			"Check the mixer master fader and mutes",
			"Verify the audio cable into the switcher",
		},
	},
	"platform_no_broadcast": {
		LikelyCause: "The platform shows no live broadcast even though the encoder is streaming.",
		Steps: []string{
			"Check the stream key matches the scheduled broadcast",
			"Open the platform's live dashboard and verify ingest",
		},
	},
	"bitrate_drop": {
		LikelyCause: "Outbound bitrate fell sharply against the recent baseline.",
		Steps: []string{
			"Check the venue uplink",
			"Watch for the platform reporting poor stream health",
		},
	},
	"multiple_systems_down": {
		LikelyCause: "Several systems went down together — likely power or network.",
		Steps: []string{
			"Check venue power and the main network switch",
			"Call the on-site team immediately",
		},
	},
}

// RecipeFor returns the recipe for an alert type, with a generic
// fallback.
func RecipeFor(alertType string) Recipe {
	if r, ok := recipes[alertType]; ok {
		return r
	}
	return Recipe{
		LikelyCause: "No specific guidance for this alert.",
		Steps: []string{
			"Check the venue dashboard for details",
			"Contact the on-call TD if the condition persists",
		},
	}
}
