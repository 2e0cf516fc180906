package command

import (
	"context"
	"fmt"

	"github.com/steeplecast/steeplecast/internal/agent/core"
	"github.com/steeplecast/steeplecast/internal/agent/device/oscmixer"
	"github.com/steeplecast/steeplecast/internal/proto"
)

func requireMixer(a *core.Agent) (oscmixer.MixerDriver, error) {
	if a.Mixer == nil {
		return nil, proto.NewError(proto.KindDeviceNotConfigured, "no mixer configured")
	}
	return a.Mixer, nil
}

func (r *Registry) registerMixer() {
	r.register("mixer.muteChannel", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		m, err := requireMixer(a)
		if err != nil {
			return nil, err
		}
		ch, err := intParam(params, "channel")
		if err != nil {
			return nil, err
		}
		if err := m.MuteChannel(ch); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Channel %d muted", ch), nil
	})

	r.register("mixer.unmuteChannel", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		m, err := requireMixer(a)
		if err != nil {
			return nil, err
		}
		ch, err := intParam(params, "channel")
		if err != nil {
			return nil, err
		}
		if err := m.UnmuteChannel(ch); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Channel %d unmuted", ch), nil
	})

	r.register("mixer.setFader", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		m, err := requireMixer(a)
		if err != nil {
			return nil, err
		}
		ch, err := intParam(params, "channel")
		if err != nil {
			return nil, err
		}
		level, err := floatParam(params, "level")
		if err != nil {
			return nil, err
		}
		if err := m.SetFader(ch, level); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Channel %d fader set to %.2f", ch, level), nil
	})

	r.register("mixer.muteMain", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		m, err := requireMixer(a)
		if err != nil {
			return nil, err
		}
		if err := m.MuteMain(); err != nil {
			return nil, err
		}
		return "Main mix muted", nil
	})

	r.register("mixer.unmuteMain", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		m, err := requireMixer(a)
		if err != nil {
			return nil, err
		}
		if err := m.UnmuteMain(); err != nil {
			return nil, err
		}
		return "Main mix unmuted", nil
	})

	r.register("mixer.setMainFader", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		m, err := requireMixer(a)
		if err != nil {
			return nil, err
		}
		level, err := floatParam(params, "level")
		if err != nil {
			return nil, err
		}
		if err := m.SetMainFader(level); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Main fader set to %.2f", level), nil
	})

	r.register("mixer.status", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		m, err := requireMixer(a)
		if err != nil {
			return nil, err
		}
		return m.Status(), nil
	})
}
