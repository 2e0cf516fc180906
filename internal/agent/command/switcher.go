package command

import (
	"context"
	"fmt"

	"github.com/steeplecast/steeplecast/internal/agent/core"
	"github.com/steeplecast/steeplecast/internal/agent/device/switcher"
	"github.com/steeplecast/steeplecast/internal/proto"
)

func requireSwitcher(a *core.Agent) (*switcher.Driver, error) {
	if a.Switcher == nil {
		return nil, proto.NewError(proto.KindDeviceNotConfigured, "no switcher configured")
	}
	return a.Switcher, nil
}

func (r *Registry) registerSwitcher() {
	r.register("switcher.cut", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		me, err := intParamDefault(params, "me", 0)
		if err != nil {
			return nil, err
		}
		if err := sw.Cut(me); err != nil {
			return nil, err
		}
		return "Cut executed", nil
	})

	r.register("switcher.auto", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		me, err := intParamDefault(params, "me", 0)
		if err != nil {
			return nil, err
		}
		if err := sw.Auto(me); err != nil {
			return nil, err
		}
		return "Auto transition started", nil
	})

	r.register("switcher.setProgram", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		input, err := intParam(params, "input")
		if err != nil {
			return nil, err
		}
		me, err := intParamDefault(params, "me", 0)
		if err != nil {
			return nil, err
		}
		if err := sw.SetProgram(me, input); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Program set to input %d", input), nil
	})

	r.register("switcher.setPreview", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		input, err := intParam(params, "input")
		if err != nil {
			return nil, err
		}
		me, err := intParamDefault(params, "me", 0)
		if err != nil {
			return nil, err
		}
		if err := sw.SetPreview(me, input); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Preview set to input %d", input), nil
	})

	r.register("switcher.fadeToBlack", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		me, err := intParamDefault(params, "me", 0)
		if err != nil {
			return nil, err
		}
		if err := sw.FadeToBlack(me); err != nil {
			return nil, err
		}
		return "Fade to black toggled", nil
	})

	r.register("switcher.startRecording", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		if err := sw.StartRecording(); err != nil {
			return nil, err
		}
		return "Recording started", nil
	})

	r.register("switcher.stopRecording", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		if err := sw.StopRecording(); err != nil {
			return nil, err
		}
		return "Recording stopped", nil
	})

	r.register("switcher.startStreaming", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		if err := sw.StartStreaming(); err != nil {
			return nil, err
		}
		return "Switcher stream started", nil
	})

	r.register("switcher.stopStreaming", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		if err := sw.StopStreaming(); err != nil {
			return nil, err
		}
		return "Switcher stream stopped", nil
	})

	r.register("switcher.setInputLabel", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		input, err := intParam(params, "input")
		if err != nil {
			return nil, err
		}
		label, err := stringParam(params, "label")
		if err != nil {
			return nil, err
		}
		if err := sw.SetInputLabel(input, label); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Input %d relabelled to %q", input, label), nil
	})

	r.register("switcher.runMacro", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		macro, err := intParam(params, "macro")
		if err != nil {
			return nil, err
		}
		if err := sw.RunMacro(macro); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Macro %d running", macro), nil
	})

	r.register("switcher.setUpstreamKeyer", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		keyer, err := intParam(params, "keyer")
		if err != nil {
			return nil, err
		}
		onAir, err := boolParamDefault(params, "onAir", true)
		if err != nil {
			return nil, err
		}
		me, err := intParamDefault(params, "me", 0)
		if err != nil {
			return nil, err
		}
		if err := sw.SetUpstreamKeyer(me, keyer, onAir); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Upstream keyer %d on-air=%v", keyer, onAir), nil
	})

	r.register("switcher.setDownstreamKeyer", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		keyer, err := intParam(params, "keyer")
		if err != nil {
			return nil, err
		}
		onAir, err := boolParamDefault(params, "onAir", true)
		if err != nil {
			return nil, err
		}
		if err := sw.SetDownstreamKeyer(keyer, onAir); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Downstream keyer %d on-air=%v", keyer, onAir), nil
	})

	r.register("switcher.setSuperSourceBox", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		box, err := intParam(params, "box")
		if err != nil {
			return nil, err
		}
		enabled, err := boolParamDefault(params, "enabled", true)
		if err != nil {
			return nil, err
		}
		x, err := floatParamDefault(params, "x", 0)
		if err != nil {
			return nil, err
		}
		y, err := floatParamDefault(params, "y", 0)
		if err != nil {
			return nil, err
		}
		size, err := floatParamDefault(params, "size", 0.5)
		if err != nil {
			return nil, err
		}
		if err := sw.SetSuperSourceBox(box, enabled, x, y, size); err != nil {
			return nil, err
		}
		return fmt.Sprintf("SuperSource box %d updated", box), nil
	})

	r.register("switcher.setColorGenerator", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		gen, err := intParamDefault(params, "generator", 0)
		if err != nil {
			return nil, err
		}
		hue, err := intParam(params, "hue")
		if err != nil {
			return nil, err
		}
		sat, err := intParamDefault(params, "sat", 1000)
		if err != nil {
			return nil, err
		}
		luma, err := intParamDefault(params, "luma", 500)
		if err != nil {
			return nil, err
		}
		if err := sw.SetColorGenerator(gen, hue, sat, luma); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Color generator %d updated", gen), nil
	})

	r.register("switcher.ptz", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		camera, err := intParam(params, "camera")
		if err != nil {
			return nil, err
		}
		pan, err := floatParamDefault(params, "pan", 0)
		if err != nil {
			return nil, err
		}
		tilt, err := floatParamDefault(params, "tilt", 0)
		if err != nil {
			return nil, err
		}
		zoom, err := floatParamDefault(params, "zoom", 0)
		if err != nil {
			return nil, err
		}
		if err := sw.PTZ(camera, pan, tilt, zoom); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Camera %d moved", camera), nil
	})

	r.register("switcher.setAux", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		aux, err := intParam(params, "aux")
		if err != nil {
			return nil, err
		}
		input, err := intParam(params, "input")
		if err != nil {
			return nil, err
		}
		if err := sw.SetAux(aux, input); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Aux %d routed to input %d", aux, input), nil
	})

	r.register("switcher.status", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		sw, err := requireSwitcher(a)
		if err != nil {
			return nil, err
		}
		return sw.Status(), nil
	})
}
