package command

import (
	"context"
	"fmt"

	"github.com/steeplecast/steeplecast/internal/agent/core"
	"github.com/steeplecast/steeplecast/internal/agent/device/visual"
	"github.com/steeplecast/steeplecast/internal/proto"
)

func requireVisual(a *core.Agent) (*visual.Driver, error) {
	if a.Visual == nil {
		return nil, proto.NewError(proto.KindDeviceNotConfigured, "no visual server configured")
	}
	return a.Visual, nil
}

func (r *Registry) registerVisual() {
	r.register("visual.playClip", func(ctx context.Context, a *core.Agent, params map[string]any) (any, error) {
		v, err := requireVisual(a)
		if err != nil {
			return nil, err
		}
		name, err := stringParam(params, "name")
		if err != nil {
			return nil, err
		}
		clip, err := v.PlayClip(ctx, name)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("Playing %q", clip.Name), nil
	})

	r.register("visual.triggerColumn", func(ctx context.Context, a *core.Agent, params map[string]any) (any, error) {
		v, err := requireVisual(a)
		if err != nil {
			return nil, err
		}
		name, err := stringParam(params, "name")
		if err != nil {
			return nil, err
		}
		col, err := v.TriggerColumn(ctx, name)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("Triggered column %q", col.Name), nil
	})

	r.register("visual.stopAll", func(ctx context.Context, a *core.Agent, _ map[string]any) (any, error) {
		v, err := requireVisual(a)
		if err != nil {
			return nil, err
		}
		if err := v.StopAll(ctx); err != nil {
			return nil, err
		}
		return "All clips stopped", nil
	})

	r.register("visual.listClips", func(ctx context.Context, a *core.Agent, _ map[string]any) (any, error) {
		v, err := requireVisual(a)
		if err != nil {
			return nil, err
		}
		names, err := v.ListClips(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"clips": names}, nil
	})
}
