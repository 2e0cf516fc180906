package command

import (
	"context"
	"fmt"

	"github.com/steeplecast/steeplecast/internal/agent/core"
	"github.com/steeplecast/steeplecast/internal/agent/device/router"
	"github.com/steeplecast/steeplecast/internal/proto"
)

// routerFor picks a router by the optional "router" index param.
func routerFor(a *core.Agent, params map[string]any) (*router.Driver, error) {
	if len(a.Routers) == 0 {
		return nil, proto.NewError(proto.KindDeviceNotConfigured, "no video router configured")
	}
	idx, err := intParamDefault(params, "router", 0)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(a.Routers) {
		return nil, proto.NewError(proto.KindInvalidParams, "router index %d out of range", idx)
	}
	return a.Routers[idx], nil
}

func (r *Registry) registerRouter() {
	r.register("router.route", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		rt, err := routerFor(a, params)
		if err != nil {
			return nil, err
		}
		output, err := intParam(params, "output")
		if err != nil {
			return nil, err
		}
		input, err := intParam(params, "input")
		if err != nil {
			return nil, err
		}
		if err := rt.Route(output, input); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Output %d routed to input %d", output, input), nil
	})

	r.register("router.listInputs", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		rt, err := routerFor(a, params)
		if err != nil {
			return nil, err
		}
		return map[string]any{"inputs": rt.InputLabels()}, nil
	})

	r.register("router.listOutputs", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		rt, err := routerFor(a, params)
		if err != nil {
			return nil, err
		}
		return map[string]any{"outputs": rt.OutputLabels()}, nil
	})

	r.register("router.routes", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		rt, err := routerFor(a, params)
		if err != nil {
			return nil, err
		}
		return map[string]any{"routes": rt.Routes()}, nil
	})

	r.register("router.setOutputLabel", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		rt, err := routerFor(a, params)
		if err != nil {
			return nil, err
		}
		output, err := intParam(params, "output")
		if err != nil {
			return nil, err
		}
		label, err := stringParam(params, "label")
		if err != nil {
			return nil, err
		}
		if err := rt.SetOutputLabel(output, label); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Output %d relabelled to %q", output, label), nil
	})

	r.register("router.status", func(_ context.Context, a *core.Agent, params map[string]any) (any, error) {
		rt, err := routerFor(a, params)
		if err != nil {
			return nil, err
		}
		return rt.Status(), nil
	})
}
