package command

import (
	"context"
	"fmt"

	"github.com/steeplecast/steeplecast/internal/agent/core"
	"github.com/steeplecast/steeplecast/internal/agent/device/macrohost"
	"github.com/steeplecast/steeplecast/internal/proto"
)

func requireMacrohost(a *core.Agent) (*macrohost.Driver, error) {
	if a.Macrohost == nil {
		return nil, proto.NewError(proto.KindDeviceNotConfigured, "no macro host configured")
	}
	return a.Macrohost, nil
}

func (r *Registry) registerMacrohost() {
	r.register("macrohost.press", func(ctx context.Context, a *core.Agent, params map[string]any) (any, error) {
		m, err := requireMacrohost(a)
		if err != nil {
			return nil, err
		}
		name, err := stringParam(params, "name")
		if err != nil {
			return nil, err
		}
		b, err := m.PressByName(ctx, name)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("Pressed %q (page %d)", b.Text, b.Page), nil
	})

	r.register("macrohost.pressAt", func(ctx context.Context, a *core.Agent, params map[string]any) (any, error) {
		m, err := requireMacrohost(a)
		if err != nil {
			return nil, err
		}
		page, err := intParam(params, "page")
		if err != nil {
			return nil, err
		}
		row, err := intParam(params, "row")
		if err != nil {
			return nil, err
		}
		column, err := intParam(params, "column")
		if err != nil {
			return nil, err
		}
		if err := m.Press(ctx, page, row, column); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Pressed button %d/%d/%d", page, row, column), nil
	})

	r.register("macrohost.status", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		m, err := requireMacrohost(a)
		if err != nil {
			return nil, err
		}
		return m.Status(), nil
	})
}
