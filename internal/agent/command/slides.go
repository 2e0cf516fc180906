package command

import (
	"context"
	"fmt"

	"github.com/steeplecast/steeplecast/internal/agent/core"
	"github.com/steeplecast/steeplecast/internal/agent/device/slides"
	"github.com/steeplecast/steeplecast/internal/proto"
)

func requireSlides(a *core.Agent) (*slides.Driver, error) {
	if a.Slides == nil {
		return nil, proto.NewError(proto.KindDeviceNotConfigured, "no slides app configured")
	}
	return a.Slides, nil
}

func (r *Registry) registerSlides() {
	r.register("slides.next", func(ctx context.Context, a *core.Agent, _ map[string]any) (any, error) {
		s, err := requireSlides(a)
		if err != nil {
			return nil, err
		}
		if err := s.Next(ctx); err != nil {
			return nil, err
		}
		return "Next slide", nil
	})

	r.register("slides.previous", func(ctx context.Context, a *core.Agent, _ map[string]any) (any, error) {
		s, err := requireSlides(a)
		if err != nil {
			return nil, err
		}
		if err := s.Previous(ctx); err != nil {
			return nil, err
		}
		return "Previous slide", nil
	})

	r.register("slides.goToSlide", func(ctx context.Context, a *core.Agent, params map[string]any) (any, error) {
		s, err := requireSlides(a)
		if err != nil {
			return nil, err
		}
		index, err := intParam(params, "index")
		if err != nil {
			return nil, err
		}
		if err := s.GoTo(ctx, index); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Jumped to slide %d", index), nil
	})

	r.register("slides.status", func(ctx context.Context, a *core.Agent, _ map[string]any) (any, error) {
		s, err := requireSlides(a)
		if err != nil {
			return nil, err
		}
		status, err := s.Current(ctx)
		if err != nil {
			return nil, err
		}
		return &status, nil
	})
}
