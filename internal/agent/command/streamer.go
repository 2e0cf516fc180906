package command

import (
	"context"
	"fmt"

	"github.com/steeplecast/steeplecast/internal/agent/core"
	"github.com/steeplecast/steeplecast/internal/agent/device/streamer"
	"github.com/steeplecast/steeplecast/internal/proto"
)

func requireStreamer(a *core.Agent) (*streamer.Driver, error) {
	if a.Streamer == nil {
		return nil, proto.NewError(proto.KindDeviceNotConfigured, "no streamer configured")
	}
	return a.Streamer, nil
}

func (r *Registry) registerStreamer() {
	r.register("streamer.startStream", func(ctx context.Context, a *core.Agent, _ map[string]any) (any, error) {
		st, err := requireStreamer(a)
		if err != nil {
			return nil, err
		}
		if err := st.StartStream(ctx); err != nil {
			return nil, err
		}
		return "Stream started", nil
	})

	r.register("streamer.stopStream", func(ctx context.Context, a *core.Agent, _ map[string]any) (any, error) {
		st, err := requireStreamer(a)
		if err != nil {
			return nil, err
		}
		if err := st.StopStream(ctx); err != nil {
			return nil, err
		}
		return "Stream stopped", nil
	})

	r.register("streamer.startRecording", func(ctx context.Context, a *core.Agent, _ map[string]any) (any, error) {
		st, err := requireStreamer(a)
		if err != nil {
			return nil, err
		}
		if err := st.StartRecording(ctx); err != nil {
			return nil, err
		}
		return "Recording started", nil
	})

	r.register("streamer.stopRecording", func(ctx context.Context, a *core.Agent, _ map[string]any) (any, error) {
		st, err := requireStreamer(a)
		if err != nil {
			return nil, err
		}
		if err := st.StopRecording(ctx); err != nil {
			return nil, err
		}
		return "Recording stopped", nil
	})

	r.register("streamer.setBitrate", func(ctx context.Context, a *core.Agent, params map[string]any) (any, error) {
		st, err := requireStreamer(a)
		if err != nil {
			return nil, err
		}
		kbps, err := intParam(params, "kbps")
		if err != nil {
			return nil, err
		}
		if err := st.SetBitrate(ctx, kbps); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Bitrate set to %d kbps", kbps), nil
	})

	r.register("streamer.reduceBitrate", func(ctx context.Context, a *core.Agent, params map[string]any) (any, error) {
		st, err := requireStreamer(a)
		if err != nil {
			return nil, err
		}
		percent, err := intParamDefault(params, "percent", 20)
		if err != nil {
			return nil, err
		}
		target, err := st.ReduceBitrate(ctx, percent)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("Bitrate reduced %d%% to %d kbps", percent, target), nil
	})

	r.register("streamer.screenshot", func(ctx context.Context, a *core.Agent, params map[string]any) (any, error) {
		st, err := requireStreamer(a)
		if err != nil {
			return nil, err
		}
		source, err := stringParam(params, "source")
		if err != nil {
			source = a.Config().PreviewSource
			if source == "" {
				return nil, err
			}
		}
		width, err := intParamDefault(params, "width", 640)
		if err != nil {
			return nil, err
		}
		height, err := intParamDefault(params, "height", 360)
		if err != nil {
			return nil, err
		}
		data, err := st.Screenshot(ctx, source, width, height)
		if err != nil {
			return nil, err
		}
		return map[string]any{"format": "jpeg", "width": width, "height": height, "data": data}, nil
	})

	r.register("streamer.status", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		st, err := requireStreamer(a)
		if err != nil {
			return nil, err
		}
		return st.Status(), nil
	})

	r.register("streamer.call", func(ctx context.Context, a *core.Agent, params map[string]any) (any, error) {
		st, err := requireStreamer(a)
		if err != nil {
			return nil, err
		}
		method, err := stringParam(params, "method")
		if err != nil {
			return nil, err
		}
		payload := params["payload"]
		res, err := st.Call(ctx, method, payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{"payload": res}, nil
	})
}
