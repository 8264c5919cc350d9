package notify

import (
	"context"
	"fmt"

	"github.com/nfrund/roomcast/internal/config"
	"github.com/nfrund/roomcast/internal/pubsub"
	"go.opentelemetry.io/otel/trace"
)

// NewBridge selects a bridge implementation from cfg.BridgeDriver.
//
//	direct  in-process handler dispatch
//	local   watermill gochannel, single process
//	redis   Redis pub/sub, multi process
//	nats    NATS subjects, multi process
func NewBridge(ctx context.Context, cfg *config.Config, tracer trace.Tracer) (Bridge, error) {
	if tracer == nil {
		tracer = pubsub.NoopTracer()
	}
	switch cfg.BridgeDriver {
	case config.BridgeDirect, "":
		return NewDirectBridge(), nil
	case config.BridgeLocal:
		return NewPubSubBridge(pubsub.NewWatermillBridgeWithTracer(tracer), cfg.BridgeChannel), nil
	case config.BridgeRedis:
		bus, err := pubsub.NewRedisBridge(ctx, cfg.RedisURL, tracer)
		if err != nil {
			return nil, err
		}
		return NewPubSubBridge(bus, cfg.BridgeChannel), nil
	case config.BridgeNATS:
		bus, err := pubsub.NewNATSBridge(cfg.NATSURL, cfg.TracingServiceName, tracer)
		if err != nil {
			return nil, err
		}
		return NewPubSubBridge(bus, cfg.BridgeChannel), nil
	default:
		return nil, fmt.Errorf("unknown bridge driver %q", cfg.BridgeDriver)
	}
}
