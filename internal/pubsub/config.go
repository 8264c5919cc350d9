package pubsub

import "github.com/nfrund/roomcast/internal/config"

// TracingConfigFrom builds the tracing configuration from application config.
func TracingConfigFrom(cfg *config.Config) TracingConfig {
	tc := DefaultTracingConfig()
	tc.Enabled = cfg.TracingEnabled
	if cfg.TracingServiceName != "" {
		tc.ServiceName = cfg.TracingServiceName
	}
	if cfg.TracingZipkinURL != "" {
		tc.ZipkinURL = cfg.TracingZipkinURL
	}
	return tc
}
