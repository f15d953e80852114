package telemetry

// Config holds configuration for the tracer
type Config struct {
	// ServiceName is the name reported on every span resource
	ServiceName string

	// ServiceVersion is the bodega build version
	ServiceVersion string

	// Environment is a free-form deployment label (dev, kiosk, production)
	Environment string

	// Enabled determines whether tracing is enabled.
	// When false, a noop tracer is used and otelhttp spans are discarded.
	Enabled bool

	// Endpoint is the OTLP/gRPC collector endpoint (host:port).
	// If empty, spans are recorded but not exported.
	Endpoint string

	// Insecure disables TLS to the collector
	Insecure bool

	// SampleRate is the fraction of traces to sample (0.0 to 1.0)
	SampleRate float64
}

// DefaultConfig returns the configuration used when nothing is set.
// Tracing is off for an interactive client.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "bodega",
		ServiceVersion: "dev",
		Environment:    "development",
		Enabled:        false,
		SampleRate:     1.0,
	}
}
