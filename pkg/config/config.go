package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	Addr              string // listen addr for the HTTP/WebSocket server
	WaitForServices   string // duration to wait for other services to be ready
	LogLevel          string // sets the log level (zap log level values)
	LogFormat         string // text vs json
	EnableTelemetry   bool   // enable telemetry
	TelemetryEndpoint string // endpoint for telemetry
	ProfilingPort     int    // port for profiling
	PrintMessage      bool   // if true, the message payload will be print on debug level
	StaleDuration     string // duration after which a session is considered stale
	ReapInterval      string // interval between stale session sweeps
	NatsURL           string // NATS server url for the broadcast bridge (empty: disabled)
)

// Config holds the configuration values which are used by the application
type Config struct {
	PrintMessage bool // if true, the message payload will be print on debug level
}
