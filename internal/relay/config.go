package relay

import "time"

const (
	DefaultTimeout = 10 * time.Second
	DefaultRetries = 2
)

// Config names the backend and the per-class POST endpoints.
type Config struct {
	BaseURL     string
	Endpoints   map[string]string
	CommandPath string
	Headers     map[string]string
	Timeout     time.Duration
	Retries     int
	SpoolPath   string
}

func DefaultConfig() Config {
	return Config{
		Endpoints: map[string]string{
			"telemetry": "/api/telemetry",
			"ground":    "/api/ground",
			"image":     "/api/image",
		},
		CommandPath: "/api/command",
		Timeout:     DefaultTimeout,
		Retries:     DefaultRetries,
	}
}
