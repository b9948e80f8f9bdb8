package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger returns the global logger tagged with the running component.
func ComponentLogger(app, id string) zerolog.Logger {
	return log.Logger.With().Str("app", app).Str("id", id).Logger()
}
