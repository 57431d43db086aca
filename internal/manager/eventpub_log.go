package manager

import "github.com/rs/zerolog"

// LogPublisher writes every event as a structured log line.
type LogPublisher struct {
	Logger zerolog.Logger
	// Level used for events; batch_executed is always logged at debug.
	Level zerolog.Level
}

func (p LogPublisher) Publish(e Event) {
	lvl := p.Level
	if e.Name == "batch_executed" {
		lvl = zerolog.DebugLevel
	}
	if e.Name == "load_error" || e.Name == "unload_timeout" {
		lvl = zerolog.WarnLevel
	}
	p.Logger.WithLevel(lvl).Str("event", e.Name).Str("model", e.ModelID).Fields(e.Fields).Msg("manager event")
}
