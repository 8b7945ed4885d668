package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Dispatcher is the side-effect hook fired after transitions the patient
// should hear about. Delivery is owned externally; the core only signals.
type Dispatcher interface {
	Notify(ctx context.Context, requestID string, event string) error
}

// LogDispatcher records notification signals in the application log. It
// stands in wherever a real delivery channel is not wired.
type LogDispatcher struct {
	log zerolog.Logger
}

func NewLogDispatcher(log zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Notify(_ context.Context, requestID string, event string) error {
	d.log.Info().
		Str("request_id", requestID).
		Str("event", event).
		Msg("notification signal")
	return nil
}
