/*
Package notify delivers procurement notifications.

SINKS:
  Logger    - writes each notification as a structured log line
  Publisher - publishes JSON to a durable RabbitMQ queue for the mailer
  Queue     - buffers notifications and delivers them on a worker goroutine
  Multi     - fans one notification out to several sinks

  The procurement service decides who is told; these sinks only move the
  message. A typical wiring is Queue(Multi(Logger, Publisher)) so that a slow
  broker never delays an HTTP response.
*/
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/utdesign/procurement-engine/procurement"
)

// Logger writes notifications to a zerolog logger.
type Logger struct {
	log zerolog.Logger
}

// NewLogger returns a Logger sink.
func NewLogger(log zerolog.Logger) *Logger {
	return &Logger{log: log.With().Str("component", "notify").Logger()}
}

func (l *Logger) Notify(_ context.Context, n procurement.Notification) error {
	l.log.Info().
		Str("operation", string(n.Operation)).
		Str("audience", string(n.Audience)).
		Str("action", n.Action).
		Strs("recipients", n.Recipients).
		Int64("request_number", n.RequestNumber).
		Int("project_number", n.ProjectNumber).
		Str("actor", n.Actor).
		Str("comment", n.Comment).
		Msg("notification")
	return nil
}

// Multi delivers to every sink and joins their errors.
type Multi []procurement.Notifier

func (m Multi) Notify(ctx context.Context, n procurement.Notification) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
