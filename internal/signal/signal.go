// Package signal fans events out to notification providers.
package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Kind names an event type. Providers declare which kinds they handle.
type Kind string

// KindSubmission is sent when a submission has been finalized.
const KindSubmission Kind = "submission"

// Event is a notification. Submission is set for KindSubmission.
type Event struct {
	Kind       Kind
	Submission *Submission
}

// Submission describes a finalized submission.
type Submission struct {
	ID            string
	Subject       string
	HomeAssistant string
	Devices       int
	Entities      int
	Malformed     int
}

// Provider delivers events to one destination.
type Provider interface {
	Supported(ev Event) bool
	Send(ctx context.Context, ev Event) error
}

// Signal sends every event to each provider supporting it.
type Signal struct {
	providers []Provider
	log       *slog.Logger
}

// New creates a Signal over providers. A Signal without providers drops
// every event.
func New(providers ...Provider) *Signal {
	return &Signal{
		providers: providers,
		log:       slog.With("component", "signal"),
	}
}

// Send delivers ev to the supporting providers in order. Every provider is
// attempted; their failures are joined.
func (s *Signal) Send(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range s.providers {
		if !p.Supported(ev) {
			continue
		}
		if err := p.Send(ctx, ev); err != nil {
			s.log.Warn("provider failed", "kind", ev.Kind, "error", err)
			errs = append(errs, fmt.Errorf("signal %s: %w", ev.Kind, err))
		}
	}
	return errors.Join(errs...)
}
