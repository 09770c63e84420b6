package handlers

import (
	"context"

	"github.com/thicketlab/thicket/internal/event"
)

func (d Deps) logSession(msg string) event.HandlerFunc {
	return func(_ context.Context, p event.Payload) error {
		d.Logger.Info(msg,
			"session_id", p.String("session_id"),
			"user_id", p.String("user_id"),
		)
		return nil
	}
}
