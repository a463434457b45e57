package broadcast

import (
	"context"

	"github.com/queeriouslabs/secbot/internal/infrastructure/logging"
	"github.com/queeriouslabs/secbot/internal/schema"
)

// Inbox is the part of *bus.Bus the service consumes.
type Inbox interface {
	In() <-chan schema.Message
	Reply(ctx context.Context, msg schema.Message) error
}

// Service relays every message arriving on the broadcast endpoint to the
// hub's listeners and the MQTT mirror.
type Service struct {
	inbox  Inbox
	hub    *Hub
	mirror *Mirror
	logger *logging.Logger
}

// NewService wires the relay loop. mirror may be nil.
func NewService(inbox Inbox, hub *Hub, mirror *Mirror, logger *logging.Logger) *Service {
	return &Service{inbox: inbox, hub: hub, mirror: mirror, logger: logger}
}

// Run relays messages until ctx is cancelled.
//
// Messages are relayed verbatim and unvalidated. A sender that used a
// full request (rather than a notification) is acknowledged, so its
// Request call returns.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.inbox.In():
			s.logger.Debug("relaying", "source_id", msg.SourceID(), "listeners", s.hub.Count())
			s.hub.Broadcast(msg)
			s.mirror.Publish(msg)

			if schema.Is(schema.KindRequest, msg) {
				if err := s.inbox.Reply(ctx, schema.NewResponse(msg, schema.CodeOK, "OK")); err != nil {
					s.logger.Warn("acknowledging relayed request failed", "error", err)
				}
			}
		}
	}
}
