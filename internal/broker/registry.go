package broker

import (
	"log/slog"

	"github.com/Tyrowin/relaychat/internal/logger"
)

// Registry maps user identities to delivery channels. It is not safe for
// concurrent use; the broker's dispatch goroutine is its only writer and
// reader.
type Registry struct {
	connections map[UserID]DeliveryChannel
	log         *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		connections: make(map[UserID]DeliveryChannel),
		log:         logger.OrDefault(log),
	}
}

// Register inserts or replaces the entry for user. The replaced channel is
// left open and simply dropped from the registry; its owner decides its fate.
func (r *Registry) Register(user User, ch DeliveryChannel) (replaced bool) {
	prev, replaced := r.connections[user.ID]
	if replaced && prev != ch {
		r.log.Warn("identity re-registered, previous delivery channel abandoned",
			logger.User(string(user.ID)))
	}
	r.connections[user.ID] = ch
	return replaced
}

// Unregister removes the entry for id and closes its channel so the egress
// side observes end of stream. Unknown identities are ignored.
func (r *Registry) Unregister(id UserID) bool {
	ch, ok := r.connections[id]
	if !ok {
		return false
	}
	delete(r.connections, id)
	ch.Close()
	return true
}

// Lookup returns the delivery channel registered for id.
func (r *Registry) Lookup(id UserID) (DeliveryChannel, bool) {
	ch, ok := r.connections[id]
	return ch, ok
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	return len(r.connections)
}

// BroadcastExcept pushes payload to every registered channel except the
// sender's. A failed push is logged and does not stop delivery to the rest.
// Recipient order is unspecified.
func (r *Registry) BroadcastExcept(sender UserID, payload string) (delivered int, failed []UserID) {
	for id, ch := range r.connections {
		if id == sender {
			continue
		}
		if err := ch.Push(payload); err != nil {
			r.log.Warn("delivery failed",
				logger.User(string(id)),
				logger.Error(err),
			)
			failed = append(failed, id)
			continue
		}
		delivered++
	}
	return delivered, failed
}
