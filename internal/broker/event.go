package broker

import "github.com/Tyrowin/relaychat/internal/mailbox"

// DeliveryChannel carries plain text payloads from the broker to one
// connection's egress side. It is unbounded and preserves order.
type DeliveryChannel = *mailbox.Mailbox[string]

// NewDeliveryChannel creates an open delivery channel.
func NewDeliveryChannel() DeliveryChannel {
	return mailbox.New[string]()
}

// Event is a unit of work for the broker. The set of events is closed:
// Sending, Connect, Disconnect and Stop.
type Event interface {
	event()
}

// Sending asks the broker to fan Text out to everyone except From.
type Sending struct {
	From UserID
	Text string
}

// Connect registers Channel as the delivery channel for User. A later Connect
// with the same identity replaces it.
type Connect struct {
	User    User
	Channel DeliveryChannel
}

// Disconnect removes User's registry entry.
type Disconnect struct {
	User User
}

// Stop terminates the dispatch loop.
type Stop struct{}

func (Sending) event()    {}
func (Connect) event()    {}
func (Disconnect) event() {}
func (Stop) event()       {}
