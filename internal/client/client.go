// Package client is a line protocol client for the chat relay.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/Tyrowin/relaychat/internal/protocol"
)

// Client is a connected, identified chat session. Send and Receive may be
// used from different goroutines.
type Client struct {
	name string
	conn net.Conn
	dec  *protocol.Decoder

	writeMu sync.Mutex
	enc     *protocol.Encoder
}

// Dial connects to addr and identifies as displayName.
func Dial(ctx context.Context, addr, displayName string) (*Client, error) {
	id := protocol.Identify{DisplayName: displayName}
	if err := id.Validate(); err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &Client{
		name: displayName,
		conn: conn,
		dec:  protocol.NewDecoder(conn, 0),
		enc:  protocol.NewEncoder(conn),
	}

	if err := c.enc.Encode(id); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("identify: %w", err)
	}
	return c, nil
}

// Name returns the display name the client identified with.
func (c *Client) Name() string {
	return c.name
}

// RemoteAddr returns the server address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes one chat message.
func (c *Client) Send(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.enc.Encode(protocol.Send{Destinations: []string{}, Message: text})
}

// Receive blocks until the next delivered payload. Malformed lines from the
// server are returned as errors wrapping protocol.ErrMalformed.
func (c *Client) Receive() (string, error) {
	var msg protocol.Message
	if err := c.dec.Decode(&msg); err != nil {
		return "", err
	}
	return msg.Payload, nil
}

// Close closes the connection, unblocking Receive.
func (c *Client) Close() error {
	return c.conn.Close()
}
