package client

import "context"

// Channel is a message oriented link that carries short writes in one
// direction and asynchronous notifications in the other.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect() error

	// Send performs one transport write. Fragments are never coalesced.
	Send(ctx context.Context, fragment []byte) error

	// Notifications delivers inbound fragments in arrival order. The channel
	// is closed when the link goes down.
	Notifications() <-chan []byte
}
