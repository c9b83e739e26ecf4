package transport

import "context"

// Link is the peripheral's view of one connected controller: it receives
// command fragments and writes response fragments.
type Link interface {
	Send(ctx context.Context, fragment []byte) error
	Notifications() <-chan []byte
}

// Handler serves a single link until its notifications close or ctx ends.
type Handler func(ctx context.Context, link Link) error

var closedNotifications = func() chan []byte {
	ch := make(chan []byte)
	close(ch)
	return ch
}()
