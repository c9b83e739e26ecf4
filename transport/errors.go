package transport

import "errors"

var (
	ErrNotConnected = errors.New("link is not connected")

	// ErrFragmentTooLarge is returned by Send when a fragment exceeds the
	// link's MaxFragmentSize.
	ErrFragmentTooLarge = errors.New("fragment exceeds the link's write size")

	// ErrBufferFull means the peer is not draining its notifications.
	ErrBufferFull = errors.New("peer notification buffer is full")

	// ErrNewlineInFragment is returned by line framed links, which cannot
	// carry a newline inside a fragment.
	ErrNewlineInFragment = errors.New("fragment contains a newline")
)
