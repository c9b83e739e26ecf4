package protocol

import (
	"bytes"
	"iter"
)

const (
	// Sentinel ends every message. It is written as a fragment of its own.
	Sentinel = "<END>"

	// DefaultFragmentSize keeps every write under the 20 byte payload of a
	// default 23 byte ATT MTU.
	DefaultFragmentSize = 18
)

// The capacity is clipped so appending to a yielded sentinel never writes
// into shared memory.
var sentinel = []byte(Sentinel)[:len(Sentinel):len(Sentinel)]

// IsSentinel reports whether fragment is the end of message marker.
func IsSentinel(fragment []byte) bool {
	return bytes.Equal(fragment, sentinel)
}

// Fragmenter splits one encoded message into transport sized fragments.
type Fragmenter struct {
	payload []byte
	size    int
}

func NewFragmenter(payload []byte, size int) (*Fragmenter, error) {
	if size < 1 {
		return nil, ErrInvalidFragmentSize
	}

	return &Fragmenter{
		payload: append([]byte(nil), payload...),
		size:    size,
	}, nil
}

// FragmentCommand encodes cmd and returns a Fragmenter over its encoding.
func FragmentCommand(cmd Command, size int) (*Fragmenter, error) {
	payload, err := cmd.Marshal()
	if err != nil {
		return nil, err
	}

	return NewFragmenter(payload, size)
}

// Payload returns the encoded message being fragmented.
func (f *Fragmenter) Payload() []byte {
	return f.payload
}

// ContentCount is the number of fragments carrying payload bytes.
func (f *Fragmenter) ContentCount() int {
	return (len(f.payload) + f.size - 1) / f.size
}

// Count is the total number of writes, including the sentinel.
func (f *Fragmenter) Count() int {
	return f.ContentCount() + 1
}

// All yields the content fragments in order followed by the sentinel. The
// sequence can be ranged over any number of times. Yielded slices must not
// be modified.
func (f *Fragmenter) All() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for off := 0; off < len(f.payload); off += f.size {
			end := min(off+f.size, len(f.payload))
			if !yield(f.payload[off:end:end]) {
				return
			}
		}

		yield(sentinel)
	}
}
