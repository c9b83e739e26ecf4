package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/gwlink/protocol"
)

const (
	DefaultFragmentDelay   = 100 * time.Millisecond
	DefaultSettleDelay     = 2 * time.Second
	DefaultResponseTimeout = 10 * time.Second
	DefaultMaxMessageSize  = 4096
	DefaultStreamBuffer    = 16
)

type Options struct {
	// FragmentSize is the largest payload of a single write.
	FragmentSize int

	// FragmentDelay is the pause after each content fragment.
	FragmentDelay time.Duration

	// SettleDelay is the pause after the end marker before Issue returns. It
	// is cut short when the response has already arrived.
	SettleDelay time.Duration

	// ResponseTimeout is used by Await when it is given no timeout.
	ResponseTimeout time.Duration

	// StallTimeout drops a partial inbound message after this much silence.
	// Zero disables it.
	StallTimeout time.Duration

	// MaxMessageSize bounds an inbound message. Zero means unbounded.
	MaxMessageSize int

	// AutoCorrelate lists the response fields remembered after every
	// successful exchange. Nil means device_id, an empty slice disables it.
	AutoCorrelate []string

	// StreamBuffer is the capacity of the data push channel.
	StreamBuffer int

	Log *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		FragmentSize:    protocol.DefaultFragmentSize,
		FragmentDelay:   DefaultFragmentDelay,
		SettleDelay:     DefaultSettleDelay,
		ResponseTimeout: DefaultResponseTimeout,
		MaxMessageSize:  DefaultMaxMessageSize,
		AutoCorrelate:   []string{protocol.FieldDeviceID},
		StreamBuffer:    DefaultStreamBuffer,
	}
}

func (o Options) withDefaults() Options {
	if o.FragmentSize == 0 {
		o.FragmentSize = protocol.DefaultFragmentSize
	}

	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}

	if o.AutoCorrelate == nil {
		o.AutoCorrelate = []string{protocol.FieldDeviceID}
	}

	if o.StreamBuffer <= 0 {
		o.StreamBuffer = DefaultStreamBuffer
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}
