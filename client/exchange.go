package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/gwlink/protocol"
)

// Exchange is one outstanding command. It completes when the next message
// arrives, the link drops, or Await gives up.
type Exchange struct {
	session    *Session
	cmd        protocol.Command
	generation uint64
	reasm      *protocol.Reassembler
	linkDown   <-chan struct{}

	done        chan struct{}
	deliverOnce sync.Once
	event       protocol.Event

	finishOnce sync.Once
}

func newExchange(s *Session, cmd protocol.Command, reasm *protocol.Reassembler, linkDown <-chan struct{}) *Exchange {
	return &Exchange{
		session:    s,
		cmd:        cmd,
		generation: s.generation,
		reasm:      reasm,
		linkDown:   linkDown,
		done:       make(chan struct{}),
	}
}

// Command returns the command as it was sent, with correlated fields filled in.
func (x *Exchange) Command() protocol.Command {
	return x.cmd
}

// Await blocks until the response arrives. A timeout of zero uses the
// session's ResponseTimeout.
//
// It returns a *protocol.ParseError when the reply was not JSON,
// ErrTimeout, ErrDisconnected when the link dropped first, or ctx.Err().
func (x *Exchange) Await(ctx context.Context, timeout time.Duration) (protocol.Response, error) {
	if timeout <= 0 {
		timeout = x.session.opts.ResponseTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error

	select {
	case <-x.done:
	default:
		select {
		case <-x.done:
		case <-x.linkDown:
			err = ErrDisconnected
		case <-timer.C:
			err = ErrTimeout
		case <-ctx.Done():
			err = ctx.Err()
		}

		// The response may have landed together with the disconnect.
		if err != nil && x.isDone() {
			err = nil
		}
	}

	x.finish(err)

	if err != nil {
		return protocol.Response{}, err
	}

	switch x.event.Kind {
	case protocol.EventResponse:
		for _, field := range x.session.opts.AutoCorrelate {
			x.session.Correlate(x.event.Response, field)
		}

		return x.event.Response, nil

	default:
		return protocol.Response{}, x.event.Err
	}
}

func (x *Exchange) deliver(ev protocol.Event) {
	x.deliverOnce.Do(func() {
		x.event = ev
		close(x.done)
	})
}

func (x *Exchange) isDone() bool {
	select {
	case <-x.done:
		return true
	default:
		return false
	}
}

func (x *Exchange) finish(err error) {
	x.finishOnce.Do(func() {
		s := x.session

		s.mu.Lock()
		defer s.mu.Unlock()

		if err != nil && err != ErrDisconnected {
			// Anything still buffered belongs to the abandoned reply.
			x.reasm.Reset()
			s.log.Warn("Abandoned exchange",
				zap.Stringer("command", x.cmd),
				zap.Error(err))
		}

		s.releaseLocked(x)
	})
}
