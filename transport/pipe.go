package transport

import (
	"context"
	"sync"
)

const DefaultPipeBuffer = 256

type PipeOptions struct {
	// Buffer is the number of fragments each direction holds before Send
	// fails with ErrBufferFull.
	Buffer int

	// MaxFragmentSize rejects larger writes. Zero means unbounded.
	MaxFragmentSize int
}

// Pipe is an in-memory link between a controller and a peripheral. Either
// end may bring it up or take it down; taking it down closes the
// notifications of both ends.
type Pipe struct {
	opts PipeOptions

	mu         sync.Mutex
	up         bool
	controller *PipeEnd
	peripheral *PipeEnd
}

// PipeEnd is one side of a Pipe. It satisfies both client.Channel and Link.
type PipeEnd struct {
	pipe *Pipe
	name string
	peer *PipeEnd

	// inbound is only touched with pipe.mu held.
	inbound chan []byte

	sent    int
	sendErr error
}

func NewPipe(opts PipeOptions) *Pipe {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultPipeBuffer
	}

	p := &Pipe{opts: opts}
	p.controller = &PipeEnd{pipe: p, name: "controller"}
	p.peripheral = &PipeEnd{pipe: p, name: "peripheral"}
	p.controller.peer = p.peripheral
	p.peripheral.peer = p.controller

	return p
}

func (p *Pipe) Controller() *PipeEnd {
	return p.controller
}

func (p *Pipe) Peripheral() *PipeEnd {
	return p.peripheral
}

func (p *Pipe) IsUp() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.up
}

func (e *PipeEnd) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := e.pipe
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.up {
		return nil
	}

	p.controller.inbound = make(chan []byte, p.opts.Buffer)
	p.peripheral.inbound = make(chan []byte, p.opts.Buffer)
	p.up = true

	return nil
}

func (e *PipeEnd) Disconnect() error {
	p := e.pipe
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.up {
		return nil
	}

	close(p.controller.inbound)
	close(p.peripheral.inbound)
	p.up = false

	return nil
}

func (e *PipeEnd) Send(ctx context.Context, fragment []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := e.pipe
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.up {
		return ErrNotConnected
	}

	if e.sendErr != nil {
		return e.sendErr
	}

	if p.opts.MaxFragmentSize > 0 && len(fragment) > p.opts.MaxFragmentSize {
		return ErrFragmentTooLarge
	}

	select {
	case e.peer.inbound <- append([]byte(nil), fragment...):
		e.sent++
		return nil
	default:
		return ErrBufferFull
	}
}

func (e *PipeEnd) Notifications() <-chan []byte {
	p := e.pipe
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.up {
		return closedNotifications
	}

	return e.inbound
}

// Sent returns the number of fragments this end has written.
func (e *PipeEnd) Sent() int {
	e.pipe.mu.Lock()
	defer e.pipe.mu.Unlock()

	return e.sent
}

// FailSends makes every following Send on this end return err. Passing nil
// restores normal operation.
func (e *PipeEnd) FailSends(err error) {
	e.pipe.mu.Lock()
	defer e.pipe.mu.Unlock()

	e.sendErr = err
}

func (e *PipeEnd) String() string {
	return "pipe/" + e.name
}
