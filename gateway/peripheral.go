package gateway

import (
	"bytes"
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/luma/gwlink/protocol"
	"github.com/luma/gwlink/transport"
)

const DefaultFragmentDelay = 50 * time.Millisecond

type PeripheralOptions struct {
	FragmentSize int

	// FragmentDelay is the pause after each content fragment of a reply.
	FragmentDelay time.Duration

	// MaxMessageSize bounds an inbound command. Zero means 4096.
	MaxMessageSize int

	Log *zap.Logger
}

// Peripheral serves links with a Handler. Each link gets its own reassembly
// buffer and streaming target.
type Peripheral struct {
	handler *Handler
	opts    PeripheralOptions
	log     *zap.Logger
}

func NewPeripheral(handler *Handler, opts PeripheralOptions) *Peripheral {
	if opts.FragmentSize == 0 {
		opts.FragmentSize = protocol.DefaultFragmentSize
	}

	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = 4096
	}

	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	return &Peripheral{
		handler: handler,
		opts:    opts,
		log:     opts.Log.Named("peripheral"),
	}
}

// Serve answers commands on link until its notifications close or ctx ends.
// Streaming stops with the link.
func (p *Peripheral) Serve(parentCtx context.Context, link transport.Link) error {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	reasm := protocol.NewReassembler(protocol.ReassemblerOptions{MaxMessageSize: p.opts.MaxMessageSize})
	updates := p.handler.Store().ListenToUpdates(ctx)
	notifications := link.Notifications()

	var streaming string

	p.log.Debug("Serving link")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fragment, ok := <-notifications:
			if !ok {
				p.log.Debug("Link closed")
				return nil
			}

			ev, ok := reasm.Feed(fragment)
			if !ok {
				continue
			}

			var reply []byte
			reply, streaming = p.reply(ctx, ev, streaming)

			if err := p.send(ctx, link, reply); err != nil {
				return err
			}

		case update, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}

			if streaming == "" || update.Value == nil || update.Key != dataPath(streaming) {
				continue
			}

			if err := p.send(ctx, link, dataResponse(update.Value)); err != nil {
				return err
			}
		}
	}
}

// reply builds the answer to one reassembler event and returns the
// streaming target that applies afterwards.
func (p *Peripheral) reply(ctx context.Context, ev protocol.Event, streaming string) ([]byte, string) {
	switch ev.Kind {
	case protocol.EventMalformed:
		return errorResponse("Invalid JSON: " + jsonErrorCode(ev.Raw)), streaming

	case protocol.EventOverflow:
		return errorResponse("Command too large"), streaming
	}

	cmd, err := protocol.ParseCommand(ev.Response.Raw)
	if err != nil {
		// Valid JSON that is not an object carries no op.
		cmd = protocol.Command{}
	}

	if cmd.Op == protocol.OpRead && cmd.Type == protocol.TypeData {
		return p.stream(ctx, cmd, streaming)
	}

	return p.handler.Handle(ctx, cmd), streaming
}

func (p *Peripheral) stream(ctx context.Context, cmd protocol.Command, streaming string) ([]byte, string) {
	switch {
	case cmd.Device == protocol.StreamStop:
		p.log.Info("Stopped streaming", zap.String("device_id", streaming))
		return okResponse(protocol.FieldMessage, "Data streaming stopped"), ""

	case !p.handler.DeviceExists(ctx, cmd.Device):
		return errorResponse("Device not found"), streaming

	default:
		p.log.Info("Started streaming", zap.String("device_id", cmd.Device))
		return okResponse(protocol.FieldMessage, "Data streaming started"), cmd.Device
	}
}

func (p *Peripheral) send(ctx context.Context, link transport.Link, reply []byte) error {
	frags, err := protocol.NewFragmenter(reply, p.opts.FragmentSize)
	if err != nil {
		return err
	}

	for frag := range frags.All() {
		if err := link.Send(ctx, frag); err != nil {
			if errors.Is(err, transport.ErrNotConnected) {
				return nil
			}

			return err
		}

		if protocol.IsSentinel(frag) || p.opts.FragmentDelay <= 0 {
			continue
		}

		select {
		case <-time.After(p.opts.FragmentDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// jsonErrorCode names the parse failure the way the firmware's JSON library
// does.
func jsonErrorCode(raw string) string {
	if len(bytes.TrimSpace([]byte(raw))) == 0 {
		return "EmptyInput"
	}

	return "InvalidInput"
}
