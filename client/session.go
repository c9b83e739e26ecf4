package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/gwlink/protocol"
)

// Session runs half duplex command exchanges over a Channel. Only one
// exchange may be outstanding at a time. A Session can be connected again
// after the link drops, correlated identifiers survive reconnects.
type Session struct {
	ch   Channel
	opts Options
	log  *zap.Logger

	// doMu serializes Do calls so concurrent callers queue up instead of
	// failing with ErrExchangeInFlight.
	doMu sync.Mutex

	mu          sync.Mutex
	fsm         *fsm.FSM
	generation  uint64
	reasm       *protocol.Reassembler
	linkDown    chan struct{}
	pending     *Exchange
	correlation map[string]string
	closed      bool

	stream chan protocol.Response
}

func NewSession(ch Channel, opts Options) *Session {
	opts = opts.withDefaults()
	log := opts.Log.Named("session")

	return &Session{
		ch:          ch,
		opts:        opts,
		log:         log,
		fsm:         newStateMachine(log),
		correlation: make(map[string]string),
		stream:      make(chan protocol.Response, opts.StreamBuffer),
	}
}

// Connect brings the channel up and starts reading notifications. It does
// nothing when the session is already connected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	if !s.fsm.Is(string(StateDisconnected)) {
		return nil
	}

	if err := s.ch.Connect(ctx); err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	s.generation++
	s.reasm = protocol.NewReassembler(protocol.ReassemblerOptions{
		MaxMessageSize: s.opts.MaxMessageSize,
		StallTimeout:   s.opts.StallTimeout,
	})
	s.linkDown = make(chan struct{})

	go s.readLoop(s.generation, s.ch.Notifications(), s.reasm, s.linkDown)

	s.transition(eventConnect)
	s.log.Info("Connected")

	return nil
}

// Disconnect takes the channel down and waits until any waiter has been
// released with ErrDisconnected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.fsm.Is(string(StateDisconnected)) {
		s.mu.Unlock()
		return nil
	}
	linkDown := s.linkDown
	s.mu.Unlock()

	var err error
	if derr := s.ch.Disconnect(); derr != nil {
		err = &TransportError{Op: "disconnect", Err: derr}
	}

	<-linkDown

	s.log.Info("Disconnected")

	return err
}

// Close disconnects and closes the Stream channel. The session cannot be
// used afterwards.
func (s *Session) Close() error {
	err := s.Disconnect()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return multierr.Append(err, ErrSessionClosed)
	}

	s.closed = true
	close(s.stream)

	return err
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State(s.fsm.Current())
}

// Stream delivers unsolicited data pushes. Pushes are dropped when nobody
// keeps up with the channel.
func (s *Session) Stream() <-chan protocol.Response {
	return s.stream
}

// Issue sends cmd and returns the Exchange to wait on. Dependent identifiers
// the caller left empty are filled in from earlier responses first. Nothing
// is sent when that fails, or when another exchange is outstanding.
func (s *Session) Issue(ctx context.Context, cmd protocol.Command) (*Exchange, error) {
	cmd, err := s.prepare(cmd)
	if err != nil {
		return nil, err
	}

	frags, err := protocol.FragmentCommand(cmd, s.opts.FragmentSize)
	if err != nil {
		return nil, &PreconditionError{Command: cmd, Err: err}
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, ErrSessionClosed

	case s.fsm.Is(string(StateDisconnected)):
		s.mu.Unlock()
		return nil, ErrNotConnected

	case !s.fsm.Is(string(StateConnected)):
		s.mu.Unlock()
		return nil, &PreconditionError{Command: cmd, Err: ErrExchangeInFlight}
	}

	x := newExchange(s, cmd, s.reasm, s.linkDown)
	s.pending = x
	s.transition(eventIssue)
	s.mu.Unlock()

	log := s.log.With(zap.Stringer("command", cmd))
	log.Debug("Issuing command", zap.Int("fragments", frags.Count()))

	if sent, err := s.transmit(ctx, frags, x); err != nil {
		// A partially written command leaves the peer out of step, the link
		// has to be rebuilt before it can be used again.
		var terr *TransportError
		if errors.As(err, &terr) || (sent > 0 && sent < frags.Count()) {
			s.fail(x, err)
		} else {
			s.abort(x)
		}

		log.Warn("Failed to send command", zap.Int("sent", sent), zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	if s.fsm.Is(string(StateIssuing)) {
		s.transition(eventSent)
	}
	s.mu.Unlock()

	return x, nil
}

// Do issues cmd and waits for its response using the default timeout. Calls
// from several goroutines are run one after another.
func (s *Session) Do(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	s.doMu.Lock()
	defer s.doMu.Unlock()

	x, err := s.Issue(ctx, cmd)
	if err != nil {
		return protocol.Response{}, err
	}

	return x.Await(ctx, 0)
}

// Correlate remembers resp's value for field when the response succeeded and
// carries it. It returns the value and whether it was stored.
func (s *Session) Correlate(resp protocol.Response, field string) (string, bool) {
	if !resp.OK() {
		return "", false
	}

	value := resp.Get(field)
	if !value.Exists() || value.String() == "" {
		return "", false
	}

	s.mu.Lock()
	s.correlation[field] = value.String()
	s.mu.Unlock()

	s.log.Debug("Correlated identifier",
		zap.String("field", field),
		zap.String("value", value.String()))

	return value.String(), true
}

func (s *Session) Correlation(field string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.correlation[field]
	return value, ok
}

// Correlations returns a copy of every remembered identifier.
func (s *Session) Correlations() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.correlation))
	for k, v := range s.correlation {
		out[k] = v
	}

	return out
}

// CreateDevice creates a device and returns its id. The id is remembered for
// later CreateRegister calls.
func (s *Session) CreateDevice(ctx context.Context, config interface{}) (string, error) {
	cmd, err := protocol.CreateDeviceCommand(config)
	if err != nil {
		return "", &PreconditionError{Command: cmd, Err: err}
	}

	return s.create(ctx, cmd, protocol.FieldDeviceID)
}

// CreateRegister creates a register on the last device created through this
// session and returns the register id.
func (s *Session) CreateRegister(ctx context.Context, config interface{}) (string, error) {
	cmd, err := protocol.CreateRegisterCommand("", config)
	if err != nil {
		return "", &PreconditionError{Command: cmd, Err: err}
	}

	return s.create(ctx, cmd, protocol.FieldRegisterID)
}

func (s *Session) create(ctx context.Context, cmd protocol.Command, idField string) (string, error) {
	resp, err := s.Do(ctx, cmd)
	if err != nil {
		return "", err
	}

	if err := resp.ErrorOrNil(); err != nil {
		return "", err
	}

	id, ok := s.Correlate(resp, idField)
	if !ok {
		return "", fmt.Errorf("%w: %s response carries no %s", protocol.ErrMalformedResponse, cmd, idField)
	}

	return id, nil
}

func (s *Session) prepare(cmd protocol.Command) (protocol.Command, error) {
	s.mu.Lock()
	for _, field := range cmd.Dependencies() {
		if cmd.Field(field) != "" {
			continue
		}

		value, ok := s.correlation[field]
		if !ok {
			s.mu.Unlock()
			return cmd, &PreconditionError{Command: cmd, Field: field, Err: ErrMissingCorrelation}
		}

		cmd = cmd.WithField(field, value)
	}
	s.mu.Unlock()

	if err := cmd.Validate(); err != nil {
		return cmd, &PreconditionError{Command: cmd, Err: err}
	}

	return cmd, nil
}

// transmit writes every fragment and waits out the settle delay. It returns
// how many fragments were written.
func (s *Session) transmit(ctx context.Context, frags *protocol.Fragmenter, x *Exchange) (int, error) {
	sent := 0

	for frag := range frags.All() {
		if err := s.ch.Send(ctx, frag); err != nil {
			return sent, &TransportError{Op: "send", Err: err}
		}
		sent++

		if protocol.IsSentinel(frag) {
			break
		}

		if err := pause(ctx, s.opts.FragmentDelay, x.linkDown, nil); err != nil {
			return sent, err
		}
	}

	return sent, pause(ctx, s.opts.SettleDelay, x.linkDown, x.done)
}

// abort drops x without touching the link.
func (s *Session) abort(x *Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked(x)
}

// fail drops x and takes the link down.
func (s *Session) fail(x *Exchange, cause error) {
	s.mu.Lock()
	s.releaseLocked(x)
	if x.generation == s.generation && !s.fsm.Is(string(StateDisconnected)) {
		s.reasm.Reset()
		s.transition(eventDrop)
	}
	s.mu.Unlock()

	if err := s.ch.Disconnect(); err != nil {
		s.log.Warn("Failed to disconnect after send failure",
			zap.NamedError("cause", cause),
			zap.Error(err))
	}
}

func (s *Session) releaseLocked(x *Exchange) {
	if s.pending == x {
		s.pending = nil
	}

	if x.generation == s.generation && (s.fsm.Is(string(StateIssuing)) || s.fsm.Is(string(StateAwaiting))) {
		s.transition(eventComplete)
	}
}

func (s *Session) readLoop(
	generation uint64,
	notifications <-chan []byte,
	reasm *protocol.Reassembler,
	linkDown chan struct{},
) {
	log := s.log.Named("readLoop")

	defer func() {
		s.mu.Lock()
		if s.generation == generation {
			reasm.Reset()
			s.pending = nil

			if !s.fsm.Is(string(StateDisconnected)) {
				s.transition(eventDrop)
			}
		}
		s.mu.Unlock()

		close(linkDown)
		log.Debug("Read loop exited")
	}()

	for fragment := range notifications {
		ev, ok := reasm.Feed(fragment)
		if !ok {
			continue
		}

		s.dispatch(log, ev)
	}
}

func (s *Session) dispatch(log *zap.Logger, ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventStalled:
		log.Warn("Dropped stalled partial message", zap.String("raw", ev.Raw))
		return

	case protocol.EventResponse:
		if ev.Response.IsData() {
			s.publish(ev.Response)
			return
		}
	}

	s.mu.Lock()
	x := s.pending
	s.pending = nil
	s.mu.Unlock()

	if x == nil {
		log.Warn("Discarding message with no outstanding exchange",
			zap.Stringer("kind", ev.Kind),
			zap.String("raw", ev.Raw))
		return
	}

	x.deliver(ev)
}

func (s *Session) publish(resp protocol.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.stream <- resp:
	default:
		s.log.Warn("Stream buffer full, dropping data push", zap.String("raw", resp.String()))
	}
}

func (s *Session) transition(event string) {
	if err := s.fsm.Event(context.Background(), event); err != nil {
		s.log.Warn("Rejected session transition",
			zap.String("event", event),
			zap.String("state", s.fsm.Current()),
			zap.Error(err))
	}
}

// pause sleeps for d. It returns early with nil when done is closed, and
// with an error when ctx ends or the link drops.
func pause(ctx context.Context, d time.Duration, linkDown, done <-chan struct{}) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-done:
		return nil
	case <-linkDown:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}
