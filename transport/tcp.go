package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// WriteQueueSize bounds the fragments queued on a connection.
	WriteQueueSize = 127

	// NotificationBufferSize bounds the fragments read but not yet consumed.
	NotificationBufferSize = 255

	// maxLineSize caps a single line framed fragment.
	maxLineSize = 64 * 1024
)

// TCP serves line framed links: every fragment travels as one line.
type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr      string
	reuseport bool

	numListeners int
	listeners    []*TCPListener

	handler Handler

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	// Without SO_REUSEPORT only one socket can bind the port.
	if !options.Reuseport {
		numListeners = 1
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		reuseport:    options.Reuseport,
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		handler:      options.Handler,
		log:          log,
	}
}

// Start binds every listener before returning, so clients may dial as soon
// as it succeeds.
func (t *TCP) Start(parentCtx context.Context) error {
	if t.handler == nil {
		return errors.New("transport: TCP requires a handler")
	}

	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.log.Info("Starting tcp listeners", zap.Int("count", t.numListeners))

	addr := t.addr
	for i := 0; i < t.numListeners; i++ {
		listener, err := t.listen(addr)
		if err != nil {
			cancel()
			return multierr.Append(err, t.closeListeners())
		}

		// Further listeners share the port the first one was given.
		addr = listener.Addr().String()

		t.startListener(ctx, listener)
	}

	return nil
}

// Addr returns the bound address, or nil before Start.
func (t *TCP) Addr() net.Addr {
	if len(t.listeners) == 0 {
		return nil
	}

	return t.listeners[0].listener.Addr()
}

func (t *TCP) listen(addr string) (net.Listener, error) {
	if t.reuseport {
		return reuseport.Listen("tcp", addr)
	}

	return net.Listen("tcp", addr)
}

func (t *TCP) startListener(ctx context.Context, l net.Listener) {
	t.stopWaiter.Add(1)
	listener := NewTCPListener(
		ctx,
		l,
		t.handler,
		t.log.Named("listener").With(zap.Int("listener", len(t.listeners))),
	)

	t.listeners = append(t.listeners, listener)

	go func() {
		defer t.stopWaiter.Done()

		if err := listener.Listen(); err != nil {
			t.log.Error("Failed to listen", zap.Error(err))
		}
	}()
}

// Close immediately closes all listeners and their connections.
func (t *TCP) Close() error {
	t.log.Info("Stopping TCP server")
	if t.cancel != nil {
		t.cancel()
	}

	err := t.closeListeners()

	t.stopWaiter.Wait()
	t.log.Info("Listeners stopped")

	return err
}

func (t *TCP) closeListeners() (err error) {
	for _, listener := range t.listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

type TCPListener struct {
	ctx context.Context

	listener net.Listener
	handler  Handler
	log      *zap.Logger

	mu          sync.Mutex
	activeConns map[*TCPConn]struct{}
}

func NewTCPListener(
	ctx context.Context,
	listener net.Listener,
	handler Handler,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		listener:    listener,
		handler:     handler,
		activeConns: make(map[*TCPConn]struct{}),
		log:         log,
	}
}

func (t *TCPListener) Close() error {
	err := t.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	t.mu.Lock()
	conns := make([]*TCPConn, 0, len(t.activeConns))
	for conn := range t.activeConns {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}

	return err
}

func (t *TCPListener) Listen() error {
	var loopWaiter sync.WaitGroup

	go func() {
		<-t.ctx.Done()

		t.log.Info("Closing listener")
		if err := t.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			t.log.Warn("TCP Listener did not close cleanly", zap.Error(err))
		}
	}()

	defer func() {
		t.log.Info("Waiting for connections to stop")
		loopWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// Closed while waiting for new connections, that's fine.
				return nil
			}

			return err
		}

		tcpConn := NewTCPConn(t.ctx, conn, t.handler, t.log.Named("conn").With(
			zap.String("remote", conn.RemoteAddr().String())))

		t.addConn(tcpConn)
		loopWaiter.Add(1)

		go func() {
			defer loopWaiter.Done()
			defer t.removeConn(tcpConn)

			tcpConn.Start()
		}()
	}
}

func (t *TCPListener) addConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activeConns[conn] = struct{}{}
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}

// TCPConn is the server side of one line framed link. It implements Link.
type TCPConn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	conn    net.Conn
	handler Handler

	writeQueue chan []byte
	inbound    chan []byte

	log *zap.Logger
}

func NewTCPConn(
	parentCtx context.Context,
	conn net.Conn,
	handler Handler,
	log *zap.Logger,
) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)

	return &TCPConn{
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		handler:    handler,
		writeQueue: make(chan []byte, WriteQueueSize),
		inbound:    make(chan []byte, NotificationBufferSize),
		log:        log,
	}
}

// Close stops the connection's loops. It is safe to call more than once.
func (t *TCPConn) Close() error {
	t.cancel()

	err := t.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

// Start runs the read and write loops and the handler, and returns once all
// three have finished.
func (t *TCPConn) Start() {
	t.loopWaiter.Add(2)

	go func() {
		defer t.loopWaiter.Done()
		t.ReadLoop()
	}()

	go func() {
		defer t.loopWaiter.Done()
		t.WriteLoop()
	}()

	if err := t.handler(t.ctx, t); err != nil && !errors.Is(err, context.Canceled) {
		t.log.Warn("Handler failed", zap.Error(err))
	}

	t.Close()
	t.loopWaiter.Wait()
}

func (t *TCPConn) ReadLoop() {
	log := t.log.Named("readLoop")

	defer func() {
		close(t.inbound)
		log.Debug("Read loop exited")
	}()

	if err := scanLines(t.ctx, t.conn, t.inbound); err != nil {
		log.Debug("Connection read ended", zap.Error(err))
	}
}

func (t *TCPConn) WriteLoop() {
	log := t.log.Named("writeLoop")

	for {
		select {
		case <-t.ctx.Done():
			log.Debug("Write loop exited")
			return

		case data := <-t.writeQueue:
			if _, err := t.conn.Write(data); err != nil {
				log.Warn("Failed to write from write queue",
					zap.ByteString("data", data),
					zap.Error(err))

				t.cancel()
				return
			}
		}
	}
}

// Send queues one fragment for the write loop.
func (t *TCPConn) Send(ctx context.Context, fragment []byte) error {
	line, err := frameLine(fragment)
	if err != nil {
		return err
	}

	select {
	case t.writeQueue <- line:
		return nil
	case <-t.ctx.Done():
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *TCPConn) Notifications() <-chan []byte {
	return t.inbound
}

// TCPChannel is the controller side of a line framed link.
type TCPChannel struct {
	addr   string
	dialer net.Dialer

	mu      sync.Mutex
	conn    net.Conn
	inbound chan []byte

	log *zap.Logger
}

func NewTCPChannel(addr string, log *zap.Logger) *TCPChannel {
	if log == nil {
		log = zap.NewNop()
	}

	return &TCPChannel{
		addr: addr,
		log:  log.Named("tcp").With(zap.String("addr", addr)),
	}
}

func (c *TCPChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}

	inbound := make(chan []byte, NotificationBufferSize)
	c.conn, c.inbound = conn, inbound

	go c.readLoop(conn, inbound)

	c.log.Debug("Connected")

	return nil
}

func (c *TCPChannel) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

func (c *TCPChannel) Send(ctx context.Context, fragment []byte) error {
	line, err := frameLine(fragment)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	_, err = conn.Write(line)
	return err
}

func (c *TCPChannel) Notifications() <-chan []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inbound == nil {
		return closedNotifications
	}

	return c.inbound
}

func (c *TCPChannel) readLoop(conn net.Conn, inbound chan []byte) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()

		conn.Close()
		close(inbound)
		c.log.Debug("Read loop exited")
	}()

	if err := scanLines(context.Background(), conn, inbound); err != nil {
		c.log.Debug("Connection read ended", zap.Error(err))
	}
}

// scanLines reads newline terminated fragments from conn until it fails or
// ctx ends.
func scanLines(ctx context.Context, conn net.Conn, out chan<- []byte) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 256), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSuffix(scanner.Bytes(), []byte{'\r'})
		fragment := append([]byte(nil), line...)

		select {
		case out <- fragment:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return scanner.Err()
}

func frameLine(fragment []byte) ([]byte, error) {
	if bytes.IndexByte(fragment, '\n') >= 0 {
		return nil, ErrNewlineInFragment
	}

	line := make([]byte, 0, len(fragment)+1)
	line = append(line, fragment...)
	return append(line, '\n'), nil
}
