package transport_test

import (
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/gwlink/client"
	"github.com/luma/gwlink/gateway"
	"github.com/luma/gwlink/protocol"
	"github.com/luma/gwlink/storage"
	"github.com/luma/gwlink/transport"
)

func echo(ctx context.Context, link transport.Link) error {
	for fragment := range link.Notifications() {
		if err := link.Send(ctx, fragment); err != nil {
			return err
		}
	}

	return nil
}

func makeTCPServer(handler transport.Handler, listeners int) *transport.TCP {
	log, err := zap.NewDevelopment()
	Expect(err).To(Succeed())

	tcp := transport.NewTCP(transport.Options{
		Host:         "127.0.0.1",
		Port:         0,
		Reuseport:    true,
		NumListeners: listeners,
		Handler:      handler,
		Log:          log,
	})

	Expect(tcp.Start(context.Background())).To(Succeed())
	Expect(tcp.Addr()).NotTo(BeNil())

	return tcp
}

var _ = Describe("transport", func() {
	Describe("TCP", func() {
		var (
			ctx context.Context
			tcp *transport.TCP
		)

		BeforeEach(func() {
			ctx = context.Background()
		})

		AfterEach(func() {
			Expect(tcp.Close()).To(Succeed())
		})

		It("listens on the bound address", func() {
			tcp = makeTCPServer(echo, 2)

			conn, err := net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())
			conn.Close()
		})

		It("carries one fragment per line in both directions", func() {
			tcp = makeTCPServer(echo, 1)

			ch := transport.NewTCPChannel(tcp.Addr().String(), nil)
			Expect(ch.Connect(ctx)).To(Succeed())
			defer ch.Disconnect()

			Expect(ch.Send(ctx, []byte(`{"op":"read","type`))).To(Succeed())
			Expect(ch.Send(ctx, []byte(`<END>`))).To(Succeed())

			notifications := ch.Notifications()
			Eventually(notifications).Should(Receive(Equal([]byte(`{"op":"read","type`))))
			Eventually(notifications).Should(Receive(Equal([]byte(`<END>`))))
		})

		It("refuses fragments containing a newline", func() {
			tcp = makeTCPServer(echo, 1)

			ch := transport.NewTCPChannel(tcp.Addr().String(), nil)
			Expect(ch.Connect(ctx)).To(Succeed())
			defer ch.Disconnect()

			Expect(ch.Send(ctx, []byte("a\nb"))).To(MatchError(transport.ErrNewlineInFragment))
		})

		It("closes client notifications when the server goes away", func() {
			tcp = makeTCPServer(echo, 1)

			ch := transport.NewTCPChannel(tcp.Addr().String(), nil)
			Expect(ch.Connect(ctx)).To(Succeed())
			notifications := ch.Notifications()

			Expect(tcp.Close()).To(Succeed())
			Eventually(notifications, 5*time.Second).Should(BeClosed())

			Expect(ch.Send(ctx, []byte("a"))).NotTo(Succeed())
		})

		It("closes notifications on Disconnect()", func() {
			tcp = makeTCPServer(echo, 1)

			ch := transport.NewTCPChannel(tcp.Addr().String(), nil)
			Expect(ch.Connect(ctx)).To(Succeed())
			notifications := ch.Notifications()

			Expect(ch.Disconnect()).To(Succeed())
			Eventually(notifications).Should(BeClosed())
			Expect(ch.Send(ctx, []byte("a"))).To(MatchError(transport.ErrNotConnected))
		})

		It("serves an emulated gateway to a session", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			handler := gateway.NewHandler(store, nil)
			Expect(handler.Seed(ctx)).To(Succeed())

			peripheral := gateway.NewPeripheral(handler, gateway.PeripheralOptions{FragmentDelay: time.Millisecond})
			tcp = makeTCPServer(peripheral.Serve, 1)

			opts := client.DefaultOptions()
			opts.FragmentDelay = 0
			opts.SettleDelay = 0

			session := client.NewSession(transport.NewTCPChannel(tcp.Addr().String(), nil), opts)
			Expect(session.Connect(ctx)).To(Succeed())
			defer session.Close()

			resp, err := session.Do(ctx, protocol.ReadCommand(protocol.TypeLoggingConfig))
			Expect(err).To(Succeed())
			Expect(resp.Get("logging_config").Raw).To(MatchJSON(gateway.DefaultLoggingConfig))
		})
	})
})
