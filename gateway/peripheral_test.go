package gateway_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/gwlink/gateway"
	"github.com/luma/gwlink/protocol"
	"github.com/luma/gwlink/storage"
	"github.com/luma/gwlink/transport"
)

var _ = Describe("Peripheral", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		store   *storage.InmemoryStore
		handler *gateway.Handler
		pipe    *transport.Pipe
		reasm   *protocol.Reassembler

		served   chan struct{}
		serveErr error
	)

	send := func(fragments ...string) {
		for _, fragment := range fragments {
			Expect(pipe.Controller().Send(ctx, []byte(fragment))).To(Succeed())
		}
	}

	sendCommand := func(raw string) {
		f, err := protocol.NewFragmenter([]byte(raw), protocol.DefaultFragmentSize)
		Expect(err).To(Succeed())

		for frag := range f.All() {
			Expect(pipe.Controller().Send(ctx, frag)).To(Succeed())
		}
	}

	receive := func() protocol.Event {
		timeout := time.After(2 * time.Second)
		notifications := pipe.Controller().Notifications()

		for {
			select {
			case frag, ok := <-notifications:
				Expect(ok).To(BeTrue(), "link closed before a reply arrived")

				if ev, done := reasm.Feed(frag); done {
					return ev
				}

			case <-timeout:
				Fail("timed out waiting for a reply")
				return protocol.Event{}
			}
		}
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		store = storage.NewInmemoryStore()
		handler = gateway.NewHandler(store, nil)
		Expect(handler.Seed(ctx)).To(Succeed())

		pipe = transport.NewPipe(transport.PipeOptions{MaxFragmentSize: protocol.DefaultFragmentSize})
		Expect(pipe.Controller().Connect(ctx)).To(Succeed())

		reasm = protocol.NewReassembler(protocol.ReassemblerOptions{})

		peripheral := gateway.NewPeripheral(handler, gateway.PeripheralOptions{})
		served = make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(served)

			serveErr = peripheral.Serve(ctx, pipe.Peripheral())
		}()
	})

	AfterEach(func() {
		cancel()
		Expect(pipe.Controller().Disconnect()).To(Succeed())
		Eventually(served).Should(BeClosed())
		Expect(store.Close()).To(Succeed())
	})

	It("answers a fragmented command with a fragmented reply", func() {
		sendCommand(`{"op":"read","type":"server_config"}`)

		ev := receive()
		Expect(ev.Kind).To(Equal(protocol.EventResponse))
		Expect(ev.Response.Status()).To(Equal("ok"))
		Expect(ev.Response.Get("server_config.protocol").String()).To(Equal("mqtt"))
	})

	It("reports invalid JSON and keeps serving", func() {
		send(`{"op":`, `<END>`)

		ev := receive()
		Expect(ev.Response.Status()).To(Equal("error"))
		Expect(ev.Response.Message()).To(HavePrefix("Invalid JSON: "))

		sendCommand(`{"op":"read","type":"logging_config"}`)
		Expect(receive().Response.OK()).To(BeTrue())
	})

	It("reports an empty command", func() {
		send(`<END>`)
		Expect(receive().Response.Message()).To(Equal("Invalid JSON: EmptyInput"))
	})

	It("streams data points for the selected device", func() {
		sendCommand(`{"op":"create","type":"device","config":{"device_name":"pump"}}`)
		id := receive().Response.Get("device_id").String()
		Expect(id).NotTo(BeEmpty())

		sendCommand(`{"op":"read","type":"data","device":"` + id + `"}`)
		Expect(receive().Response.Message()).To(Equal("Data streaming started"))

		Expect(store.SetRaw(ctx, "data."+id, []byte(`{"value":42,"device_id":"`+id+`"}`))).To(Succeed())

		ev := receive()
		Expect(ev.Response.IsData()).To(BeTrue())
		Expect(ev.Response.Get("data.value").Int()).To(BeEquivalentTo(42))

		sendCommand(`{"op":"read","type":"data","device":"stop"}`)
		Expect(receive().Response.Message()).To(Equal("Data streaming stopped"))
	})

	It("refuses to stream unknown devices", func() {
		sendCommand(`{"op":"read","type":"data","device":"D000000"}`)
		Expect(receive().Response.Message()).To(Equal("Device not found"))
	})

	It("returns when the link goes down", func() {
		Expect(pipe.Peripheral().Disconnect()).To(Succeed())
		Eventually(served).Should(BeClosed())
		Expect(serveErr).To(BeNil())
	})
})

var _ = Describe("Sampler", func() {
	It("writes one reading per register", func() {
		ctx := context.Background()
		store := storage.NewInmemoryStore()
		defer store.Close()

		handler := gateway.NewHandler(store, nil)
		Expect(handler.Seed(ctx)).To(Succeed())

		created := gjsonBytes(handler.Handle(ctx, mustCommand(`{"op":"create","type":"device","config":{}}`)))
		id := created.Get("device_id").String()
		handler.Handle(ctx, mustCommand(`{"op":"create","type":"register","device_id":"`+id+`","config":{"register_name":"temp","address":3,"data_type":"FLOAT32"}}`))

		updates := store.ListenToUpdates(ctx)
		gateway.NewSampler(handler, time.Second, nil).Sample(ctx, time.Now())

		var update *storage.Update
		Eventually(updates).Should(Receive(&update))
		Expect(update.Key).To(Equal("data." + id))

		point := gjsonBytes(update.Value)
		Expect(point.Get("name").String()).To(Equal("temp"))
		Expect(point.Get("device_id").String()).To(Equal(id))
		Expect(point.Get("value").Exists()).To(BeTrue())
	})
})
