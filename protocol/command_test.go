package protocol_test

import (
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/gwlink/protocol"
)

var _ = Describe("Command", func() {
	Describe("Marshal()", func() {
		It("writes compact JSON in a fixed key order", func() {
			raw, err := protocol.ReadCommand(protocol.TypeServerConfig).Marshal()

			Expect(err).To(Succeed())
			Expect(string(raw)).To(Equal(`{"op":"read","type":"server_config"}`))
		})

		It("places identifiers before the config", func() {
			cmd, err := protocol.CreateRegisterCommand("DEV42", map[string]interface{}{"name": "temp", "address": 40001})
			Expect(err).To(Succeed())

			raw, err := cmd.Marshal()
			Expect(err).To(Succeed())
			Expect(string(raw)).To(Equal(`{"op":"create","type":"register","device_id":"DEV42","config":{"address":40001,"name":"temp"}}`))
		})

		It("does not escape HTML characters", func() {
			cmd, err := protocol.UpdateCommand(protocol.TypeServerConfig, map[string]string{"url": "a<b>&c"})
			Expect(err).To(Succeed())

			raw, err := cmd.Marshal()
			Expect(err).To(Succeed())
			Expect(string(raw)).To(ContainSubstring(`"a<b>&c"`))
		})

		It("compacts pre-encoded config", func() {
			cmd, err := protocol.UpdateCommand(protocol.TypeLoggingConfig, `{ "logging_interval" : "5m" }`)
			Expect(err).To(Succeed())

			raw, err := cmd.Marshal()
			Expect(err).To(Succeed())
			Expect(string(raw)).To(Equal(`{"op":"update","type":"logging_config","config":{"logging_interval":"5m"}}`))
		})

		It("encodes stream control commands", func() {
			raw, err := protocol.StreamCommand(protocol.StreamStop).Marshal()

			Expect(err).To(Succeed())
			Expect(string(raw)).To(Equal(`{"op":"read","type":"data","device":"stop"}`))
		})

		It("encodes register deletion", func() {
			raw, err := protocol.DeleteRegisterCommand("D1A2B3C", "R0F0F0F").Marshal()

			Expect(err).To(Succeed())
			Expect(string(raw)).To(Equal(`{"op":"delete","type":"register","device_id":"D1A2B3C","register_id":"R0F0F0F"}`))
		})

		It("refuses invalid commands", func() {
			_, err := protocol.NewCommand("patch", protocol.TypeDevice).Marshal()
			Expect(errors.Is(err, protocol.ErrInvalidCommand)).To(BeTrue())
		})
	})

	Describe("Validate()", func() {
		It("requires a type", func() {
			err := protocol.NewCommand(protocol.OpRead, "").Validate()
			Expect(err).To(MatchError(ContainSubstring("missing type")))
		})

		It("requires a config on update and create", func() {
			err := protocol.NewCommand(protocol.OpUpdate, protocol.TypeServerConfig).Validate()
			Expect(errors.Is(err, protocol.ErrInvalidCommand)).To(BeTrue())

			err = protocol.NewCommand(protocol.OpCreate, protocol.TypeDevice).Validate()
			Expect(errors.Is(err, protocol.ErrInvalidCommand)).To(BeTrue())
		})

		It("requires a device_id for device scoped reads", func() {
			err := protocol.ReadCommand(protocol.TypeRegisters).Validate()
			Expect(err).To(MatchError(ContainSubstring("device_id")))

			Expect(protocol.ReadCommand(protocol.TypeRegisters).WithDeviceID("D000001").Validate()).To(Succeed())
		})

		It("requires both identifiers to delete a register", func() {
			err := protocol.DeleteRegisterCommand("D000001", "").Validate()
			Expect(err).To(MatchError(ContainSubstring("register_id")))
		})

		It("passes through types it does not know", func() {
			Expect(protocol.ReadCommand("firmware").Validate()).To(Succeed())
		})
	})

	Describe("WithConfig()", func() {
		It("rejects configs that are not objects", func() {
			_, err := protocol.NewCommand(protocol.OpUpdate, protocol.TypeServerConfig).WithConfig([]int{1, 2})
			Expect(errors.Is(err, protocol.ErrInvalidCommand)).To(BeTrue())
		})

		It("rejects malformed encoded configs", func() {
			_, err := protocol.NewCommand(protocol.OpUpdate, protocol.TypeServerConfig).WithConfig(`{"a":`)
			Expect(errors.Is(err, protocol.ErrInvalidCommand)).To(BeTrue())
		})

		It("clears the config on nil", func() {
			cmd, err := protocol.CreateDeviceCommand(json.RawMessage(`{"name":"pump"}`))
			Expect(err).To(Succeed())

			cmd, err = cmd.WithConfig(nil)
			Expect(err).To(Succeed())
			Expect(cmd.Config).To(BeEmpty())
		})

		It("leaves the receiver untouched", func() {
			base := protocol.NewCommand(protocol.OpCreate, protocol.TypeDevice)
			_, err := base.WithConfig(map[string]string{"name": "pump"})

			Expect(err).To(Succeed())
			Expect(base.Config).To(BeEmpty())
		})
	})

	Describe("Dependencies()", func() {
		It("lists device_id for register creation only", func() {
			cmd, _ := protocol.CreateRegisterCommand("", `{"name":"temp"}`)
			Expect(cmd.Dependencies()).To(ConsistOf(protocol.FieldDeviceID))

			Expect(protocol.ReadCommand(protocol.TypeDevices).Dependencies()).To(BeEmpty())
		})
	})

	Describe("ParseCommand()", func() {
		It("decodes every field", func() {
			cmd, err := protocol.ParseCommand([]byte(`{"op":"create","type":"register","device_id":"D1","config": {"name":"t"}}`))

			Expect(err).To(Succeed())
			Expect(cmd.Op).To(Equal(protocol.OpCreate))
			Expect(cmd.Type).To(Equal(protocol.TypeRegister))
			Expect(cmd.DeviceID).To(Equal("D1"))
			Expect(string(cmd.Config)).To(Equal(`{"name":"t"}`))
		})

		It("returns a ParseError for invalid JSON", func() {
			_, err := protocol.ParseCommand([]byte(`{"op":`))

			var parseErr *protocol.ParseError
			Expect(errors.As(err, &parseErr)).To(BeTrue())
		})

		It("refuses documents that are not objects", func() {
			_, err := protocol.ParseCommand([]byte(`[1,2]`))
			Expect(errors.Is(err, protocol.ErrInvalidCommand)).To(BeTrue())
		})

		It("round trips a marshalled command", func() {
			in, err := protocol.CreateRegisterCommand("D1", map[string]int{"address": 3})
			Expect(err).To(Succeed())

			raw, err := in.Marshal()
			Expect(err).To(Succeed())

			out, err := protocol.ParseCommand(raw)
			Expect(err).To(Succeed())
			Expect(out).To(Equal(in))
		})
	})
})

var _ = Describe("Response", func() {
	It("rejects invalid JSON", func() {
		_, err := protocol.NewResponse([]byte(`{"status":`))
		Expect(errors.Is(err, protocol.ErrMalformedResponse)).To(BeTrue())
	})

	It("reports gateway errors", func() {
		resp, err := protocol.NewResponse([]byte(`{"status":"error","message":"Device not found"}`))
		Expect(err).To(Succeed())

		var remote *protocol.RemoteError
		Expect(errors.As(resp.ErrorOrNil(), &remote)).To(BeTrue())
		Expect(remote.Message).To(Equal("Device not found"))
		Expect(resp.OK()).To(BeFalse())
	})

	It("exposes the body as a mapping", func() {
		resp, err := protocol.NewResponse([]byte(`{"status":"ok","device_id":"DEV42"}`))
		Expect(err).To(Succeed())
		Expect(resp.ErrorOrNil()).To(Succeed())

		m, ok := resp.Map()
		Expect(ok).To(BeTrue())
		Expect(m).To(HaveKeyWithValue("device_id", "DEV42"))
	})

	It("accepts non-object documents but does not map them", func() {
		resp, err := protocol.NewResponse([]byte(`[1]`))
		Expect(err).To(Succeed())

		_, ok := resp.Map()
		Expect(ok).To(BeFalse())
	})

	It("recognizes data pushes", func() {
		resp, err := protocol.NewResponse([]byte(`{"status":"data","data":{"value":1}}`))
		Expect(err).To(Succeed())
		Expect(resp.IsData()).To(BeTrue())
	})
})
