package protocol_test

import (
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/gwlink/protocol"
)

func collect(f *protocol.Fragmenter) []string {
	var out []string
	for fragment := range f.All() {
		out = append(out, string(fragment))
	}

	return out
}

var documents = []string{
	`{}`,
	`{"a":1}`,
	`{"op":"read","type":"server_config"}`,
	`{"status":"ok","communication":{"mode":"ETH","ip_address":"192.168.1.100"}}`,
	`[1,2,3,{"nested":["x","y"]}]`,
	`{"name":"Température","desc":"ünïcödé 温度"}`,
	`"just a string"`,
}

var _ = Describe("Fragmenter", func() {
	It("rejects fragment sizes below one", func() {
		_, err := protocol.NewFragmenter([]byte(`{}`), 0)
		Expect(err).To(MatchError(protocol.ErrInvalidFragmentSize))
	})

	It("splits into fixed size chunks and ends with the sentinel", func() {
		f, err := protocol.NewFragmenter([]byte(`{"op":"read","type":"server_config"}`), 18)
		Expect(err).To(Succeed())

		Expect(collect(f)).To(Equal([]string{
			`{"op":"read","type`,
			`":"server_config"}`,
			`<END>`,
		}))
	})

	It("sends only the sentinel for an empty payload", func() {
		f, err := protocol.NewFragmenter(nil, 18)
		Expect(err).To(Succeed())

		Expect(f.ContentCount()).To(Equal(0))
		Expect(collect(f)).To(Equal([]string{protocol.Sentinel}))
	})

	It("produces ceil(len/C) content fragments for every size", func() {
		for _, doc := range documents {
			for size := 1; size <= len(doc)+2; size++ {
				f, err := protocol.NewFragmenter([]byte(doc), size)
				Expect(err).To(Succeed())

				fragments := collect(f)
				want := (len(doc) + size - 1) / size

				Expect(f.ContentCount()).To(Equal(want), "doc=%s size=%d", doc, size)
				Expect(fragments).To(HaveLen(want + 1))
				Expect(f.Count()).To(Equal(want + 1))
				Expect(fragments[len(fragments)-1]).To(Equal(protocol.Sentinel))

				for _, fragment := range fragments[:want] {
					Expect(len(fragment)).To(BeNumerically("<=", size))
				}
			}
		}
	})

	It("reassembles to the original document for every size", func() {
		for _, doc := range documents {
			for size := 1; size <= len(doc)+2; size++ {
				f, err := protocol.NewFragmenter([]byte(doc), size)
				Expect(err).To(Succeed())

				r := protocol.NewReassembler(protocol.ReassemblerOptions{})

				var events []protocol.Event
				for fragment := range f.All() {
					if ev, ok := r.Feed(fragment); ok {
						events = append(events, ev)
					}
				}

				Expect(events).To(HaveLen(1), "doc=%s size=%d", doc, size)
				Expect(events[0].Kind).To(Equal(protocol.EventResponse))
				Expect(string(events[0].Response.Raw)).To(Equal(doc))
				Expect(r.State()).To(Equal(protocol.StateIdle))
			}
		}
	})

	It("can be ranged over more than once", func() {
		f, err := protocol.NewFragmenter([]byte(strings.Repeat("x", 40)), 18)
		Expect(err).To(Succeed())

		Expect(collect(f)).To(Equal(collect(f)))
	})

	It("stops early when the consumer does", func() {
		f, err := protocol.NewFragmenter([]byte(strings.Repeat("x", 40)), 18)
		Expect(err).To(Succeed())

		seen := 0
		for range f.All() {
			seen++
			break
		}

		Expect(seen).To(Equal(1))
	})

	It("does not alias the caller's payload", func() {
		payload := []byte(`{"a":1}`)
		f, err := protocol.NewFragmenter(payload, 18)
		Expect(err).To(Succeed())

		payload[1] = 'X'
		Expect(string(f.Payload())).To(Equal(`{"a":1}`))
	})

	Describe("FragmentCommand()", func() {
		It("fragments the compact encoding of the command", func() {
			f, err := protocol.FragmentCommand(protocol.ReadCommand(protocol.TypeServerConfig), 18)
			Expect(err).To(Succeed())
			Expect(string(f.Payload())).To(Equal(`{"op":"read","type":"server_config"}`))
		})

		It("refuses invalid commands", func() {
			_, err := protocol.FragmentCommand(protocol.NewCommand("drop", "tables"), 18)
			Expect(err).To(MatchError(ContainSubstring("unsupported op")))
		})
	})
})
