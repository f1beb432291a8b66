package protocol_test

import (
	"bytes"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/velocystream/protocol"
	"github.com/luma/velocystream/vpack"
)

var _ = Describe("Assembler", func() {
	var assembler *protocol.Assembler

	split := func(version protocol.ProtocolVersion, max int, msg *protocol.Message) []protocol.Chunk {
		w, err := protocol.NewChunkWriter(version, max)
		Expect(err).To(Succeed())

		chunks, err := w.Split(msg.ID, msg.Bytes())
		Expect(err).To(Succeed())
		return chunks
	}

	feedAll := func(chunks []protocol.Chunk) *protocol.Message {
		var done *protocol.Message
		for i, c := range chunks {
			msg, err := assembler.Feed(c)
			Expect(err).To(Succeed())

			if i < len(chunks)-1 {
				Expect(msg).To(BeNil())
			} else {
				done = msg
			}
		}

		return done
	}

	BeforeEach(func() {
		assembler = protocol.NewAssembler(protocol.VersionCurrent, vpack.MsgpackValidator{}, protocol.DefaultLimits())
	})

	It("reassembles what the writer split, for both versions", func() {
		for _, version := range []protocol.ProtocolVersion{protocol.VersionLegacy, protocol.VersionCurrent} {
			assembler = protocol.NewAssembler(version, vpack.MsgpackValidator{}, protocol.DefaultLimits())

			for _, max := range []int{25, 50, 100, 1000, 64 * 1024} {
				for _, sizes := range [][]int{{}, {2}, {50, 60}, {3, 200, 17, 90}} {
					sent := testMessage(99, sizes...)

					received := feedAll(split(version, max, sent))
					Expect(received).NotTo(BeNil())
					Expect(received.ID).To(Equal(sent.ID))
					Expect(received.Header).To(Equal(sent.Header))
					Expect(received.Payloads).To(HaveLen(len(sent.Payloads)))
					for i := range sent.Payloads {
						Expect(received.Payloads[i]).To(Equal(sent.Payloads[i]))
					}
					Expect(assembler.Pending()).To(BeZero())
				}
			}
		}
	})

	It("keeps interleaved messages apart", func() {
		a := split(protocol.VersionCurrent, 40, testMessage(1, 100))
		b := split(protocol.VersionCurrent, 40, testMessage(2, 30, 70))
		Expect(len(a)).To(BeNumerically(">", 2))
		Expect(len(b)).To(BeNumerically(">", 2))

		var done []*protocol.Message
		for i := 0; i < len(a) || i < len(b); i++ {
			for _, chunks := range [][]protocol.Chunk{a, b} {
				if i >= len(chunks) {
					continue
				}

				msg, err := assembler.Feed(chunks[i])
				Expect(err).To(Succeed())
				if msg != nil {
					done = append(done, msg)
				}
			}
		}

		Expect(done).To(HaveLen(2))
		for _, msg := range done {
			if msg.ID == 1 {
				Expect(msg.Payloads).To(HaveLen(1))
			} else {
				Expect(msg.Payloads).To(HaveLen(2))
			}
		}
	})

	It("fails fatally on a follow-up chunk for an unknown message", func() {
		chunks := split(protocol.VersionCurrent, 40, testMessage(1, 100))

		_, err := assembler.Feed(chunks[1])
		Expect(errors.Is(err, protocol.ErrUnknownMessageID)).To(BeTrue())
		Expect(protocol.IsFatal(err)).To(BeTrue())
	})

	It("fails fatally on a second first chunk for a message in progress", func() {
		chunks := split(protocol.VersionCurrent, 40, testMessage(1, 100))

		_, err := assembler.Feed(chunks[0])
		Expect(err).To(Succeed())

		_, err = assembler.Feed(chunks[0])
		Expect(errors.Is(err, protocol.ErrDuplicateFirstChunk)).To(BeTrue())
		Expect(protocol.IsFatal(err)).To(BeTrue())
	})

	It("fails fatally when a message delivers more than it declared", func() {
		_, err := assembler.Feed(protocol.Chunk{
			Header: protocol.ChunkHeader{
				TotalLength:      24 + 10,
				ChunkX:           protocol.ChunkX(true, 1),
				MessageID:        1,
				MessageLength:    4,
				HasMessageLength: true,
			},
			Payload: sequence(10),
		})
		Expect(errors.Is(err, protocol.ErrOverLongMessage)).To(BeTrue())
		Expect(protocol.IsFatal(err)).To(BeTrue())
	})

	It("fails fatally when a declared length is over the limit", func() {
		assembler = protocol.NewAssembler(protocol.VersionCurrent, vpack.MsgpackValidator{},
			protocol.Limits{MaxMessageBytes: 100})

		chunks := split(protocol.VersionCurrent, 64, testMessage(1, 200))
		_, err := assembler.Feed(chunks[0])
		Expect(errors.Is(err, protocol.ErrOverLongMessage)).To(BeTrue())
	})

	It("fails fatally when follow-up chunks skip a sequence number", func() {
		chunks := split(protocol.VersionCurrent, 40, testMessage(1, 100))
		Expect(len(chunks)).To(BeNumerically(">", 2))

		_, err := assembler.Feed(chunks[0])
		Expect(err).To(Succeed())

		_, err = assembler.Feed(chunks[2])
		Expect(errors.Is(err, protocol.ErrMalformedHeader)).To(BeTrue())
	})

	It("fails fatally on more follow-up chunks than the first chunk declared", func() {
		chunks := split(protocol.VersionCurrent, 40, testMessage(1, 100))
		Expect(len(chunks)).To(BeNumerically(">", 2))

		// Claim one chunk fewer than the writer produced
		first := chunks[0]
		first.Header.ChunkX = protocol.ChunkX(true, uint32(len(chunks)-1))

		_, err := assembler.Feed(first)
		Expect(err).To(Succeed())

		for _, c := range chunks[1 : len(chunks)-1] {
			_, err = assembler.Feed(c)
			Expect(err).To(Succeed())
		}

		_, err = assembler.Feed(chunks[len(chunks)-1])
		Expect(errors.Is(err, protocol.ErrMalformedHeader)).To(BeTrue())
		Expect(protocol.IsFatal(err)).To(BeTrue())
	})

	It("fails fatally when a message completes in fewer chunks than declared", func() {
		_, err := assembler.Feed(protocol.Chunk{
			Header: protocol.ChunkHeader{
				TotalLength:      24 + 1,
				ChunkX:           protocol.ChunkX(true, 3),
				MessageID:        1,
				MessageLength:    1,
				HasMessageLength: true,
			},
			Payload: []byte{0xc0},
		})
		Expect(errors.Is(err, protocol.ErrMalformedHeader)).To(BeTrue())
		Expect(protocol.IsFatal(err)).To(BeTrue())
		Expect(assembler.Pending()).To(BeZero())
	})

	It("reports a deeply nested header as an invalid message", func() {
		// [[[[...nil...]]]] as the header, far deeper than a value may nest
		body := append(bytes.Repeat([]byte{0x91}, 1<<20), 0xc0)

		w, err := protocol.NewChunkWriter(protocol.VersionCurrent, protocol.DefaultMaxChunkBytes)
		Expect(err).To(Succeed())
		chunks, err := w.Split(4, body)
		Expect(err).To(Succeed())

		var msg *protocol.Message
		for _, c := range chunks[:len(chunks)-1] {
			msg, err = assembler.Feed(c)
			Expect(err).To(Succeed())
			Expect(msg).To(BeNil())
		}

		_, err = assembler.Feed(chunks[len(chunks)-1])
		Expect(errors.Is(err, protocol.ErrInvalidEncoding)).To(BeTrue())
		Expect(errors.Is(err, vpack.ErrTooDeep)).To(BeTrue())
		Expect(protocol.IsFatal(err)).To(BeFalse())
		Expect(assembler.Pending()).To(BeZero())
	})

	It("isolates an invalid message from the others in flight", func() {
		pending := split(protocol.VersionCurrent, 40, testMessage(1, 100))
		_, err := assembler.Feed(pending[0])
		Expect(err).To(Succeed())

		// A valid header followed by a bin8 value that claims 200 bytes.
		bad := testMessage(2)
		body := append(append([]byte{}, bad.Header...), 0xc4, 200, 1, 2, 3)

		w, err := protocol.NewChunkWriter(protocol.VersionCurrent, 1000)
		Expect(err).To(Succeed())
		badChunks, err := w.Split(2, body)
		Expect(err).To(Succeed())

		_, err = assembler.Feed(badChunks[0])
		Expect(errors.Is(err, protocol.ErrInvalidEncoding)).To(BeTrue())
		Expect(protocol.IsFatal(err)).To(BeFalse())
		Expect(assembler.Pending()).To(Equal(1))

		received := feedAll(pending[1:])
		Expect(received).NotTo(BeNil())
		Expect(received.ID).To(Equal(uint64(1)))
	})

	It("completes a legacy single chunk message straight away", func() {
		assembler = protocol.NewAssembler(protocol.VersionLegacy, vpack.MsgpackValidator{}, protocol.DefaultLimits())

		chunks := split(protocol.VersionLegacy, 1000, testMessage(8, 30))
		Expect(chunks).To(HaveLen(1))
		Expect(chunks[0].Header.HasMessageLength).To(BeFalse())

		msg, err := assembler.Feed(chunks[0])
		Expect(err).To(Succeed())
		Expect(msg).NotTo(BeNil())
		Expect(msg.Payloads).To(HaveLen(1))
	})

	It("drops everything in progress on Reset()", func() {
		for id := uint64(1); id <= 3; id++ {
			chunks := split(protocol.VersionCurrent, 40, testMessage(id, 100))
			_, err := assembler.Feed(chunks[0])
			Expect(err).To(Succeed())
		}
		Expect(assembler.Pending()).To(Equal(3))

		assembler.Reset()
		Expect(assembler.Pending()).To(BeZero())
	})
})
