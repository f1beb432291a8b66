package protocol_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/velocystream/protocol"
	"github.com/luma/velocystream/vpack"
)

var _ = Describe("Request and response headers", func() {
	Describe("DecodeRequest()", func() {
		It("decodes what Request.Message() encodes", func() {
			req := protocol.NewRequest(protocol.Put, "/_api/document/foo", vpack.MustMarshal("bar"))
			req.ID = 12
			req.Params["waitForSync"] = "true"
			req.Meta["accept"] = "application/x-msgpack"

			msg, err := req.Message()
			Expect(err).To(Succeed())
			Expect(msg.ID).To(Equal(uint64(12)))

			decoded, err := protocol.DecodeRequest(msg)
			Expect(err).To(Succeed())
			Expect(decoded).To(Equal(req))
		})

		It("rejects an unsupported version before anything else", func() {
			header := vpack.MustMarshal([]interface{}{2, 1, 17})
			_, err := protocol.DecodeRequest(protocol.NewMessage(1, header))
			Expect(errors.Is(err, protocol.ErrUnsupportedVersion)).To(BeTrue())
			Expect(protocol.IsFatal(err)).To(BeFalse())
		})

		It("rejects a header that is not a request", func() {
			header := vpack.MustMarshal([]interface{}{1, 2, 200, map[string]string{}})
			_, err := protocol.DecodeRequest(protocol.NewMessage(1, header))
			Expect(errors.Is(err, protocol.ErrUnexpectedRequestMarker)).To(BeTrue())
		})

		It("rejects a header that is not an array", func() {
			_, err := protocol.DecodeRequest(protocol.NewMessage(1, vpack.MustMarshal("hello")))
			Expect(errors.Is(err, protocol.ErrInvalidEncoding)).To(BeTrue())
		})

		It("rejects a request header with missing fields", func() {
			header := vpack.MustMarshal([]interface{}{1, 1, "_system", 1})
			_, err := protocol.DecodeRequest(protocol.NewMessage(1, header))
			Expect(errors.Is(err, protocol.ErrInvalidEncoding)).To(BeTrue())
		})

		It("rejects a path that is not a string", func() {
			header := vpack.MustMarshal([]interface{}{1, 1, "_system", 1, 5, map[string]string{}, map[string]string{}})
			_, err := protocol.DecodeRequest(protocol.NewMessage(1, header))
			Expect(errors.Is(err, protocol.ErrInvalidEncoding)).To(BeTrue())
		})
	})

	Describe("DecodeResponse()", func() {
		It("decodes what Response.Message() encodes", func() {
			resp := protocol.NewResponse(3, 201, vpack.MustMarshal(map[string]interface{}{"_key": "foo"}))
			resp.Meta["etag"] = "1"

			msg, err := resp.Message()
			Expect(err).To(Succeed())

			decoded, err := protocol.DecodeResponse(msg)
			Expect(err).To(Succeed())
			Expect(decoded).To(Equal(resp))
			Expect(decoded.ErrorOrNil()).To(Succeed())
		})

		It("reports the body length of a response sent without its body", func() {
			body := vpack.MustMarshal("some document body")
			resp := protocol.NewResponse(3, 200, body)
			resp.GenerateBody = false

			msg, err := resp.Message()
			Expect(err).To(Succeed())
			Expect(msg.GenerateBody).To(BeFalse())
			Expect(msg.Bytes()).To(Equal([]byte(msg.Header)))

			decoded, err := protocol.DecodeResponse(protocol.NewMessage(3, msg.Header))
			Expect(err).To(Succeed())
			Expect(decoded.Payloads).To(BeEmpty())
			Expect(decoded.ContentLength()).To(Equal(body.ByteSize()))
		})

		It("rejects a request header", func() {
			msg, err := protocol.NewRequest(protocol.Get, "/").Message()
			Expect(err).To(Succeed())

			_, err = protocol.DecodeResponse(msg)
			Expect(errors.Is(err, protocol.ErrUnexpectedRequestMarker)).To(BeTrue())
		})

		It("turns error codes into errors", func() {
			resp := protocol.NewResponse(3, 404, vpack.MustMarshal(map[string]interface{}{
				"error":        true,
				"errorMessage": "document not found",
			}))

			err := resp.ErrorOrNil()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("document not found"))
		})
	})

	Describe("RequestType", func() {
		It("parses verbs case insensitively", func() {
			Expect(protocol.ParseRequestType("head")).To(Equal(protocol.Head))
			Expect(protocol.Delete.String()).To(Equal("DELETE"))

			_, err := protocol.ParseRequestType("TRACE")
			Expect(err).To(HaveOccurred())
		})
	})
})
