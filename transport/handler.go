package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/velocystream/internal/meta"
	"github.com/luma/velocystream/protocol"
	"github.com/luma/velocystream/storage"
	"github.com/luma/velocystream/vpack"
)

// Handler answers one request. It may be called from many connections at
// once. The returned response's ID is overwritten with the request's.
type Handler interface {
	ServeVST(ctx context.Context, req *protocol.Request) *protocol.Response
}

type HandlerFunc func(ctx context.Context, req *protocol.Request) *protocol.Response

func (f HandlerFunc) ServeVST(ctx context.Context, req *protocol.Request) *protocol.Response {
	return f(ctx, req)
}

// DocumentHandler serves documents out of a storage.Store.
//
//	GET|HEAD        /_api/version
//	GET|HEAD        /_api/document/<key>
//	PUT|POST        /_api/document/<key>   one payload, the document
//	DELETE          /_api/document/<key>
//
// Slashes in <key> address nested documents.
type DocumentHandler struct {
	Store storage.Store
	Log   *zap.Logger
}

func NewDocumentHandler(store storage.Store, log *zap.Logger) *DocumentHandler {
	return &DocumentHandler{Store: store, Log: log}
}

func (d *DocumentHandler) ServeVST(ctx context.Context, req *protocol.Request) *protocol.Response {
	switch {
	case req.Path == protocol.PathVersion:
		if req.RequestType != protocol.Get && req.RequestType != protocol.Head {
			return ErrorResponse(req.ID, http.StatusMethodNotAllowed, "method not allowed")
		}

		return protocol.NewResponse(req.ID, http.StatusOK, vpack.MustMarshal(map[string]string{
			"server":  "velocystream",
			"version": meta.Version,
		}))

	case strings.HasPrefix(req.Path, protocol.PathDocument):
		key := strings.ReplaceAll(strings.Trim(strings.TrimPrefix(req.Path, protocol.PathDocument), "/"), "/", ".")
		if key == "" {
			return ErrorResponse(req.ID, http.StatusBadRequest, "missing document key")
		}

		return d.serveDocument(ctx, req, key)

	default:
		return ErrorResponse(req.ID, http.StatusNotFound, "unknown path "+req.Path)
	}
}

func (d *DocumentHandler) serveDocument(ctx context.Context, req *protocol.Request, key string) *protocol.Response {
	log := d.Log.With(zap.Uint64("messageID", req.ID), zap.String("key", key))

	switch req.RequestType {
	case protocol.Get, protocol.Head:
		raw, err := d.Store.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrorResponse(req.ID, http.StatusNotFound, "document not found")
		}
		if err != nil {
			log.Warn("Failed to get document", zap.Error(err))
			return ErrorResponse(req.ID, http.StatusInternalServerError, err.Error())
		}

		body, err := vpack.Marshal(gjson.ParseBytes(raw).Value())
		if err != nil {
			log.Warn("Failed to encode document", zap.Error(err))
			return ErrorResponse(req.ID, http.StatusInternalServerError, err.Error())
		}

		return protocol.NewResponse(req.ID, http.StatusOK, body)

	case protocol.Put, protocol.Post:
		if len(req.Payloads) != 1 {
			return ErrorResponse(req.ID, http.StatusBadRequest, "expected exactly one document")
		}

		doc, err := req.Payloads[0].Interface()
		if err != nil {
			return ErrorResponse(req.ID, http.StatusBadRequest, err.Error())
		}

		if err := d.Store.Set(ctx, key, doc); err != nil {
			log.Warn("Failed to set document", zap.Error(err))
			return ErrorResponse(req.ID, http.StatusInternalServerError, err.Error())
		}

		code := http.StatusOK
		if req.RequestType == protocol.Post {
			code = http.StatusCreated
		}

		return protocol.NewResponse(req.ID, code, vpack.MustMarshal(map[string]string{"_key": key}))

	case protocol.Delete:
		err := d.Store.Delete(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrorResponse(req.ID, http.StatusNotFound, "document not found")
		}
		if err != nil {
			log.Warn("Failed to delete document", zap.Error(err))
			return ErrorResponse(req.ID, http.StatusInternalServerError, err.Error())
		}

		return protocol.NewResponse(req.ID, http.StatusOK, vpack.MustMarshal(map[string]string{"_key": key}))

	default:
		return ErrorResponse(req.ID, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// ErrorResponse builds a response with an error document as its payload.
func ErrorResponse(id uint64, code int, message string) *protocol.Response {
	return protocol.NewResponse(id, code, vpack.MustMarshal(map[string]interface{}{
		"error":        true,
		"code":         code,
		"errorMessage": message,
	}))
}

var _ Handler = (*DocumentHandler)(nil)
