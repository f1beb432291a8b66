package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/luma/velocystream/protocol"
	"github.com/luma/velocystream/vpack"
)

func documentPath(key string) string {
	return protocol.PathDocument + strings.TrimPrefix(key, "/")
}

// Get fetches the document stored under key.
func (c *Conn) Get(ctx context.Context, key string) (vpack.Slice, error) {
	resp, err := c.Do(ctx, protocol.NewRequest(protocol.Get, documentPath(key)))
	if err != nil {
		return nil, err
	}

	if err := resp.ErrorOrNil(); err != nil {
		return nil, err
	}

	if len(resp.Payloads) != 1 {
		return nil, fmt.Errorf("get %s: expected one document, got %d", key, len(resp.Payloads))
	}

	return resp.Payloads[0], nil
}

// Head returns the size of the document stored under key without fetching it.
func (c *Conn) Head(ctx context.Context, key string) (int, error) {
	resp, err := c.Do(ctx, protocol.NewRequest(protocol.Head, documentPath(key)))
	if err != nil {
		return 0, err
	}

	if err := resp.ErrorOrNil(); err != nil {
		return 0, err
	}

	return resp.ContentLength(), nil
}

// Put stores doc under key.
func (c *Conn) Put(ctx context.Context, key string, doc interface{}) error {
	body, err := vpack.Marshal(doc)
	if err != nil {
		return err
	}

	resp, err := c.Do(ctx, protocol.NewRequest(protocol.Put, documentPath(key), body))
	if err != nil {
		return err
	}

	return resp.ErrorOrNil()
}

// Delete removes the document stored under key.
func (c *Conn) Delete(ctx context.Context, key string) error {
	resp, err := c.Do(ctx, protocol.NewRequest(protocol.Delete, documentPath(key)))
	if err != nil {
		return err
	}

	return resp.ErrorOrNil()
}

// Version asks the server for its version.
func (c *Conn) Version(ctx context.Context) (string, error) {
	resp, err := c.Do(ctx, protocol.NewRequest(protocol.Get, protocol.PathVersion))
	if err != nil {
		return "", err
	}

	if err := resp.ErrorOrNil(); err != nil {
		return "", err
	}

	var body struct {
		Server  string `msgpack:"server"`
		Version string `msgpack:"version"`
	}
	if len(resp.Payloads) == 0 {
		return "", fmt.Errorf("version: empty response")
	}
	if err := resp.Payloads[0].Decode(&body); err != nil {
		return "", err
	}

	return body.Version, nil
}
