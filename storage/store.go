package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("document not found")

// Store holds JSON documents addressed by key. Nested keys use the gjson
// path syntax, so "users.alice" is the "alice" member of the "users"
// document.
type Store interface {
	Set(ctx context.Context, key string, value interface{}) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error

	Restore(values []byte) error
	Backup() ([]byte, error)

	Close() error
}
