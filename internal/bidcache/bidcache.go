// Package bidcache keeps the markup and price of recent bids so a later win
// notification can be answered. Entries expire after the bid TTL.
package bidcache

import (
	"context"
	"errors"
	"time"
)

const (
	FieldAdM   = "ADM"
	FieldPrice = "PRICE"
)

var ErrNotFound = errors.New("bid not found")

type Cache interface {
	Put(ctx context.Context, id string, fields map[string]string, ttl time.Duration) error
	// Get returns ErrNotFound once the entry has expired or was deleted.
	Get(ctx context.Context, id string) (map[string]string, error)
	// Take is Get followed by Delete as one step: of any number of
	// concurrent callers for the same id, at most one gets the entry.
	Take(ctx context.Context, id string) (map[string]string, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
