package repository

import "context"

// StateRepository defines the key/value persistence the launcher state sits on.
// Values are opaque to the repository; callers encode/decode JSON.
type StateRepository interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
