package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for keys that were never set or were deleted.
var ErrNotFound = errors.New("store: key not found")

// Persisted keys. Values are plain strings.
const (
	KeyClientID   = "rhodes_client_id"
	KeyTabID      = "rhodes_tab_id"
	KeyUserToken  = "rhodes_user_token"
	KeyGuestToken = "rhodes_guest_token"
	KeySessionID  = "rhodes_session_id"
	KeyServer     = "rhodes_server"
	KeyUsername   = "rhodes_username"
	KeyVoiceUsed  = "rhodes_voice_used"
)

// Store is durable key-value persistence for client identity and tokens.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
