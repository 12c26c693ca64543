package store

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"
)

// Identity is the persisted client identity loaded at startup.
type Identity struct {
	ClientID   string
	TabID      string
	UserToken  string
	GuestToken string
	SessionID  string
	Server     string
	Username   string
}

// LoadIdentity reads the persisted identity. The client id is generated and
// stored on first use; the tab id is fresh for every process.
func LoadIdentity(ctx context.Context, s Store) (Identity, error) {
	id := Identity{
		UserToken:  get(ctx, s, KeyUserToken),
		GuestToken: get(ctx, s, KeyGuestToken),
		SessionID:  get(ctx, s, KeySessionID),
		Server:     get(ctx, s, KeyServer),
		Username:   get(ctx, s, KeyUsername),
	}

	id.ClientID = get(ctx, s, KeyClientID)
	if id.ClientID == "" {
		id.ClientID = uuid.NewString()
		if err := s.Set(ctx, KeyClientID, id.ClientID); err != nil {
			return Identity{}, err
		}
	}
	id.TabID = "tab_" + uuid.NewString()
	if err := s.Set(ctx, KeyTabID, id.TabID); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Persist writes value under key, deleting the key when value is empty.
// Failures are logged; persistence is never fatal to the caller.
func Persist(ctx context.Context, s Store, key, value string) {
	if s == nil {
		return
	}
	var err error
	if strings.TrimSpace(value) == "" {
		err = s.Delete(ctx, key)
	} else {
		err = s.Set(ctx, key, value)
	}
	if err != nil {
		log.Printf("[store] persist %s failed: %v", key, err)
	}
}

func get(ctx context.Context, s Store, key string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("[store] read %s failed: %v", key, err)
		}
		return ""
	}
	return v
}
