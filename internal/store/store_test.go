package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, KeyUserToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.Set(ctx, KeyUserToken, "tok_1234567890"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := s.Get(ctx, KeyUserToken)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "tok_1234567890" {
		t.Fatalf("Get() = %q, want %q", got, "tok_1234567890")
	}
	if err := s.Delete(ctx, KeyUserToken); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, KeyUserToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(deleted) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStoreRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	exerciseStore(t, s)

	ctx := context.Background()
	if err := s.Set(ctx, KeySessionID, "sess_abc"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if got, _ := reopened.Get(ctx, KeySessionID); got != "sess_abc" {
		t.Fatalf("reopened Get() = %q, want %q", got, "sess_abc")
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, "test:")
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)

	if err := s.Set(context.Background(), KeyServer, "wss://example/ws"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, err := mr.Get("test:" + KeyServer); err != nil || got != "wss://example/ws" {
		t.Fatalf("raw redis value = %q, %v; want prefixed key", got, err)
	}
}

type failingStore struct {
	*MemoryStore
	fail bool
}

func (f *failingStore) Get(ctx context.Context, key string) (string, error) {
	if f.fail {
		return "", errors.New("disk gone")
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *failingStore) Set(ctx context.Context, key, value string) error {
	if f.fail {
		return errors.New("disk gone")
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func TestDegradingFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	durable := &failingStore{MemoryStore: NewMemoryStore()}
	d := NewDegrading(durable)

	if err := d.Set(ctx, KeyClientID, "client-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	durable.fail = true

	if err := d.Set(ctx, KeyUsername, "ada"); err != nil {
		t.Fatalf("Set() after failure error = %v, want nil", err)
	}
	if !d.Degraded() {
		t.Fatalf("Degraded() = false, want true")
	}
	if got, err := d.Get(ctx, KeyClientID); err != nil || got != "client-1" {
		t.Fatalf("Get(client) = %q, %v; want mirrored value", got, err)
	}
	if got, err := d.Get(ctx, KeyUsername); err != nil || got != "ada" {
		t.Fatalf("Get(username) = %q, %v; want %q", got, err, "ada")
	}
}

func TestOpenFallsBackToMemoryWhenBackendUnavailable(t *testing.T) {
	s := Open(context.Background(), Options{Backend: "redis"})
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("Open(redis without addr) = %T, want *MemoryStore", s)
	}
}

func TestLoadIdentityGeneratesStableClientID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, err := LoadIdentity(ctx, s)
	if err != nil {
		t.Fatalf("LoadIdentity() error = %v", err)
	}
	second, err := LoadIdentity(ctx, s)
	if err != nil {
		t.Fatalf("LoadIdentity() error = %v", err)
	}
	if first.ClientID == "" || first.ClientID != second.ClientID {
		t.Fatalf("ClientID = %q then %q, want stable non-empty", first.ClientID, second.ClientID)
	}
	if first.TabID == second.TabID {
		t.Fatalf("TabID reused across loads: %q", first.TabID)
	}
}

func TestPersistDeletesEmptyValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	Persist(ctx, s, KeySessionID, "sess_1")
	Persist(ctx, s, KeySessionID, "")
	if _, err := s.Get(ctx, KeySessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}
